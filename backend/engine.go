package backend

import (
	"context"

	"pontoon/config"
	"pontoon/errors"
	"pontoon/tools"
)

// ChatEngine opens conversations against the configured model providers.
type ChatEngine struct {
	cfg *config.Config
}

func NewChatEngine(cfg *config.Config) *ChatEngine {
	return &ChatEngine{cfg: cfg}
}

// OpenConversation builds the provider client and tool surface for one
// session: the filesystem relay tools, the command executor, and any
// configured MCP servers.
func (e *ChatEngine) OpenConversation(ctx context.Context, sc SessionConfig) (Conversation, error) {
	client, err := e.newChatClient(ctx, sc.Provider, sc.Model)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	var conns []*tools.MCPConn
	closeAll := func() {
		for _, c := range conns {
			c.Close()
		}
	}

	if sc.RelayURL != "" {
		conn, err := tools.ConnectRelay(ctx, sc.RelayURL, sc.RelaySession)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
		for _, t := range conn.Tools() {
			registry.Register(t)
		}
	}

	registry.Register(tools.NewExecCommandTool(e.cfg.AllowedCommands))
	registry.Register(tools.PlanTool{})

	for _, srv := range sc.MCPServers {
		conn, err := tools.ConnectCommand(ctx, srv.Name, srv.Command, srv.Args)
		if err != nil {
			closeAll()
			return nil, err
		}
		conns = append(conns, conn)
		for _, t := range conn.Tools() {
			registry.Register(t)
		}
	}

	return newChatConversation(client, sc, registry, conns), nil
}

func (e *ChatEngine) newChatClient(ctx context.Context, provider, model string) (ChatClient, error) {
	p, ok := e.cfg.ProviderByID(provider)
	if !ok {
		return nil, errors.NewKind(errors.KindInvalidModel, "provider %q is not configured", provider)
	}

	switch p.Kind {
	case "anthropic", "":
		return NewAnthropicClient(model, p.APIKeyEnv, p.BaseURL)
	case "openai":
		return NewOpenAIClient(model, p.APIKeyEnv, p.BaseURL)
	case "gemini":
		return NewGeminiClient(ctx, model, p.APIKeyEnv)
	case "bedrock":
		return NewBedrockClient(ctx, model)
	default:
		return nil, errors.NewKind(errors.KindInvalidModel, "provider %q has unsupported kind %q", provider, p.Kind)
	}
}
