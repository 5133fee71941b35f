package backend

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"pontoon/errors"
	"pontoon/tools"
)

// OpenAIClient talks to the OpenAI Chat Completions API or any endpoint
// compatible with it. Custom providers use this client with their own base
// URL and key environment variable.
type OpenAIClient struct {
	client *openai.Client

	mu    sync.Mutex
	model string
}

// NewOpenAIClient reads the API key from apiKeyEnv (OPENAI_API_KEY when
// empty) and optionally targets a custom baseURL.
func NewOpenAIClient(model, apiKeyEnv, baseURL string) (*OpenAIClient, error) {
	if apiKeyEnv == "" {
		apiKeyEnv = "OPENAI_API_KEY"
	}
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, errors.New("%s environment variable not set", apiKeyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	// The v2 SDK returns the client by value; keep a pointer to one instance.
	c := openai.NewClient(opts...)
	return &OpenAIClient{client: &c, model: model}, nil
}

func (o *OpenAIClient) SetModel(model string) {
	o.mu.Lock()
	o.model = model
	o.mu.Unlock()
}

func (o *OpenAIClient) currentModel() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model
}

func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.currentModel()),
		Messages: convertMessagesToOpenAI(messages),
		Tools:    convertToolsToOpenAI(availableTools),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}
	return processOpenAIResponse(resp)
}

func convertMessagesToOpenAI(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			out = append(out, openai.SystemMessage(msg.Content))
		case "assistant":
			assistant := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				argsBytes, err := json.Marshal(tc.Args)
				if err != nil {
					continue
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ToolCallID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			out = append(out, assistant.ToParam())
		case "tool":
			if len(msg.ToolCalls) != 1 {
				continue
			}
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCalls[0].ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertToolsToOpenAI(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var out []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		params := openai.FunctionParameters{
			"type":       "object",
			"properties": map[string]any{},
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  params,
		}))
	}
	return out
}

func processOpenAIResponse(resp *openai.ChatCompletion) (*Message, error) {
	msg := &Message{
		Role: "assistant",
		Usage: &TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return msg, nil
	}

	choice := resp.Choices[0].Message
	msg.Content = choice.Content
	for _, tc := range choice.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
			Args:       args,
		})
	}
	return msg, nil
}
