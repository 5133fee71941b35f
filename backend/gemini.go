package backend

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"pontoon/errors"
	"pontoon/tools"
)

// GeminiClient talks to the Google Gemini API.
type GeminiClient struct {
	client *genai.Client

	mu    sync.Mutex
	model string
}

// NewGeminiClient reads the API key from apiKeyEnv (GEMINI_API_KEY when
// empty).
func NewGeminiClient(ctx context.Context, model, apiKeyEnv string) (*GeminiClient, error) {
	if apiKeyEnv == "" {
		apiKeyEnv = "GEMINI_API_KEY"
	}
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, errors.New("%s environment variable not set", apiKeyEnv)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) SetModel(model string) {
	g.mu.Lock()
	g.model = model
	g.mu.Unlock()
}

func (g *GeminiClient) Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error) {
	g.mu.Lock()
	model := g.client.GenerativeModel(g.model)
	g.mu.Unlock()
	model.Tools = convertToolsToGemini(availableTools)

	history := convertMessagesToGemini(messages)
	if len(history) == 0 {
		return nil, errors.New("no content to send to Gemini")
	}
	last := history[len(history)-1]

	chat := model.StartChat()
	chat.History = history[:len(history)-1]
	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

// convertMessagesToGemini maps the transcript to Gemini content. Tool
// results ride as user-role text parts naming the originating call.
func convertMessagesToGemini(messages []Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		text := msg.Content
		switch msg.Role {
		case "assistant":
			role = "model"
		case "tool":
			name := ""
			if len(msg.ToolCalls) > 0 {
				name = msg.ToolCalls[0].Name
			}
			text = fmt.Sprintf("Result of %s: %s", name, msg.Content)
		case "system":
			// Gemini has no dedicated system role in chat history; lead with
			// the prompt as the first user turn.
		}
		if text == "" {
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(text)},
		})
	}
	return contents
}

func convertToolsToGemini(ts []tools.Tool) []*genai.Tool {
	if len(ts) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, t := range ts {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"args": {
						Type:        genai.TypeObject,
						Description: "Arguments for the function call, as a map.",
					},
				},
				Required: []string{"args"},
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func processGeminiResponse(resp *genai.GenerateContentResponse) (*Message, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}

	msg := &Message{Role: "assistant"}
	if resp.UsageMetadata != nil {
		msg.Usage = &TokenUsage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			msg.Content += string(v)
		case genai.FunctionCall:
			// Arguments are nested under "args" per the declared schema.
			args, ok := v.Args["args"].(map[string]interface{})
			if !ok {
				args = v.Args
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ToolCallID: fmt.Sprintf("call_%s", uuid.NewString()),
				Name:       v.Name,
				Args:       args,
			})
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return msg, nil
}
