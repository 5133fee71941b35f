package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"pontoon/errors"
	"pontoon/tools"
)

// BedrockClient talks to Anthropic models hosted on AWS Bedrock. Credentials
// come from the standard AWS environment.
type BedrockClient struct {
	client *bedrockruntime.Client

	mu      sync.Mutex
	modelID string
}

func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (b *BedrockClient) SetModel(model string) {
	b.mu.Lock()
	b.modelID = model
	b.mu.Unlock()
}

func (b *BedrockClient) currentModel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modelID
}

func (b *BedrockClient) Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error) {
	body, err := buildBedrockRequest(messages, availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.currentModel()),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

func buildBedrockRequest(messages []Message, availableTools []tools.Tool) ([]byte, error) {
	var bedrockMessages []map[string]interface{}
	var systemPrompt string

	for _, msg := range messages {
		switch msg.Role {
		case "user":
			bedrockMessages = append(bedrockMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": msg.Content},
				},
			})
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var uses []map[string]interface{}
				for _, tc := range msg.ToolCalls {
					uses = append(uses, map[string]interface{}{
						"type":  "tool_use",
						"id":    tc.ToolCallID,
						"name":  tc.Name,
						"input": tc.Args,
					})
				}
				bedrockMessages = append(bedrockMessages, map[string]interface{}{
					"role":    "assistant",
					"content": uses,
				})
			} else if msg.Content != "" {
				bedrockMessages = append(bedrockMessages, map[string]interface{}{
					"role": "assistant",
					"content": []map[string]interface{}{
						{"type": "text", "text": msg.Content},
					},
				})
			}
		case "tool":
			if len(msg.ToolCalls) == 0 {
				continue
			}
			bedrockMessages = append(bedrockMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type":        "tool_result",
						"tool_use_id": msg.ToolCalls[0].ToolCallID,
						"content":     msg.Content,
					},
				},
			})
		case "system":
			systemPrompt = msg.Content
		}
	}

	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          bedrockMessages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if len(availableTools) > 0 {
		var ts []map[string]interface{}
		for _, t := range availableTools {
			ts = append(ts, map[string]interface{}{
				"name":        t.Name(),
				"description": t.Description(),
				"input_schema": map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			})
		}
		request["tools"] = ts
	}
	return json.Marshal(request)
}

func processBedrockResponse(body []byte) (*Message, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	msg := &Message{Role: "assistant"}
	if usage, ok := response["usage"].(map[string]interface{}); ok {
		u := &TokenUsage{}
		if v, ok := usage["input_tokens"].(float64); ok {
			u.InputTokens = int64(v)
		}
		if v, ok := usage["output_tokens"].(float64); ok {
			u.OutputTokens = int64(v)
		}
		msg.Usage = u
	}

	content, ok := response["content"].([]interface{})
	if !ok {
		return msg, nil
	}

	counter := 0
	for _, item := range content {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch itemMap["type"] {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				msg.Content += text
			}
		case "thinking":
			if thinking, ok := itemMap["thinking"].(string); ok {
				msg.Reasoning = append(msg.Reasoning, thinking)
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, ok := itemMap["input"].(map[string]interface{})
			if !ok {
				continue
			}
			id := fmt.Sprintf("call_%d_%s", counter, name)
			if toolID, ok := itemMap["id"].(string); ok {
				id = toolID
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ToolCallID: id,
				Name:       name,
				Args:       input,
			})
			counter++
		}
	}
	return msg, nil
}
