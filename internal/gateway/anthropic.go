package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"voltiq/internal/config"
	"voltiq/internal/provider"
)

// AnthropicClient implements ModelClient on the Anthropic messages API.
type AnthropicClient struct {
	client  *anthropic.Client
	model   string
	profile config.ModelProfile
}

// NewAnthropicClient creates a model client for the given model.
func NewAnthropicClient(apiKey, model string, profile config.ModelProfile) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	return &AnthropicClient{
		client:  &client,
		model:   model,
		profile: profile,
	}, nil
}

// Stream starts one streaming generation. Events arrive on the returned
// channel; the channel closes after a Done or Err event.
func (c *AnthropicClient) Stream(ctx context.Context, req *ModelRequest) (<-chan StreamEvent, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(c.profile.MaxOutputTokens),
		Temperature: anthropic.Float(c.profile.Temperature),
		Messages:    messages,
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	eventChan := make(chan StreamEvent, 10) // Buffered to prevent blocking

	go func() {
		defer close(eventChan)

		stream := c.client.Messages.NewStreaming(ctx, params)

		// Accumulator for the final message
		message := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()

			if err := message.Accumulate(event); err != nil {
				eventChan <- StreamEvent{Err: fmt.Errorf("failed to accumulate message: %w", err)}
				return
			}

			delta, ok := textDelta(event)
			if !ok {
				continue
			}

			select {
			case <-ctx.Done():
				eventChan <- StreamEvent{Err: ctx.Err()}
				return
			case eventChan <- StreamEvent{TextDelta: delta}:
			}
		}

		if err := stream.Err(); err != nil {
			eventChan <- StreamEvent{Err: fmt.Errorf("anthropic streaming error: %w", err)}
			return
		}

		eventChan <- StreamEvent{Done: accumulatedTurn(&message)}
	}()

	return eventChan, nil
}

// textDelta extracts the text fragment from a stream event, if it carries
// one. Block starts, stops and message level events carry no text.
func textDelta(event anthropic.MessageStreamEventUnion) (string, bool) {
	e, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
	if !ok {
		return "", false
	}
	if e.Delta.Type != "text_delta" {
		return "", false
	}
	return e.Delta.Text, true
}

// accumulatedTurn reduces the accumulated message to the outcome the
// orchestrator acts on: the full text, the tool_use blocks in order and
// the stop reason.
func accumulatedTurn(message *anthropic.Message) *Turn {
	turn := &Turn{
		StopReason: string(message.StopReason),
	}

	for _, content := range message.Content {
		switch content.Type {
		case "text":
			turn.Text += content.Text
		case "tool_use":
			input, err := json.Marshal(content.Input)
			if err != nil {
				input = json.RawMessage("{}")
			}
			turn.ToolUses = append(turn.ToolUses, Block{
				Type:      "tool_use",
				ToolID:    content.ID,
				ToolName:  content.Name,
				ToolInput: input,
			})
		}
	}

	return turn
}

// convertMessages converts gateway messages to the SDK's message params.
func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for i, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Blocks))

		for _, block := range msg.Blocks {
			switch block.Type {
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			case "tool_use":
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    block.ToolID,
						Name:  block.ToolName,
						Input: block.ToolInput,
					},
				})
			case "tool_result":
				blocks = append(blocks, anthropic.NewToolResultBlock(block.ToolID, block.ToolResult, block.IsError))
			default:
				return nil, fmt.Errorf("message %d: unsupported block type '%s'", i, block.Type)
			}
		}

		switch msg.Role {
		case "user":
			result = append(result, anthropic.NewUserMessage(blocks...))
		case "assistant":
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("message %d: unsupported role '%s'", i, msg.Role)
		}
	}

	return result, nil
}

// convertTools converts the tool catalog to the SDK's tool params. Tool
// schemas arrive as raw JSON Schema documents from the tool provider.
func convertTools(tools []provider.ToolSchema) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		schema := map[string]any{}
		if len(tool.InputSchema) > 0 {
			_ = json.Unmarshal(tool.InputSchema, &schema)
		}

		required := make([]string, 0)
		if raw, ok := schema["required"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					required = append(required, s)
				}
			}
		}

		param := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: schema["properties"],
				Required:   required,
			},
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: &param})
	}

	return result
}
