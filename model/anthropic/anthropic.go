// Package anthropic drives generation through the Anthropic Messages API,
// including the in-turn tool loop.
package anthropic

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/chartmesh/chartmesh/core"
	"github.com/chartmesh/chartmesh/model"
)

// Options configures the Anthropic adapter.
type Options struct {
	Model          anthropic.Model
	APIKey         string
	Thinking       bool
	ThinkingBudget int64
}

// Client wraps the Anthropic Messages API behind the generic model.Client
// interface.
type Client struct {
	client *anthropic.Client
	opts   Options
}

// NewClient creates an adapter using the official SDK client.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{
		Model:          anthropic.ModelClaudeSonnet4_20250514,
		ThinkingBudget: 2048,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Client{client: &client, opts: opts}
}

// NewClientFromClient creates an adapter from an existing SDK client.
func NewClientFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Client {
	opts := Options{
		Model:          anthropic.ModelClaudeSonnet4_20250514,
		ThinkingBudget: 2048,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

// Generate implements model.Client. Each provider round that returns tool_use
// blocks is executed through handle and fed back as tool_result blocks; once
// the step budget is spent the tools are withheld so the model must answer.
func (c *Client) Generate(ctx context.Context, req model.Request, handle model.ToolHandler) (model.Result, error) {
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     c.opts.Model,
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if c.opts.Thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(c.opts.ThinkingBudget)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	budget := model.StepBudgetOf(req)
	res := model.Result{}

	for round := 0; round <= budget; round++ {
		if round == budget {
			// Final round answers without tools.
			params.Tools = nil
		}

		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return model.Result{}, &core.GenerationError{Model: string(c.opts.Model), Err: err}
		}

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var resultBlocks []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text := block.AsText().Text
				if text != "" {
					res.Text = text
					assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(text))
				}
			case "thinking":
				res.Reasoning = block.AsThinking().Thinking
			case "tool_use":
				tb := block.AsToolUse()
				var args map[string]any
				if len(tb.Input) > 0 {
					_ = json.Unmarshal(tb.Input, &args)
				}
				assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(tb.ID, tb.Input, tb.Name))

				out, callErr := handle(ctx, tb.Name, args)
				resultText, isError := model.EncodeToolResult(out, callErr)
				resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(tb.ID, resultText, isError))

				detail := core.ToolCallDetail{
					ID:        tb.ID,
					Name:      tb.Name,
					Arguments: string(tb.Input),
					Result:    resultText,
					Status:    "success",
				}
				if isError {
					detail.Status = "error"
				}
				res.ToolCalls = append(res.ToolCalls, detail)
			}
		}

		if len(resultBlocks) == 0 {
			return res, nil
		}

		res.Steps++
		params.Messages = append(params.Messages,
			anthropic.NewAssistantMessage(assistantBlocks...),
			anthropic.NewUserMessage(resultBlocks...),
		)
	}

	return res, nil
}

// buildMessages converts persisted history into provider messages, replaying
// recorded tool call / result pairs after the assistant turn that made them.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case core.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			var results []anthropic.ContentBlockParamUnion
			for _, call := range m.ToolCalls {
				var input any
				if call.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
						input = call.Arguments
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
				results = append(results, anthropic.NewToolResultBlock(call.ID, call.Result, call.Status == "error"))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			if len(results) > 0 {
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		default:
			if m.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	return messages
}

func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tool.Parameters != nil {
			if properties, ok := tool.Parameters["properties"]; ok {
				schema.Properties = properties
			}
			switch required := tool.Parameters["required"].(type) {
			case []string:
				schema.Required = required
			case []any:
				for _, r := range required {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, tool.Name)
	}
	return out
}

// Info implements model.Client.
func (c *Client) Info() model.Info {
	return model.Info{Name: string(c.opts.Model), Provider: "anthropic"}
}
