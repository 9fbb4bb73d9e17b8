// Package openai drives generation through the OpenAI Chat Completions API,
// including the in-turn tool loop.
package openai

import (
	"context"
	"encoding/json"

	"github.com/chartmesh/chartmesh/core"
	"github.com/chartmesh/chartmesh/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configures the OpenAI adapter.
type Options struct {
	Model  string
	APIKey string
}

// Client wraps the OpenAI Chat Completions API behind the generic
// model.Client interface.
type Client struct {
	client *openai.Client
	opts   Options
}

// NewClient creates an adapter using the official SDK client.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := Options{Model: openai.ChatModelGPT4o}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return &Client{client: &client, opts: opts}
}

// NewClientFromClient creates an adapter from an existing SDK client.
func NewClientFromClient(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := Options{Model: openai.ChatModelGPT4o}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

// Generate implements model.Client. Tool call rounds are executed through
// handle and replayed as tool messages; once the step budget is spent the
// tools are withheld so the model must answer in text.
func (c *Client) Generate(ctx context.Context, req model.Request, handle model.ToolHandler) (model.Result, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.opts.Model,
		Messages: buildMessages(req),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxOutputTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	budget := model.StepBudgetOf(req)
	res := model.Result{}

	for round := 0; round <= budget; round++ {
		if round == budget {
			params.Tools = nil
		}

		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return model.Result{}, &core.GenerationError{Model: c.opts.Model, Err: err}
		}
		if len(resp.Choices) == 0 {
			return model.Result{}, &core.GenerationError{Model: c.opts.Model, Err: errNoChoices}
		}
		msg := resp.Choices[0].Message

		if msg.Content != "" {
			res.Text = msg.Content
		}
		if len(msg.ToolCalls) == 0 {
			return res, nil
		}

		res.Steps++
		assistant := openai.ChatCompletionAssistantMessageParam{Role: "assistant"}
		for _, tc := range msg.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   tc.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if tc.Function.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			}
			out, callErr := handle(ctx, tc.Function.Name, args)
			resultText, isError := model.EncodeToolResult(out, callErr)
			params.Messages = append(params.Messages, openai.ToolMessage(resultText, tc.ID))

			detail := core.ToolCallDetail{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
				Result:    resultText,
				Status:    "success",
			}
			if isError {
				detail.Status = "error"
			}
			res.ToolCalls = append(res.ToolCalls, detail)
		}
	}

	return res, nil
}

var errNoChoices = &noChoicesError{}

type noChoicesError struct{}

func (e *noChoicesError) Error() string { return "no choices returned" }

// buildMessages converts persisted history into chat messages, replaying
// recorded tool call / result pairs after the assistant turn that made them.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				if m.Content != "" {
					messages = append(messages, openai.AssistantMessage(m.Content))
				}
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{Role: "assistant"}
			for _, call := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
			for _, call := range m.ToolCalls {
				messages = append(messages, openai.ToolMessage(call.Result, call.ID))
			}
			if m.Content != "" {
				messages = append(messages, openai.AssistantMessage(m.Content))
			}
		default:
			if m.Content != "" {
				messages = append(messages, openai.UserMessage(m.Content))
			}
		}
	}
	return messages
}

func buildTools(tools []model.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  tool.Parameters,
			},
		}
	}
	return out
}

// Info implements model.Client.
func (c *Client) Info() model.Info {
	return model.Info{Name: c.opts.Model, Provider: "openai"}
}
