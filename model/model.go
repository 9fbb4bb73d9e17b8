// Package model defines the provider-neutral generation contract. A Client
// owns the full tool loop for one turn: it calls the provider, hands tool
// requests to the supplied handler, feeds results back and repeats until the
// model answers in text or the step budget runs out.
package model

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chartmesh/chartmesh/core"
)

// DefaultStepBudget bounds how many tool rounds one turn may take before the
// model is forced to answer in text.
const DefaultStepBudget = 6

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the normalized input for one generation turn.
type Request struct {
	System          string           `json:"system"`
	Messages        []core.Message   `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	Temperature     float64          `json:"temperature,omitempty"`
	MaxOutputTokens int64            `json:"max_output_tokens,omitempty"`
	StepBudget      int              `json:"step_budget,omitempty"`
}

// ToolHandler executes one tool call on behalf of the model. The returned map
// is fed back verbatim as the tool result; a non-nil error is also surfaced
// to the model as content rather than aborting the turn.
type ToolHandler func(ctx context.Context, name string, args map[string]any) (map[string]any, error)

// Result is the outcome of one completed generation turn.
type Result struct {
	Text      string                `json:"text"`
	Reasoning string                `json:"reasoning,omitempty"`
	ToolCalls []core.ToolCallDetail `json:"tool_calls,omitempty"`
	Steps     int                   `json:"steps"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Client is the minimal interface the response pipeline drives.
type Client interface {
	Generate(ctx context.Context, req Request, handle ToolHandler) (Result, error)
	Info() Info
}

// StepBudgetOf resolves the effective budget of a request.
func StepBudgetOf(req Request) int {
	if req.StepBudget > 0 {
		return req.StepBudget
	}
	return DefaultStepBudget
}

// EncodeToolResult renders a handler outcome as the text handed back to the
// model, marking handler errors as tool errors.
func EncodeToolResult(out map[string]any, err error) (string, bool) {
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error()), true
	}
	data, marshalErr := json.Marshal(out)
	if marshalErr != nil {
		return fmt.Sprintf(`{"error":%q}`, marshalErr.Error()), true
	}
	_, isErr := out["error"]
	return string(data), isErr
}

// MockToolCall scripts one tool request a MockClient will issue.
type MockToolCall struct {
	Name string
	Args map[string]any
}

// MockTurn scripts one provider round: either tool calls to issue or the
// final text to answer with.
type MockTurn struct {
	Text      string
	ToolCalls []MockToolCall
}

// MockClient is an in-memory Client for tests. Each Generate call walks the
// scripted turns, invoking the handler for tool rounds, and answers with the
// first text turn it reaches.
type MockClient struct {
	info  Info
	turns []MockTurn
	pos   int
}

// NewMockClient constructs a MockClient that plays back the given turns.
func NewMockClient(turns ...MockTurn) *MockClient {
	return &MockClient{
		info:  Info{Name: "mock", Provider: "mock"},
		turns: turns,
	}
}

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, req Request, handle ToolHandler) (Result, error) {
	budget := StepBudgetOf(req)
	res := Result{}
	for m.pos < len(m.turns) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		turn := m.turns[m.pos]
		m.pos++
		if len(turn.ToolCalls) == 0 {
			res.Text = turn.Text
			return res, nil
		}
		if res.Steps >= budget {
			return res, nil
		}
		res.Steps++
		for _, call := range turn.ToolCalls {
			out, err := handle(ctx, call.Name, call.Args)
			text, _ := EncodeToolResult(out, err)
			args, _ := json.Marshal(call.Args)
			res.ToolCalls = append(res.ToolCalls, core.ToolCallDetail{
				ID:        core.NewID(),
				Name:      call.Name,
				Arguments: string(args),
				Result:    text,
			})
		}
	}
	if res.Text == "" && len(res.ToolCalls) == 0 {
		return Result{}, fmt.Errorf("mock script exhausted")
	}
	return res, nil
}

// Info implements Client.
func (m *MockClient) Info() Info { return m.info }
