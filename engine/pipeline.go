package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chartmesh/chartmesh/core"
	"github.com/chartmesh/chartmesh/model"
	"github.com/chartmesh/chartmesh/tool"
)

// Progress event types emitted while a turn runs.
const (
	EventStart     = "start"
	EventHeartbeat = "heartbeat"
	EventToolCall  = "tool_call"
	EventMessage   = "message"
	EventError     = "error"
	EventDone      = "done"
)

// apologyText is persisted as the assistant's answer when generation fails,
// so the conversation never ends on a missing turn.
const apologyText = "I ran into a problem while preparing your answer. " +
	"Please try again; your conversation so far is intact."

const systemPreamble = `You are a chart-authoring assistant. You help users ` +
	`fetch data, shape it and produce charts. Use the available tools when a ` +
	`request needs external data or chart operations; answer directly when it ` +
	`does not. Some tools require user approval before they run. When a tool ` +
	`reports pending_approval, tell the user what approval is needed and stop.`

// ProgressEvent is one pulse on the progress channel of a running turn.
// ToolName and Snippet are set on tool_call events so consumers need not
// parse the message text.
type ProgressEvent struct {
	Type     string    `json:"type"`
	Message  string    `json:"message,omitempty"`
	ToolName string    `json:"tool_name,omitempty"`
	Snippet  string    `json:"snippet,omitempty"`
	At       time.Time `json:"at"`
}

// Chat runs one conversation turn: persists the user message, connects
// autostart servers, builds the tool registry and drives the model with the
// dispatcher as tool handler. It returns the turn id plus a progress channel
// and an error channel, both closed when the turn settles. The final
// assistant text arrives as an EventMessage progress event and is persisted
// before the channels close.
func (e *Engine) Chat(ctx context.Context, text string) (string, <-chan ProgressEvent, <-chan error, error) {
	history, err := e.sessions.LoadMessages(ctx, e.sessionID)
	if err != nil {
		return "", nil, nil, fmt.Errorf("load history: %w", err)
	}
	history = append(history, core.NewUserMessage(text))
	if err := e.sessions.ReplaceMessages(ctx, e.sessionID, history); err != nil {
		return "", nil, nil, fmt.Errorf("persist user message: %w", err)
	}

	turnID, progressCh, errorsCh := e.startTurn(ctx, history)
	return turnID, progressCh, errorsCh, nil
}

// ChatSync runs a turn to completion and returns the final assistant text.
func (e *Engine) ChatSync(ctx context.Context, text string) (string, error) {
	_, progressCh, errorsCh, err := e.Chat(ctx, text)
	if err != nil {
		return "", err
	}
	return drainTurn(ctx, progressCh, errorsCh)
}

// RegenerateFrom rewinds the conversation to the nearest user message at or
// before the identified message and replays that turn. History from the
// anchor point onward is discarded. The anchor is resolved against a single
// history load, so a concurrent edit cannot split the truncation.
func (e *Engine) RegenerateFrom(ctx context.Context, messageID string) (string, <-chan ProgressEvent, <-chan error, error) {
	history, err := e.sessions.LoadMessages(ctx, e.sessionID)
	if err != nil {
		return "", nil, nil, fmt.Errorf("load history: %w", err)
	}

	at := -1
	for i, msg := range history {
		if msg.ID == messageID {
			at = i
			break
		}
	}
	if at < 0 {
		return "", nil, nil, &core.NotFoundError{Kind: "message", Key: messageID}
	}
	anchor := -1
	for i := at; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return "", nil, nil, fmt.Errorf("no user message at or before %s to regenerate from", messageID)
	}

	truncated := core.CloneMessages(history[:anchor+1])
	if err := e.sessions.ReplaceMessages(ctx, e.sessionID, truncated); err != nil {
		return "", nil, nil, fmt.Errorf("truncate history: %w", err)
	}

	turnID, progressCh, errorsCh := e.startTurn(ctx, truncated)
	return turnID, progressCh, errorsCh, nil
}

// ForkSession copies the history up to and including the identified message
// into a fresh session id and returns it. The current session is untouched.
func (e *Engine) ForkSession(ctx context.Context, messageID string) (string, error) {
	history, err := e.sessions.LoadMessages(ctx, e.sessionID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	at := -1
	for i, msg := range history {
		if msg.ID == messageID {
			at = i
			break
		}
	}
	if at < 0 {
		return "", &core.NotFoundError{Kind: "message", Key: messageID}
	}

	forkID := core.NewID()
	if err := e.sessions.ReplaceMessages(ctx, forkID, core.CloneMessages(history[:at+1])); err != nil {
		return "", fmt.Errorf("seed fork: %w", err)
	}
	e.store.RecordEvent(core.LevelInfo, core.SourceSystem, "session_forked",
		fmt.Sprintf("forked at message %s", messageID),
		map[string]any{"fork_session_id": forkID, "message_id": messageID})
	return forkID, nil
}

type turnResult struct {
	res model.Result
	err error
}

// startTurn launches the generation goroutine for an already persisted
// history ending in a user message.
func (e *Engine) startTurn(ctx context.Context, history []core.Message) (string, <-chan ProgressEvent, <-chan error) {
	turnID := core.NewID()
	progressCh := make(chan ProgressEvent, 64)
	errorsCh := make(chan error, 1)

	emit := func(ev ProgressEvent) {
		ev.At = time.Now()
		select {
		case progressCh <- ev:
		default:
			// A stalled consumer drops pulses, never the turn.
		}
	}
	emitFinal := func(ev ProgressEvent) {
		ev.At = time.Now()
		select {
		case progressCh <- ev:
		case <-time.After(time.Second):
		}
	}

	go func() {
		defer close(progressCh)
		defer close(errorsCh)

		emit(ProgressEvent{Type: EventStart})
		e.store.RecordEvent(core.LevelInfo, core.SourceChat, "chat_turn_started",
			"turn started", map[string]any{"turn_id": turnID})

		if err := e.manager.EnsureConnections(ctx); err != nil {
			if ctx.Err() != nil {
				e.abortTurn(turnID, ctx.Err(), errorsCh)
				return
			}
			e.finishTurnError(ctx, turnID, history, err, emit, errorsCh)
			return
		}

		reg := tool.BuildRegistry(e.manager.ListTools(ctx))
		handler := func(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
			ev := ProgressEvent{Type: EventToolCall, Message: name, ToolName: name}
			if len(args) > 0 {
				if raw, err := json.Marshal(args); err == nil {
					ev.Snippet = core.Snippet(string(raw), core.SnippetLimit)
				}
			}
			emit(ev)
			return e.dispatcher.Dispatch(ctx, reg, name, args), nil
		}

		req := model.Request{
			System:          e.systemPrompt(reg),
			Messages:        e.requestMessages(history),
			Tools:           buildToolDefs(reg),
			Temperature:     e.cfg.Temperature,
			MaxOutputTokens: e.cfg.MaxOutputTokens,
			StepBudget:      e.cfg.StepBudget,
		}

		done := make(chan turnResult, 1)
		go func() {
			res, err := e.client.Generate(ctx, req, handler)
			done <- turnResult{res: res, err: err}
		}()

		interval := e.cfg.Heartbeat.Std()
		if interval <= 0 {
			interval = DefaultConfig.Heartbeat.Std()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				emit(ProgressEvent{Type: EventHeartbeat})
			case <-ctx.Done():
				e.abortTurn(turnID, ctx.Err(), errorsCh)
				return
			case r := <-done:
				if ctx.Err() != nil {
					e.abortTurn(turnID, ctx.Err(), errorsCh)
					return
				}
				if r.err != nil {
					e.finishTurnError(ctx, turnID, history, r.err, emitFinal, errorsCh)
					return
				}
				e.finishTurn(ctx, turnID, history, r.res, emitFinal)
				return
			}
		}
	}()

	return turnID, progressCh, errorsCh
}

func (e *Engine) finishTurn(ctx context.Context, turnID string, history []core.Message, res model.Result, emit func(ev ProgressEvent)) {
	assistant := core.NewAssistantMessage(res.Text)
	assistant.Reasoning = res.Reasoning
	assistant.ToolCalls = res.ToolCalls

	if err := e.sessions.ReplaceMessages(ctx, e.sessionID, append(history, assistant)); err != nil {
		e.log.Error("engine.turn.persist_failed", "turn_id", turnID, "error", err.Error())
	}
	e.store.RecordEvent(core.LevelSuccess, core.SourceChat, "chat_turn_completed",
		"turn completed", map[string]any{"turn_id": turnID, "tool_calls": len(res.ToolCalls), "steps": res.Steps})

	emit(ProgressEvent{Type: EventMessage, Message: res.Text})
	emit(ProgressEvent{Type: EventDone})
}

// abortTurn settles a client-cancelled turn. Nothing further goes out on the
// progress channel and the history keeps only what was persisted before the
// abort; the cancellation surfaces on the error channel alone.
func (e *Engine) abortTurn(turnID string, cause error, errorsCh chan<- error) {
	e.log.Info("engine.turn.aborted", "turn_id", turnID, "error", cause.Error())
	e.store.RecordEvent(core.LevelInfo, core.SourceChat, "chat_turn_aborted",
		"turn aborted", map[string]any{"turn_id": turnID, "error": cause.Error()})
	errorsCh <- cause
}

func (e *Engine) finishTurnError(ctx context.Context, turnID string, history []core.Message, genErr error, emit func(ev ProgressEvent), errorsCh chan<- error) {
	e.log.Error("engine.turn.failed", "turn_id", turnID, "error", genErr.Error())

	assistant := core.NewAssistantMessage(apologyText)
	if err := e.sessions.ReplaceMessages(ctx, e.sessionID, append(history, assistant)); err != nil {
		e.log.Error("engine.turn.persist_failed", "turn_id", turnID, "error", err.Error())
	}
	e.store.RecordEvent(core.LevelError, core.SourceChat, "chat_turn_failed",
		"turn failed", map[string]any{"turn_id": turnID, "error": genErr.Error()})

	emit(ProgressEvent{Type: EventMessage, Message: apologyText})
	emit(ProgressEvent{Type: EventError, Message: genErr.Error()})
	errorsCh <- genErr
}

// requestMessages prepares the provider view of the history: structurally
// invalid tool call details degrade the whole history to text only, and old
// tool call and reasoning detail is pruned to keep the context lean.
func (e *Engine) requestMessages(history []core.Message) []core.Message {
	msgs := core.CloneMessages(history)
	if !historyIsStructurallySound(msgs) {
		for i := range msgs {
			msgs[i].ToolCalls = nil
			msgs[i].Reasoning = ""
		}
		e.store.RecordEvent(core.LevelInfo, core.SourceChat, "history_degraded",
			"history replayed as text only", nil)
		return msgs
	}
	for i := range msgs {
		if i < len(msgs)-2 {
			msgs[i].ToolCalls = nil
		}
		if i < len(msgs)-1 {
			msgs[i].Reasoning = ""
		}
	}
	return msgs
}

func historyIsStructurallySound(msgs []core.Message) bool {
	for _, msg := range msgs {
		for _, call := range msg.ToolCalls {
			if call.ID == "" || call.Name == "" {
				return false
			}
			if call.Arguments != "" && !json.Valid([]byte(call.Arguments)) {
				return false
			}
		}
	}
	return true
}

func (e *Engine) systemPrompt(reg *tool.Registry) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	tools := reg.Tools()
	if len(tools) == 0 {
		b.WriteString("\n\nNo tools are currently connected.")
		return b.String()
	}
	b.WriteString("\n\nAvailable tools:\n")
	for _, info := range tools {
		b.WriteString("- ")
		b.WriteString(reg.PreferredAlias(info))
		if info.Description != "" {
			b.WriteString(": ")
			b.WriteString(info.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func buildToolDefs(reg *tool.Registry) []model.ToolDefinition {
	tools := reg.Tools()
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, info := range tools {
		params := info.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, model.ToolDefinition{
			Name:        reg.PreferredAlias(info),
			Description: info.Description,
			Parameters:  params,
		})
	}
	return defs
}

func drainTurn(ctx context.Context, progressCh <-chan ProgressEvent, errorsCh <-chan error) (string, error) {
	var finalText string
	for {
		select {
		case <-ctx.Done():
			return finalText, ctx.Err()
		case ev, ok := <-progressCh:
			if !ok {
				select {
				case err := <-errorsCh:
					if err != nil {
						return finalText, err
					}
				default:
				}
				return finalText, nil
			}
			if ev.Type == EventMessage {
				finalText = ev.Message
			}
		}
	}
}
