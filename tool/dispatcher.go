package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chartmesh/chartmesh/approval"
	"github.com/chartmesh/chartmesh/core"
	"github.com/chartmesh/chartmesh/internal/util"
	"github.com/chartmesh/chartmesh/logging"
	"github.com/chartmesh/chartmesh/mcp"
	"github.com/chartmesh/chartmesh/retry"
)

const defaultCallTimeout = 30 * time.Second

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// MaxAttempts bounds retries per tool call.
	MaxAttempts int

	// CallTimeout is the per-attempt deadline.
	CallTimeout time.Duration

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Dispatcher executes tool calls on behalf of the model. Every dispatch is
// recorded as a ToolRunRecord; gated calls are parked behind an approval
// request instead of executing; failures come back as structured result maps
// so the model can react to them in-conversation.
type Dispatcher struct {
	client      mcp.Client
	store       *core.StateStore
	log         logging.Logger
	maxAttempts int
	timeout     time.Duration
}

// NewDispatcher creates a Dispatcher bound to a transport and state store.
func NewDispatcher(client mcp.Client, store *core.StateStore, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{
		MaxAttempts: 2,
		CallTimeout: defaultCallTimeout,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{
		client:      client,
		store:       store,
		log:         opts.Logger,
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.CallTimeout,
	}
}

// Dispatch resolves alias against the registry and runs the call end to end.
// The returned map is always a usable tool result: {"result": ...} on
// success, {"error": ...} on any failure, or a pending_approval payload when
// the call needs sign-off first. Dispatch never returns an error to the
// model loop; errors are content.
func (d *Dispatcher) Dispatch(ctx context.Context, reg *Registry, alias string, args map[string]any) map[string]any {
	info, ok := reg.Resolve(alias)
	if !ok {
		d.log.Warn("tool.dispatch.unknown", "alias", alias)
		d.store.RecordEvent(core.LevelError, core.SourceTool, "tool_unknown",
			fmt.Sprintf("model requested unknown tool %s", alias), map[string]any{"alias": alias})
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", alias)}
	}

	args = NormalizeArguments(args, info.InputSchema)
	if err := util.ValidateParameters(args, info.InputSchema); err != nil {
		d.log.Warn("tool.dispatch.invalid_args", "tool", info.Name, "error", err.Error())
		return map[string]any{"error": fmt.Sprintf("invalid arguments for %s: %s", info.Name, err.Error())}
	}

	runID := core.NewID()
	argsJSON := approval.CanonicalJSON(args)
	sig := approval.Signature(info.Name, info.ServerID, args)
	gated := approval.RequiresApproval(info.Name, args)

	var pending core.ApprovalRequest
	var blocked bool
	d.store.Mutate(func(snap *core.RuntimeSnapshot) {
		now := d.store.Now()
		run := core.ToolRunRecord{
			ID:          runID,
			ToolName:    info.Name,
			ServerID:    info.ServerID,
			Status:      core.RunRunning,
			StartedAt:   now,
			ArgsSnippet: core.Snippet(argsJSON, core.SnippetLimit),
		}
		if gated && !approval.Consume(snap, sig, now) {
			blocked = true
			pending, _ = approval.Queue(snap, info.Name, info.ServerID, args, now)
			run.Status = core.RunBlocked
			snap.PushToolRun(run)
			snap.PushEvent(d.store.NewEvent(core.LevelInfo, core.SourceTool, "tool_call_blocked",
				fmt.Sprintf("%s awaits approval", info.Name),
				map[string]any{"tool": info.Name, "approval_id": pending.ID}))
			return
		}
		snap.PushToolRun(run)
		snap.PushEvent(d.store.NewEvent(core.LevelInfo, core.SourceTool, "tool_call_started",
			fmt.Sprintf("calling %s", info.Name), map[string]any{"tool": info.Name, "run_id": runID}))
	})

	if blocked {
		d.log.Info("tool.dispatch.blocked", "tool", info.Name, "approval_id", pending.ID)
		return map[string]any{
			"status":      "pending_approval",
			"approval_id": pending.ID,
			"message":     fmt.Sprintf("%s requires user approval before it can run; ask the user to approve request %s", info.Name, pending.ID),
		}
	}

	result, attempts, err := retry.Do(ctx, retry.Config{
		MaxAttempts: d.maxAttempts,
		Timeout:     d.timeout,
		ShouldRetry: retry.RetryableTool,
	}, func(ctx context.Context) (any, error) {
		return d.client.CallTool(ctx, mcp.CallRequest{
			Name:      info.Name,
			ServerID:  info.ServerID,
			Arguments: args,
		})
	})

	finished := d.store.Now()
	if err != nil {
		toolErr := &core.ToolExecutionError{Tool: info.Name, Err: err}
		d.log.Error("tool.dispatch.failed", "tool", info.Name, "attempts", attempts, "error", err.Error())
		d.store.Mutate(func(snap *core.RuntimeSnapshot) {
			snap.RetryStats.Tool.Attempts += int64(attempts)
			snap.RetryStats.Tool.Exhausted++
			if run := snap.ToolRun(runID); run != nil {
				run.Status = core.RunError
				run.FinishedAt = &finished
				run.Error = err.Error()
			}
			snap.PushEvent(d.store.NewEvent(core.LevelError, core.SourceTool, "tool_call_failed",
				fmt.Sprintf("%s failed", info.Name),
				map[string]any{"tool": info.Name, "run_id": runID, "error": err.Error()}))
		})
		return map[string]any{"error": toolErr.Error()}
	}

	d.log.Info("tool.dispatch.success", "tool", info.Name, "attempts", attempts)
	d.store.Mutate(func(snap *core.RuntimeSnapshot) {
		snap.RetryStats.Tool.Attempts += int64(attempts)
		snap.RetryStats.Tool.Success++
		if run := snap.ToolRun(runID); run != nil {
			run.Status = core.RunSuccess
			run.FinishedAt = &finished
			run.ResultSnippet = core.Snippet(resultSnippet(result), core.SnippetLimit)
		}
		snap.PushEvent(d.store.NewEvent(core.LevelSuccess, core.SourceTool, "tool_call_succeeded",
			fmt.Sprintf("%s succeeded", info.Name), map[string]any{"tool": info.Name, "run_id": runID}))
	})
	return map[string]any{"result": result}
}

func resultSnippet(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}
