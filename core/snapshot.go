package core

import (
	"time"
)

// Capacity and retention bounds for the ring-buffered histories kept in a
// RuntimeSnapshot. Oldest entries are evicted first once a buffer is full.
const (
	ToolRunCapacity = 80
	EventCapacity   = 120

	// EventRetention is the window beyond which events are dropped from
	// snapshot reads even if the ring buffer has spare capacity.
	EventRetention = time.Hour

	// SnippetLimit bounds argument / result excerpts stored in records.
	SnippetLimit = 400
)

// RunStatus describes the lifecycle of a single tool invocation.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunBlocked RunStatus = "blocked"
)

// EventLevel classifies the severity of a runtime event.
type EventLevel string

const (
	LevelInfo    EventLevel = "info"
	LevelSuccess EventLevel = "success"
	LevelError   EventLevel = "error"
)

// EventSource identifies the subsystem that produced a runtime event.
type EventSource string

const (
	SourceChat   EventSource = "chat"
	SourceMCP    EventSource = "mcp"
	SourceTool   EventSource = "tool"
	SourceSystem EventSource = "system"
)

// ApprovalStatus tracks the resolution state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ServerConfig is the static configuration of a named tool server.
type ServerConfig struct {
	Name         string `json:"name" yaml:"name"`
	URL          string `json:"url" yaml:"url"`
	AuthToken    string `json:"auth_token,omitempty" yaml:"auth_token"`
	CallbackHost string `json:"callback_host,omitempty" yaml:"callback_host"`
	AutoStart    bool   `json:"auto_start" yaml:"auto_start"`
}

// ServerConnectionEntry tracks the live connection state of one configured
// tool server. ServerID is set iff Connected is true.
type ServerConnectionEntry struct {
	Name      string       `json:"name"`
	Config    ServerConfig `json:"config"`
	ServerID  string       `json:"server_id,omitempty"`
	Connected bool         `json:"connected"`
	LastError string       `json:"last_error,omitempty"`
}

// ToolRunRecord captures one tool invocation from dispatch to completion.
// Created with status running and updated exactly once when the call settles.
type ToolRunRecord struct {
	ID            string     `json:"id"`
	ToolName      string     `json:"tool_name"`
	ServerID      string     `json:"server_id"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ArgsSnippet   string     `json:"args_snippet,omitempty"`
	ResultSnippet string     `json:"result_snippet,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// RuntimeEvent is one append-only entry in the runtime event log.
type RuntimeEvent struct {
	ID        string         `json:"id"`
	Level     EventLevel     `json:"level"`
	Source    EventSource    `json:"source"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ApprovalRequest is a pending or recently resolved sign-off request for a
// gated tool call. At most one pending request exists per signature.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	Signature   string         `json:"signature"`
	ToolName    string         `json:"tool_name"`
	ServerID    string         `json:"server_id"`
	ArgsSnippet string         `json:"args_snippet,omitempty"`
	Status      ApprovalStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// ApprovedSignature is a time-boxed, single-use grant produced by approving a
// request. The first matching call consumes it.
type ApprovedSignature struct {
	Signature string    `json:"signature"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RetryCounters accumulates attempt bookkeeping for one retry kind.
type RetryCounters struct {
	Attempts  int64 `json:"attempts"`
	Success   int64 `json:"success"`
	Exhausted int64 `json:"exhausted"`
}

// RetryStats aggregates retry counters per operation kind. Counters reset
// only on full agent reinitialization.
type RetryStats struct {
	Tool       RetryCounters `json:"tool"`
	Connection RetryCounters `json:"connection"`
}

// RuntimeSnapshot is the complete, immutable view of one agent instance's
// orchestration state. Mutations go through StateStore which clones the
// snapshot, applies the change and bumps Version, so a snapshot handed to an
// observer is never modified afterwards.
type RuntimeSnapshot struct {
	Version             int64                   `json:"version"`
	Servers             []ServerConnectionEntry `json:"servers"`
	ToolRuns            []ToolRunRecord         `json:"tool_runs"`
	Events              []RuntimeEvent          `json:"events"`
	Approvals           []ApprovalRequest       `json:"approvals"`
	ApprovedSignatures  []ApprovedSignature     `json:"approved_signatures,omitempty"`
	RetryStats          RetryStats              `json:"retry_stats"`
}

// Clone returns a deep copy safe for independent mutation.
func (s *RuntimeSnapshot) Clone() *RuntimeSnapshot {
	c := &RuntimeSnapshot{
		Version:    s.Version,
		RetryStats: s.RetryStats,
	}
	c.Servers = append([]ServerConnectionEntry(nil), s.Servers...)
	c.ToolRuns = append([]ToolRunRecord(nil), s.ToolRuns...)
	c.Approvals = append([]ApprovalRequest(nil), s.Approvals...)
	c.ApprovedSignatures = append([]ApprovedSignature(nil), s.ApprovedSignatures...)
	c.Events = make([]RuntimeEvent, len(s.Events))
	for i, ev := range s.Events {
		c.Events[i] = ev
		if ev.Data != nil {
			data := make(map[string]any, len(ev.Data))
			for k, v := range ev.Data {
				data[k] = v
			}
			c.Events[i].Data = data
		}
	}
	return c
}

// PushEvent appends an event, evicting the oldest entry when the ring is full.
func (s *RuntimeSnapshot) PushEvent(ev RuntimeEvent) {
	s.Events = append(s.Events, ev)
	if n := len(s.Events); n > EventCapacity {
		s.Events = append(s.Events[:0], s.Events[n-EventCapacity:]...)
	}
}

// PushToolRun appends a run record, evicting the oldest entry when full.
func (s *RuntimeSnapshot) PushToolRun(run ToolRunRecord) {
	s.ToolRuns = append(s.ToolRuns, run)
	if n := len(s.ToolRuns); n > ToolRunCapacity {
		s.ToolRuns = append(s.ToolRuns[:0], s.ToolRuns[n-ToolRunCapacity:]...)
	}
}

// ToolRun returns a pointer into the snapshot's run slice for in-place update
// during a mutation, or nil if the id is unknown (evicted or never recorded).
func (s *RuntimeSnapshot) ToolRun(id string) *ToolRunRecord {
	for i := range s.ToolRuns {
		if s.ToolRuns[i].ID == id {
			return &s.ToolRuns[i]
		}
	}
	return nil
}

// Server returns a pointer to the named connection entry for in-place update
// during a mutation, or nil if the server is not configured.
func (s *RuntimeSnapshot) Server(name string) *ServerConnectionEntry {
	for i := range s.Servers {
		if s.Servers[i].Name == name {
			return &s.Servers[i]
		}
	}
	return nil
}
