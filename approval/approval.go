// Package approval implements the sign-off gate for mutating or oversized
// tool calls. Policy decisions (RequiresApproval, Signature) are pure
// functions; the queue/resolve/consume operations mutate the approval slices
// of a RuntimeSnapshot and are meant to run inside a StateStore mutation so
// each decision is atomic with its version bump.
package approval

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/chartmesh/chartmesh/core"
)

const (
	// SizeThreshold gates calls whose serialized arguments exceed this many
	// bytes, regardless of tool name.
	SizeThreshold = 8000

	// SignatureTTL bounds how long an approved signature stays consumable.
	SignatureTTL = 10 * time.Minute

	// resolvedRetention keeps resolved requests visible for audit before
	// pruning removes them.
	resolvedRetention = 10 * time.Minute
)

// mutatingTokens flag tool names that imply a state-changing action.
var mutatingTokens = []string{"delete", "remove", "drop", "write", "update", "create", "patch"}

// RequiresApproval reports whether a call to toolName with args needs
// sign-off before execution.
func RequiresApproval(toolName string, args map[string]any) bool {
	lower := strings.ToLower(toolName)
	for _, token := range mutatingTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	if payload, err := json.Marshal(args); err == nil && len(payload) > SizeThreshold {
		return true
	}
	return false
}

// Queue registers an approval request for the given call, idempotently: if a
// pending request with the same signature already exists it is returned
// unchanged and created is false.
func Queue(snap *core.RuntimeSnapshot, toolName, serverID string, args map[string]any, now time.Time) (core.ApprovalRequest, bool) {
	sig := Signature(toolName, serverID, args)
	for i := range snap.Approvals {
		if snap.Approvals[i].Signature == sig && snap.Approvals[i].Status == core.ApprovalPending {
			return snap.Approvals[i], false
		}
	}
	req := core.ApprovalRequest{
		ID:          core.NewID(),
		Signature:   sig,
		ToolName:    toolName,
		ServerID:    serverID,
		ArgsSnippet: core.Snippet(CanonicalJSON(args), core.SnippetLimit),
		Status:      core.ApprovalPending,
		CreatedAt:   now,
	}
	snap.Approvals = append(snap.Approvals, req)
	return req, true
}

// Approve transitions the identified pending request to approved and inserts
// a time-boxed approved signature. Resolving an unknown or already resolved
// request returns a NotFoundError.
func Approve(snap *core.RuntimeSnapshot, id string, now time.Time) error {
	req := findPending(snap, id)
	if req == nil {
		return &core.NotFoundError{Kind: "pending approval", Key: id}
	}
	resolved := now
	req.Status = core.ApprovalApproved
	req.ResolvedAt = &resolved
	snap.ApprovedSignatures = append(snap.ApprovedSignatures, core.ApprovedSignature{
		Signature: req.Signature,
		ExpiresAt: now.Add(SignatureTTL),
	})
	return nil
}

// Reject transitions the identified pending request to rejected, recording
// an optional reason.
func Reject(snap *core.RuntimeSnapshot, id, reason string, now time.Time) error {
	req := findPending(snap, id)
	if req == nil {
		return &core.NotFoundError{Kind: "pending approval", Key: id}
	}
	resolved := now
	req.Status = core.ApprovalRejected
	req.ResolvedAt = &resolved
	req.Reason = reason
	return nil
}

// Consume removes the first unexpired approved signature matching sig,
// reporting whether one was found. A signature authorizes exactly one call.
func Consume(snap *core.RuntimeSnapshot, sig string, now time.Time) bool {
	for i := range snap.ApprovedSignatures {
		entry := snap.ApprovedSignatures[i]
		if entry.Signature != sig || !entry.ExpiresAt.After(now) {
			continue
		}
		snap.ApprovedSignatures = append(snap.ApprovedSignatures[:i], snap.ApprovedSignatures[i+1:]...)
		return true
	}
	return false
}

// Prune drops resolved requests past the audit retention window and approved
// signatures that expired unused.
func Prune(snap *core.RuntimeSnapshot, now time.Time) {
	keptReqs := snap.Approvals[:0]
	for _, req := range snap.Approvals {
		if req.Status != core.ApprovalPending && req.ResolvedAt != nil && now.Sub(*req.ResolvedAt) > resolvedRetention {
			continue
		}
		keptReqs = append(keptReqs, req)
	}
	snap.Approvals = keptReqs

	keptSigs := snap.ApprovedSignatures[:0]
	for _, sig := range snap.ApprovedSignatures {
		if !sig.ExpiresAt.After(now) {
			continue
		}
		keptSigs = append(keptSigs, sig)
	}
	snap.ApprovedSignatures = keptSigs
}

func findPending(snap *core.RuntimeSnapshot, id string) *core.ApprovalRequest {
	for i := range snap.Approvals {
		if snap.Approvals[i].ID == id && snap.Approvals[i].Status == core.ApprovalPending {
			return &snap.Approvals[i]
		}
	}
	return nil
}
