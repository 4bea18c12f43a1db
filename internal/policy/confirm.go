package policy

import "context"

// ConfirmRequest describes what the user is asked to approve.
type ConfirmRequest struct {
	Tool        string
	Summary     string         // one line: what the call will do
	Args        map[string]any // already validated
	PlanPreview string         // rendered plan, set for APPROVE exchanges
	Paths       []string       // impacted workspace paths, when known
}

// Confirmer is the UI collaborator that answers confirmation and approval
// requests. Implementations block until the user decides or ctx is done.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
}

// AutoApprove accepts everything. Used by non-interactive runs that opt in
// via configuration, and by tests.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, ConfirmRequest) (bool, error) { return true, nil }

// AutoDeny declines everything. The safe default when no terminal is
// attached.
type AutoDeny struct{}

func (AutoDeny) Confirm(context.Context, ConfirmRequest) (bool, error) { return false, nil }
