// Package policy gates tool execution: the risk router decides how a call
// may proceed, the command screen vets shell commands, and the Confirmer
// abstracts the user-approval exchange.
package policy

import (
	"github.com/cludelabs/clude/internal/profile"
	"github.com/cludelabs/clude/internal/tool"
)

// Decision is the execution decision for one tool call.
type Decision string

const (
	DecisionAuto    Decision = "AUTO"    // run without asking
	DecisionConfirm Decision = "CONFIRM" // per-call yes/no
	DecisionApprove Decision = "APPROVE" // plan review approval before first write/exec
	DecisionReject  Decision = "REJECT"  // never run at this risk level
)

// Route is the pure risk table. Reads always run; network effects route like
// exec since both reach outside the inspected workspace state.
func Route(risk profile.RiskLevel, effect tool.SideEffect) Decision {
	if effect == tool.SideEffectRead {
		return DecisionAuto
	}
	switch risk {
	case profile.RiskLow, profile.RiskMedium:
		return DecisionConfirm
	case profile.RiskHigh:
		return DecisionApprove
	case profile.RiskCritical:
		return DecisionReject
	default:
		// Unknown level: treat as the most restrictive non-reject tier.
		return DecisionApprove
	}
}
