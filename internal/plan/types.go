// Package plan defines the FullPlan and PlanPatch wire protocol, plan
// validation, dependency scheduling, and incremental patching.
package plan

import (
	"fmt"
	"strings"
)

// Wire type tags. The "type" field is mandatory and disambiguates a full
// plan from a patch.
const (
	TypeFullPlan = "FullPlan"
	TypePatch    = "PlanPatch"
)

// Step statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusBlocked    = "blocked"
	StatusSkipped    = "skipped"
)

// Verification modes.
const (
	VerifyNone   = "none"
	VerifyLint   = "lint"
	VerifyTest   = "test"
	VerifyBuild  = "build"
	VerifyCustom = "custom"
)

// Step is one plan node.
type Step struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	Dependencies  []string `json:"dependencies,omitempty"`
	ToolsExpected []string `json:"tools_expected,omitempty"`
	Status        string   `json:"status,omitempty"`
	Artifacts     []string `json:"artifacts,omitempty"`
	RollbackHint  string   `json:"rollback_hint,omitempty"`
}

// Verification describes the post-execution check.
type Verification struct {
	Mode       string   `json:"mode"`
	Commands   []string `json:"commands,omitempty"`
	Required   bool     `json:"required,omitempty"`
	StopOnFail bool     `json:"stop_on_fail,omitempty"`
}

// FullPlan is the complete plan wire shape.
type FullPlan struct {
	Type         string       `json:"type"`
	Title        string       `json:"title"`
	Constraints  []string     `json:"constraints,omitempty"`
	Steps        []Step       `json:"steps"`
	Verification Verification `json:"verification"`
	RiskLevel    string       `json:"risk_level,omitempty"`
}

// StepUpdate is a partial step for PlanPatch.update. Pointer fields
// distinguish "absent" from "set to zero"; ID selects the target.
type StepUpdate struct {
	ID            string    `json:"id"`
	Description   *string   `json:"description,omitempty"`
	Dependencies  *[]string `json:"dependencies,omitempty"`
	ToolsExpected *[]string `json:"tools_expected,omitempty"`
	Status        *string   `json:"status,omitempty"`
	RollbackHint  *string   `json:"rollback_hint,omitempty"`
}

// Patch is the incremental replanning wire shape.
type Patch struct {
	Type   string       `json:"type"`
	Remove []string     `json:"remove,omitempty"`
	Update []StepUpdate `json:"update,omitempty"`
	Add    []Step       `json:"add,omitempty"`
}

var validStatuses = map[string]bool{
	StatusPending: true, StatusInProgress: true, StatusDone: true,
	StatusFailed: true, StatusBlocked: true, StatusSkipped: true,
}

var validVerifyModes = map[string]bool{
	VerifyNone: true, VerifyLint: true, VerifyTest: true,
	VerifyBuild: true, VerifyCustom: true,
}

// Validate checks structural soundness: the type tag, a step count within
// the fuse, id uniqueness, resolvable dependencies, valid statuses, and
// acyclicity.
func (p *FullPlan) Validate(maxSteps int) error {
	if p.Type != TypeFullPlan {
		return fmt.Errorf("type is %q, want %q", p.Type, TypeFullPlan)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	if maxSteps > 0 && len(p.Steps) > maxSteps {
		return fmt.Errorf("plan has %d steps, limit is %d", len(p.Steps), maxSteps)
	}
	if p.Verification.Mode != "" && !validVerifyModes[p.Verification.Mode] {
		return fmt.Errorf("unknown verification mode %q", p.Verification.Mode)
	}

	ids := make(map[string]bool, len(p.Steps))
	for i := range p.Steps {
		s := &p.Steps[i]
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("step %d has an empty id", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		ids[s.ID] = true
		if s.Status != "" && !validStatuses[s.Status] {
			return fmt.Errorf("step %q has unknown status %q", s.ID, s.Status)
		}
	}
	for _, s := range p.Steps {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
			if dep == s.ID {
				return fmt.Errorf("step %q depends on itself", s.ID)
			}
		}
	}
	if cycle := findCycle(p.Steps); cycle != nil {
		return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

// Normalize fills default statuses in place.
func (p *FullPlan) Normalize() {
	for i := range p.Steps {
		if p.Steps[i].Status == "" {
			p.Steps[i].Status = StatusPending
		}
	}
}

// Step returns a pointer to the step with the given id.
func (p *FullPlan) Step(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Clone deep-copies the plan so patching can be validated before commit.
func (p *FullPlan) Clone() *FullPlan {
	cp := *p
	cp.Constraints = append([]string(nil), p.Constraints...)
	cp.Verification.Commands = append([]string(nil), p.Verification.Commands...)
	cp.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.Dependencies = append([]string(nil), s.Dependencies...)
		s.ToolsExpected = append([]string(nil), s.ToolsExpected...)
		s.Artifacts = append([]string(nil), s.Artifacts...)
		cp.Steps[i] = s
	}
	return &cp
}
