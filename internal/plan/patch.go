package plan

import "fmt"

// Apply produces a new plan with the patch applied, leaving the receiver
// untouched. Order is remove, then update, then add. The patch fails as a
// whole when any id is misreferenced, when remove/update/add overlap, or
// when the result no longer validates; a failed patch changes nothing.
func (p *FullPlan) Apply(patch *Patch, maxSteps int) (*FullPlan, error) {
	if err := patch.check(p); err != nil {
		return nil, err
	}

	next := p.Clone()

	if len(patch.Remove) > 0 {
		doomed := make(map[string]bool, len(patch.Remove))
		for _, id := range patch.Remove {
			doomed[id] = true
		}
		kept := next.Steps[:0]
		for _, s := range next.Steps {
			if !doomed[s.ID] {
				s.Dependencies = dropDeps(s.Dependencies, doomed)
				kept = append(kept, s)
			}
		}
		next.Steps = kept
	}

	for _, u := range patch.Update {
		s := next.Step(u.ID)
		if u.Description != nil {
			s.Description = *u.Description
		}
		if u.Dependencies != nil {
			s.Dependencies = append([]string(nil), (*u.Dependencies)...)
		}
		if u.ToolsExpected != nil {
			s.ToolsExpected = append([]string(nil), (*u.ToolsExpected)...)
		}
		if u.Status != nil {
			s.Status = *u.Status
		}
		if u.RollbackHint != nil {
			s.RollbackHint = *u.RollbackHint
		}
	}

	next.Steps = append(next.Steps, patch.Add...)
	next.Normalize()

	if err := next.Validate(maxSteps); err != nil {
		return nil, fmt.Errorf("patched plan invalid: %w", err)
	}
	return next, nil
}

// check validates patch references against the current plan: remove and
// update must name existing steps, add must use fresh ids, and no id may
// appear in more than one section.
func (patch *Patch) check(p *FullPlan) error {
	if patch.Type != TypePatch {
		return fmt.Errorf("type is %q, want %q", patch.Type, TypePatch)
	}

	existing := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		existing[s.ID] = true
	}

	seen := make(map[string]string) // id -> section
	claim := func(id, section string) error {
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("step %q referenced by both %s and %s", id, prev, section)
		}
		seen[id] = section
		return nil
	}

	for _, id := range patch.Remove {
		if !existing[id] {
			return fmt.Errorf("remove references unknown step %q", id)
		}
		if err := claim(id, "remove"); err != nil {
			return err
		}
	}
	for _, u := range patch.Update {
		if !existing[u.ID] {
			return fmt.Errorf("update references unknown step %q", u.ID)
		}
		if err := claim(u.ID, "update"); err != nil {
			return err
		}
	}
	for _, s := range patch.Add {
		if existing[s.ID] {
			return fmt.Errorf("add reuses existing step id %q", s.ID)
		}
		if err := claim(s.ID, "add"); err != nil {
			return err
		}
	}
	return nil
}

// dropDeps removes doomed ids from a dependency list. Steps that depended
// on a removed step keep their remaining dependencies; the model is expected
// to re-add ordering via update when it matters.
func dropDeps(deps []string, doomed map[string]bool) []string {
	var out []string
	for _, d := range deps {
		if !doomed[d] {
			out = append(out, d)
		}
	}
	return out
}
