package plan

import "sort"

// findCycle returns one dependency cycle as a step-id path, or nil when the
// graph is acyclic. Depth-first with three-color marking.
func findCycle(steps []Step) []string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.Dependencies
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				// Found: slice the stack from the first occurrence of dep.
				for i, v := range stack {
					if v == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// Ready returns the ids of pending steps whose dependencies are all done or
// skipped, in plan order.
func (p *FullPlan) Ready() []string {
	status := make(map[string]string, len(p.Steps))
	for _, s := range p.Steps {
		status[s.ID] = s.Status
	}
	var out []string
	for _, s := range p.Steps {
		if s.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range s.Dependencies {
			if st := status[dep]; st != StatusDone && st != StatusSkipped {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, s.ID)
		}
	}
	return out
}

// Remaining reports how many steps are not yet terminal.
func (p *FullPlan) Remaining() int {
	n := 0
	for _, s := range p.Steps {
		switch s.Status {
		case StatusDone, StatusSkipped, StatusFailed:
		default:
			n++
		}
	}
	return n
}

// Deadlocked reports whether steps remain but none can ever run: every
// non-terminal step waits on a failed or blocked chain.
func (p *FullPlan) Deadlocked() bool {
	if p.Remaining() == 0 {
		return false
	}
	if len(p.Ready()) > 0 {
		return false
	}
	// No step in progress either means nothing will change state.
	for _, s := range p.Steps {
		if s.Status == StatusInProgress {
			return false
		}
	}
	return true
}

// MarkBlocked sets pending steps whose dependency chain contains a failure
// to blocked, returning the ids it changed.
func (p *FullPlan) MarkBlocked() []string {
	status := make(map[string]string, len(p.Steps))
	for _, s := range p.Steps {
		status[s.ID] = s.Status
	}
	var changed []string
	// Iterate to a fixed point: blocking one step may block its dependents.
	for {
		progressed := false
		for i := range p.Steps {
			s := &p.Steps[i]
			if s.Status != StatusPending {
				continue
			}
			for _, dep := range s.Dependencies {
				if st := status[dep]; st == StatusFailed || st == StatusBlocked {
					s.Status = StatusBlocked
					status[s.ID] = StatusBlocked
					changed = append(changed, s.ID)
					progressed = true
					break
				}
			}
		}
		if !progressed {
			return changed
		}
	}
}

// Progress returns (done, total).
func (p *FullPlan) Progress() (int, int) {
	done := 0
	for _, s := range p.Steps {
		if s.Status == StatusDone {
			done++
		}
	}
	return done, len(p.Steps)
}
