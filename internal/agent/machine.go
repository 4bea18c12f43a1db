// Package agent is the orchestrator: it drives a turn through intent
// classification, profile selection, planning, tool execution, verification,
// and summary on top of the core flow engine. The turn lifecycle is tracked
// by an explicit state machine so every transition lands in the event stream.
package agent

import (
	"fmt"
	"log"

	"github.com/cludelabs/clude/internal/event"
)

// State is one turn lifecycle state.
type State string

const (
	StateIdle           State = "IDLE"
	StateIntake         State = "INTAKE"
	StateClarifying     State = "CLARIFYING"
	StateContextBuild   State = "CONTEXT_BUILDING"
	StatePlanning       State = "PLANNING"
	StateExecuting      State = "EXECUTING"
	StateVerifying      State = "VERIFYING"
	StateSummarizing    State = "SUMMARIZING"
	StateAwaitingAnswer State = "AWAITING_CONFIRMATION"
	StateRecovering     State = "RECOVERING"
	StateBlocked        State = "BLOCKED"
	StateDone           State = "DONE"
)

// Input is an external event fed to the machine. The set is closed; anything
// else the runtime does is internal advancement via Enter.
type Input string

const (
	InputUserMessage     Input = "USER_MESSAGE"
	InputToolCallRequest Input = "TOOL_CALL_REQUEST"
	InputToolCallResult  Input = "TOOL_CALL_RESULT"
	InputConfirm         Input = "CONFIRM"
	InputTimeout         Input = "TIMEOUT"
	InputCancel          Input = "CANCEL"
	InputStepDone        Input = "STEP_DONE"
	InputReplan          Input = "REPLAN"
)

// transitions is the input-driven part of the machine. CANCEL is handled
// separately: it reaches DONE from every state.
var transitions = map[State]map[Input]State{
	StateIdle:       {InputUserMessage: StateIntake},
	StateClarifying: {InputUserMessage: StateIntake},
	StateBlocked:    {InputUserMessage: StateIntake},
	StateDone:       {InputUserMessage: StateIntake},
	StatePlanning:   {InputReplan: StatePlanning},
	StateExecuting: {
		InputToolCallRequest: StateAwaitingAnswer,
		InputToolCallResult:  StateExecuting,
		InputStepDone:        StateExecuting,
		InputReplan:          StatePlanning,
		InputTimeout:         StateRecovering,
	},
	StateAwaitingAnswer: {
		InputConfirm: StateExecuting,
		InputTimeout: StateRecovering,
	},
	StateVerifying: {
		InputToolCallRequest: StateAwaitingAnswer,
		InputToolCallResult:  StateVerifying,
		InputTimeout:         StateRecovering,
	},
	StateRecovering: {InputReplan: StatePlanning},
}

// successors is the internal advancement graph: which states a pipeline
// stage may move to without an external input.
var successors = map[State][]State{
	StateIntake:       {StateClarifying, StateContextBuild},
	StateClarifying:   {StateDone},
	StateContextBuild: {StatePlanning, StateExecuting},
	StatePlanning:     {StateExecuting, StateSummarizing},
	StateExecuting:    {StateVerifying, StateSummarizing, StateRecovering, StateBlocked},
	StateVerifying:    {StateSummarizing, StateRecovering},
	StateRecovering:   {StateExecuting, StateBlocked, StateSummarizing},
	StateBlocked:      {StateSummarizing},
	StateSummarizing:  {StateDone},
}

// Machine tracks the turn lifecycle and emits a state event per transition.
//
// Invalid transitions are programming errors. In debug they are returned to
// the caller, which aborts the turn; in release they are logged and the
// transition is forced so a bookkeeping bug degrades observability instead
// of killing the session.
type Machine struct {
	bus   *event.Bus
	debug bool
	state State
}

// NewMachine starts a machine in IDLE.
func NewMachine(bus *event.Bus, debug bool) *Machine {
	return &Machine{bus: bus, debug: debug, state: StateIdle}
}

// Current returns the current state.
func (m *Machine) Current() State { return m.state }

// Apply feeds an external input. CANCEL reaches DONE from any state.
func (m *Machine) Apply(in Input) error {
	if in == InputCancel {
		m.move(m.state, StateDone, string(in))
		return nil
	}
	next, ok := transitions[m.state][in]
	if !ok {
		return m.invalid(fmt.Sprintf("input %s in state %s", in, m.state), m.state)
	}
	m.move(m.state, next, string(in))
	return nil
}

// Enter advances to an internal successor state.
func (m *Machine) Enter(next State) error {
	for _, s := range successors[m.state] {
		if s == next {
			m.move(m.state, next, "")
			return nil
		}
	}
	return m.invalid(fmt.Sprintf("enter %s from %s", next, m.state), next)
}

func (m *Machine) invalid(desc string, forced State) error {
	if m.debug {
		return fmt.Errorf("invalid transition: %s", desc)
	}
	log.Printf("[Machine] Invalid transition (%s), forcing", desc)
	m.move(m.state, forced, "forced")
	return nil
}

func (m *Machine) move(from, to State, input string) {
	m.state = to
	if m.bus == nil || from == to {
		return
	}
	payload := map[string]any{"from": string(from), "to": string(to)}
	if input != "" {
		payload["input"] = input
	}
	m.bus.Emit(event.KindState, payload)
}
