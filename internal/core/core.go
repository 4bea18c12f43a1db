// Package core is the generic node engine the turn pipeline runs on. A node
// follows the Prep, Exec, Post lifecycle; flows route between nodes on the
// action a node returns. The agent package builds the classify/plan/execute
// pipeline out of these pieces.
package core

import "context"

// Action routes flow control between nodes.
type Action string

// Routing actions used by the turn pipeline.
const (
	ActionDefault Action = "default"
	ActionDone    Action = "done"
	ActionFailure Action = "failure"

	// Turn pipeline routing.
	ActionPlan      Action = "plan"      // intent wants an explicit plan
	ActionReact     Action = "react"     // planning disabled or abandoned
	ActionExecute   Action = "execute"   // plan accepted, run the steps
	ActionVerify    Action = "verify"    // steps finished, run verification
	ActionSummarize Action = "summarize" // produce the final answer
)

// BaseNode is the three-phase node contract.
//
// Type parameters: State is the shared turn state, PrepResult the work items
// Prep derives from it, ExecResults what Exec produces per item.
type BaseNode[State any, PrepResult any, ExecResults any] interface {
	// Prep reads shared state and produces work items for Exec.
	Prep(state *State) []PrepResult

	// Exec performs the node's work on one item. It must not touch shared
	// state; that is Post's job.
	Exec(ctx context.Context, prepResult PrepResult) (ExecResults, error)

	// Post folds results into state and picks the next action.
	Post(state *State, prepRes []PrepResult, execResults ...ExecResults) Action

	// ExecFallback materializes a result when Exec failed after retries.
	ExecFallback(err error) ExecResults
}

// Workflow is anything runnable in a flow: a single node or a nested flow.
type Workflow[State any] interface {
	Run(ctx context.Context, state *State) Action
	GetSuccessor(action Action) Workflow[State]
	AddSuccessor(successor Workflow[State], action ...Action) Workflow[State]
}
