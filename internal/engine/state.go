// Package engine evaluates conversation events against the rule store and
// executes the rules that match.
package engine

import (
	"context"

	"github.com/qmuntal/stateless"
)

// State is a stage in one rule-execution's lifecycle.
type State string

const (
	StateMatching  State = "matching"
	StateAdmitted  State = "admitted"
	StateExecuting State = "executing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// IsTerminal reports whether the state ends the lifecycle.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

type lifecycleTrigger string

const (
	triggerAdmit   lifecycleTrigger = "admit"
	triggerExecute lifecycleTrigger = "execute"
	triggerSucceed lifecycleTrigger = "succeed"
	triggerFail    lifecycleTrigger = "fail"
)

// lifecycle tracks one rule-execution through its states. A rule that is not
// admitted never leaves Matching and records nothing.
type lifecycle struct {
	sm *stateless.StateMachine
}

func newLifecycle() *lifecycle {
	sm := stateless.NewStateMachine(StateMatching)

	sm.Configure(StateMatching).
		Permit(triggerAdmit, StateAdmitted)

	sm.Configure(StateAdmitted).
		Permit(triggerExecute, StateExecuting)

	sm.Configure(StateExecuting).
		Permit(triggerSucceed, StateSucceeded).
		Permit(triggerFail, StateFailed)

	sm.Configure(StateSucceeded)
	sm.Configure(StateFailed)

	return &lifecycle{sm: sm}
}

func (l *lifecycle) admit(ctx context.Context) error {
	return l.sm.FireCtx(ctx, triggerAdmit)
}

func (l *lifecycle) execute(ctx context.Context) error {
	return l.sm.FireCtx(ctx, triggerExecute)
}

// finish moves the execution to its terminal state.
func (l *lifecycle) finish(ctx context.Context, success bool) error {
	if success {
		return l.sm.FireCtx(ctx, triggerSucceed)
	}
	return l.sm.FireCtx(ctx, triggerFail)
}

func (l *lifecycle) state() State {
	return l.sm.MustState().(State)
}
