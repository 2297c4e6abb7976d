package record

import (
	"errors"
	"fmt"
)

// State is the lifecycle status of a clinical record.
type State string

const (
	StateDraft     State = "draft"
	StateInReview  State = "in_review"
	StateFinalized State = "finalized"
	StateVoided    State = "voided"
)

func (s State) Valid() bool {
	switch s {
	case StateDraft, StateInReview, StateFinalized, StateVoided:
		return true
	}
	return false
}

// IsEditable reports whether sections and notes may be changed. Only drafts are.
func (s State) IsEditable() bool {
	return s == StateDraft
}

func (s State) IsTerminal() bool {
	return s == StateFinalized || s == StateVoided
}

// Action is a lifecycle transition request.
type Action string

const (
	ActionSubmitForReview Action = "submit-for-review"
	ActionFinalize        Action = "finalize"
	ActionVoid            Action = "void"
)

// ParseAction maps a wire value to an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionSubmitForReview, ActionFinalize, ActionVoid:
		return a, nil
	}
	return "", fmt.Errorf("unknown action: %q", s)
}

// Event returns the name published when the action succeeds.
func (a Action) Event() string {
	switch a {
	case ActionSubmitForReview:
		return "record.in_review"
	case ActionFinalize:
		return "record.finalized"
	case ActionVoid:
		return "record.voided"
	}
	return "record." + string(a)
}

type edge struct {
	from   State
	action Action
}

var transitions = map[edge]State{
	{StateDraft, ActionSubmitForReview}: StateInReview,
	{StateInReview, ActionFinalize}:     StateFinalized,
	{StateDraft, ActionVoid}:            StateVoided,
	{StateInReview, ActionVoid}:         StateVoided,
}

// actionOrder keeps AllowedActions deterministic.
var actionOrder = [...]Action{ActionSubmitForReview, ActionFinalize, ActionVoid}

// ErrIllegalTransition is wrapped by every TransitionError.
var ErrIllegalTransition = errors.New("illegal state transition")

// TransitionError describes a rejected lifecycle transition.
type TransitionError struct {
	From   State
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a record in state %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// Transition returns the state reached by applying action in state from.
func Transition(from State, action Action) (State, error) {
	to, ok := transitions[edge{from, action}]
	if !ok {
		return from, &TransitionError{From: from, Action: action}
	}
	return to, nil
}

// CanTransition reports whether action is legal in state from.
func CanTransition(from State, action Action) bool {
	_, ok := transitions[edge{from, action}]
	return ok
}

// AllowedActions lists the actions legal in state s.
func AllowedActions(s State) []Action {
	var out []Action
	for _, a := range actionOrder {
		if CanTransition(s, a) {
			out = append(out, a)
		}
	}
	return out
}
