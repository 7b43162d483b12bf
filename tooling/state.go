package tooling

import (
	"fmt"
	"strings"
)

// =============================================================================
// TOOL STATE - Lifecycle state machine
// =============================================================================
//
//   NEW ──mount──► IN_USE ◄──mount── SHARPENED
//                    │                  ▲
//                    └─────unmount──────┘
//
//   any non-terminal ──► BROKEN | WORN | LOST   (terminal, absorbing)
//
// Non-terminal states may also be corrected into each other through SetState.
// Nothing leaves a terminal state.

// ToolState is the lifecycle state of a tool instance.
type ToolState string

const (
	StateNew       ToolState = "NEW"
	StateInUse     ToolState = "IN_USE"
	StateSharpened ToolState = "SHARPENED"
	StateWorn      ToolState = "WORN"
	StateBroken    ToolState = "BROKEN"
	StateLost      ToolState = "LOST"
)

// AllStates lists every state in lifecycle order.
var AllStates = []ToolState{StateNew, StateInUse, StateSharpened, StateWorn, StateBroken, StateLost}

// ParseToolState converts user input to a ToolState. Case-insensitive.
func ParseToolState(s string) (ToolState, error) {
	st := ToolState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", &ValidationError{Field: "state", Message: fmt.Sprintf("unknown tool state %q", s)}
	}
	return st, nil
}

// Valid reports whether s is one of the known states.
func (s ToolState) Valid() bool {
	switch s {
	case StateNew, StateInUse, StateSharpened, StateWorn, StateBroken, StateLost:
		return true
	}
	return false
}

// IsTerminal reports whether s is BROKEN, WORN or LOST.
func (s ToolState) IsTerminal() bool {
	return s == StateBroken || s == StateWorn || s == StateLost
}

func (s ToolState) String() string { return string(s) }

// CanTransition reports whether a tool in state from may move to state to.
func CanTransition(from, to ToolState) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return !from.IsTerminal()
}

// checkTransition returns a StateTransitionError when from -> to is not allowed.
func checkTransition(tool ToolInstance, to ToolState, op string) error {
	if CanTransition(tool.State, to) {
		return nil
	}
	return &StateTransitionError{
		ToolID: tool.ID.String(),
		From:   tool.State,
		To:     to,
		Op:     op,
	}
}
