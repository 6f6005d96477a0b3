// internal/transaction/state.go
package transaction

// State is a position in the transaction lifecycle.
type State uint8

const (
	// StatePending means the network accepted the operation but has not included it yet.
	StatePending State = iota
	// StateMined means the operation is included in a block and executed successfully.
	StateMined
	// StateFinalized means enough blocks were built on top of the inclusion block.
	StateFinalized
	// StateError is the terminal failure state.
	StateError

	numStates = int(StateError) + 1
)

// StateConfirmed is another name for StateFinalized.
const StateConfirmed = StateFinalized

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateMined:
		return "mined"
	case StateFinalized:
		return "finalized"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateFinalized || s == StateError
}

func (s State) valid() bool {
	return int(s) < numStates
}

// canAdvance reports whether the lifecycle graph has an edge from -> to.
func canAdvance(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateMined || to == StateError
	case StateMined:
		return to == StateFinalized || to == StateError
	default:
		return false
	}
}
