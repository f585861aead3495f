package session

// State is the session lifecycle state.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateReady
	StateListening
	StateThinking
	StateSpeaking
	StateError
	StateClosed
)

var stateNames = [...]string{"init", "connecting", "ready", "listening", "thinking", "speaking", "error", "closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) active() bool {
	return s >= StateReady && s <= StateSpeaking
}

// canTransition is the lifecycle table. Turn-taking among the active states
// is left to the agent, since a user may barge in while it speaks.
func canTransition(from, to State) bool {
	switch {
	case from == StateClosed:
		return false
	case to == StateClosed:
		return true
	case from == StateError:
		return false
	case from == StateInit:
		return to == StateConnecting
	case from == StateConnecting:
		return to == StateReady || to == StateError
	case from.active():
		return to.active() || to == StateError
	default:
		return false
	}
}
