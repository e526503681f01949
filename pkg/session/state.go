package session

import "time"

type State int

const (
	StateIdle State = iota
	StateGreeting
	StateListening
	StateProcessing
	StateSpeaking
	StateInterrupted
	StateEnded
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateGreeting:
		return "GREETING"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	case StateSpeaking:
		return "SPEAKING"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// validTransitions lists the allowed targets per state. Ended is reachable
// from every state and is absorbing.
var validTransitions = map[State][]State{
	StateIdle:        {StateGreeting},
	StateGreeting:    {StateSpeaking, StateListening, StateProcessing},
	StateListening:   {StateProcessing, StateSpeaking},
	StateProcessing:  {StateSpeaking, StateListening},
	StateSpeaking:    {StateListening, StateInterrupted},
	StateInterrupted: {StateListening},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	if from == StateEnded {
		return false
	}
	if to == StateEnded {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateChange represents a state transition event.
type StateChange struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// StateListener observes session state changes. Listeners run after the
// session lock is released and must not block.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(event StateChange)

func (f StateListenerFunc) OnStateChange(event StateChange) { f(event) }
