package session

// State is the lifecycle position of one generation request.
type State int

const (
	StateIdle State = iota
	StateSubmitted
	StateStreaming
	StateCompleted
	StateCanceled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateSubmitted: "submitted",
	StateStreaming: "streaming",
	StateCompleted: "completed",
	StateCanceled:  "canceled",
	StateFailed:    "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCanceled || s == StateFailed
}

func ParseState(s string) State {
	for state, name := range stateNames {
		if name == s {
			return state
		}
	}
	return StateIdle
}

// Progress tracks sampling of the image currently being produced.
type Progress struct {
	Step       int
	Total      int
	PreviewURL string
}

// Fraction is Step/Total clamped to [0,1]. Zero totals report 0.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Step) / float64(p.Total)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}
