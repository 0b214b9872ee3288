package pipeline

// State is a pipeline run's position. Done and Failed are terminal.
type State int

const (
	Idle State = iota
	ConfigLoading
	Fetching
	Decompressing
	Filtering
	Notifying
	Done
	Failed
)

var stateNames = [...]string{
	Idle:          "Idle",
	ConfigLoading: "ConfigLoading",
	Fetching:      "Fetching",
	Decompressing: "Decompressing",
	Filtering:     "Filtering",
	Notifying:     "Notifying",
	Done:          "Done",
	Failed:        "Failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// next is the single forward transition out of each non-terminal state.
var next = map[State]State{
	Idle:          ConfigLoading,
	ConfigLoading: Fetching,
	Fetching:      Decompressing,
	Decompressing: Filtering,
	Filtering:     Notifying,
	Notifying:     Done,
}

// canTransition reports whether from -> to is legal: the next stage in
// order, or Failed from any non-terminal state.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	return next[from] == to
}
