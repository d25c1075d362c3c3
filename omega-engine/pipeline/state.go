package pipeline

// State is a stage of a transmit or receive run.
type State int

const (
	StateIdle State = iota
	StateEncoding
	StateMasking
	StateSweeping
	StateProjectingInvariant
	StateTransferringWeight
	StateKicking
	StateBroadcast
	StateMatchingResonance
	StateDecoding
	StateUnmasking
	StateDelivered
	StateDiscarded
)

var stateNames = map[State]string{
	StateIdle:                "idle",
	StateEncoding:            "encoding",
	StateMasking:             "masking",
	StateSweeping:            "sweeping",
	StateProjectingInvariant: "projecting_invariant",
	StateTransferringWeight:  "transferring_weight",
	StateKicking:             "kicking",
	StateBroadcast:           "broadcast",
	StateMatchingResonance:   "matching_resonance",
	StateDecoding:            "decoding",
	StateUnmasking:           "unmasking",
	StateDelivered:           "delivered",
	StateDiscarded:           "discarded",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether a run ends in s.
func (s State) Terminal() bool {
	return s == StateBroadcast || s == StateDelivered || s == StateDiscarded
}

// Observer is notified of every state a run enters, in order. It is called
// synchronously from the goroutine running the pipeline.
type Observer func(State)
