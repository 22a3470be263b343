package pipeline

// State is the lifecycle phase of a run.
type State int

const (
	// StateOpening loads labels and the model, then opens the source and sink.
	StateOpening State = iota
	// StateStreaming moves frames from the source to the sink.
	StateStreaming
	// StateDraining finalizes the sink. It is entered from every earlier state.
	StateDraining
	// StateClosed is terminal. Every resource has been released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
