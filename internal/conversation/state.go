package conversation

// TurnState is the explicit state of the in-flight exchange. Exactly one
// submission may be between Submitted and Committing at any time.
type TurnState int

const (
	// StateIdle means no submission is in progress.
	StateIdle TurnState = iota
	// StateSubmitted means a query was accepted but streaming has not begun.
	StateSubmitted
	// StateStreaming means chunks are arriving for the pending turn.
	StateStreaming
	// StateCommitting means the stream ended and finalization is running.
	StateCommitting
	// StateCommitted means the last turn settled successfully.
	StateCommitted
	// StateCancelled means the user stopped the last turn; its partial
	// content stays visible but frozen.
	StateCancelled
	// StateErrored means the provider failed the last turn; its placeholder
	// was discarded.
	StateErrored
)

// Busy reports whether a submission is in flight and a new one must be
// rejected.
func (s TurnState) Busy() bool {
	return s == StateSubmitted || s == StateStreaming || s == StateCommitting
}

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitted:
		return "submitted"
	case StateStreaming:
		return "streaming"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
