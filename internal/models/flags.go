package models

// Phase is the state of the send-message state machine of a session.
type Phase int

const (
	// PhaseIdle means no send is in flight.
	PhaseIdle Phase = iota
	// PhaseDispatching means the user message was appended and the request is waiting for a response status.
	PhaseDispatching
	// PhaseStreamingFirstFragment means the placeholder assistant message exists but holds no content yet.
	PhaseStreamingFirstFragment
	// PhaseStreamingAccumulating means assistant content is arriving.
	PhaseStreamingAccumulating
	// PhaseReconciling means the stream is exhausted and the transcript is being re-fetched.
	PhaseReconciling
	// PhaseCompleted is the terminal state of a successful send.
	PhaseCompleted
	// PhaseFailed is the terminal state of a failed send.
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:                   "idle",
	PhaseDispatching:            "dispatching",
	PhaseStreamingFirstFragment: "streaming_first_fragment",
	PhaseStreamingAccumulating:  "streaming_accumulating",
	PhaseReconciling:            "reconciling",
	PhaseCompleted:              "completed",
	PhaseFailed:                 "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Flags holds the loading and error state observed by the user interface. Send progress is kept as a
// single Phase; UserSending and AssistantResponding are projections of it, so they cannot drift apart.
// The remaining booleans track phases that are independent of sending.
type Flags struct {
	Phase Phase

	// ChatsLoading is set while the conversation list is being fetched.
	ChatsLoading bool
	// ChatLoading is set while a single conversation is being fetched, created or deleted.
	ChatLoading bool
	// CompletedOnce gates the conversation list refresh after the first non-empty reply of a send.
	CompletedOnce bool

	// Error is a human readable description of the last failure, empty if none.
	Error string
}

// UserSending reports whether the user message is still being dispatched.
func (f Flags) UserSending() bool {
	return f.Phase == PhaseDispatching
}

// AssistantResponding reports whether a reply is awaited but no content has arrived yet.
func (f Flags) AssistantResponding() bool {
	return f.Phase == PhaseDispatching || f.Phase == PhaseStreamingFirstFragment
}

// Busy reports whether any asynchronous phase is active.
func (f Flags) Busy() bool {
	return f.Phase != PhaseIdle || f.ChatsLoading || f.ChatLoading
}
