package terminal

// Event is a progress notification pushed to UI subscribers while an
// operation is in flight.
type Event struct {
	Type       string    `json:"type"`
	Operation  Operation `json:"operation,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Event types.
const (
	EventTapPrompt     = "tap_prompt"     // waiting for a card, re-sent per attempt
	EventCardDetected  = "card_detected"  // identifier resolved
	EventCardReleased  = "card_released"  // session returned to idle
	EventOperationDone = "operation_done" // ledger call succeeded
	EventOperationFail = "operation_fail" // terminal failure, no further attempts
)

// EventSink receives operation progress events. Emit must not block; the
// WebSocket hub drops events for slow subscribers rather than stalling the
// card session.
type EventSink interface {
	Emit(Event)
}

// discardSink is used when no UI is attached.
type discardSink struct{}

func (discardSink) Emit(Event) {}
