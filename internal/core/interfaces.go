package core

import "time"

// SmartCardContext represents a claimed radio context: reader discovery,
// tag presence waits, and connections to a tag in the field.
type SmartCardContext interface {
	ListReaders() ([]string, error)
	// WaitForCard blocks until a tag is present on the reader or the timeout
	// elapses. Cancel unblocks it early.
	WaitForCard(reader string, timeout time.Duration) error
	// Cancel aborts any outstanding request on this context.
	Cancel() error
	Connect(reader string) (SmartCard, error)
	Release() error
}

// SmartCard represents a connected tag for transmitting APDU commands.
type SmartCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (SmartCardStatus, error)
	Disconnect() error
}

// SmartCardStatus reports the state of a connected tag.
type SmartCardStatus struct {
	Reader         string
	State          uint32
	ActiveProtocol uint32
	Atr            []byte
}

// ContextFactory creates SmartCardContext instances. The factory is the
// process-wide radio handle: created once at startup, passed to every
// Session, and mocked in tests.
type ContextFactory interface {
	EstablishContext() (SmartCardContext, error)
}
