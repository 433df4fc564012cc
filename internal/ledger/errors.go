package ledger

import "fmt"

// ValidationError reports client-side input rejection; no request was sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ServerRejected reports a non-success response from the ledger service,
// carrying the server-provided detail message (structured JSON when
// available, raw body text otherwise).
type ServerRejected struct {
	StatusCode int
	Detail     string
}

func (e *ServerRejected) Error() string {
	return fmt.Sprintf("ledger rejected request (HTTP %d): %s", e.StatusCode, e.Detail)
}

// NetworkError reports a transport failure. After a timeout the true server
// state is unknown: the mutation may or may not have been applied.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
