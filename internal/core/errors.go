package core

import "errors"

// Card-session error taxonomy. Transient errors (ErrNoTagPresent, ErrTimeout)
// are user-paced tap events and may be retried by re-prompting; the rest are
// terminal for the session in progress.
var (
	ErrRadioUnavailable     = errors.New("radio unavailable")
	ErrNoTagPresent         = errors.New("no tag present")
	ErrTimeout              = errors.New("tag operation timed out")
	ErrNoPayload            = errors.New("tag carries no application record")
	ErrMalformedPayload     = errors.New("tag payload cannot be decoded")
	ErrCodeLengthMismatch   = errors.New("stored code length mismatch")
	ErrWriteRejected        = errors.New("tag rejected write")
	ErrVerificationMismatch = errors.New("read-back does not match written code")
	ErrSessionNotActive     = errors.New("session not active")
)

// IsTransient reports whether err is a tap-timing failure that the caller
// should handle by prompting the user to re-tap, rather than giving up.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNoTagPresent) || errors.Is(err, ErrTimeout)
}
