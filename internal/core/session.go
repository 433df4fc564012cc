package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/tapdesk/pos-agent/internal/logging"
)

// State is the card session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateActive
	StateReading
	StateWriting
	StateVerifying
	StateReleasing
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	case StateVerifying:
		return "verifying"
	case StateReleasing:
		return "releasing"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// IdentifierStrategy selects how a card identifier is sourced.
type IdentifierStrategy string

const (
	// StrategyUID uses the tag's immutable hardware UID, hex-rendered.
	StrategyUID IdentifierStrategy = "uid"
	// StrategyCode uses a fixed-length logical code stored in an NDEF text
	// record on the tag.
	StrategyCode IdentifierStrategy = "code"
)

// SessionConfig tunes a Session.
type SessionConfig struct {
	Strategy    IdentifierStrategy
	CodeLength  int
	SettleDelay time.Duration // wait after write before it counts as durable
	TapTimeout  time.Duration // how long to wait for a tag per acquire
}

// DefaultSessionConfig returns the standard configuration: logical 6-char
// codes, 600ms settle, 15s tap window.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Strategy:    StrategyCode,
		CodeLength:  6,
		SettleDelay: 600 * time.Millisecond,
		TapTimeout:  15 * time.Second,
	}
}

// Session drives a single radio technology session through
// acquire → operate → release, guaranteeing the radio is released exactly
// once on every exit path. At most one session should be active per reader;
// Acquire force-releases any stale prior session.
type Session struct {
	factory ContextFactory
	reader  string
	cfg     SessionConfig

	mu    sync.Mutex
	state State
	sctx  SmartCardContext
	card  SmartCard
}

// NewSession creates a session bound to one reader. The factory is the
// process-wide radio handle; it is not re-initialized per session.
func NewSession(factory ContextFactory, reader string, cfg SessionConfig) *Session {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 600 * time.Millisecond
	}
	if cfg.TapTimeout <= 0 {
		cfg.TapTimeout = 15 * time.Second
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyCode
	}
	return &Session{factory: factory, reader: reader, cfg: cfg}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reader returns the reader name this session is bound to.
func (s *Session) Reader() string {
	return s.reader
}

// Strategy returns the configured identifier strategy.
func (s *Session) Strategy() IdentifierStrategy {
	return s.cfg.Strategy
}

// CodeLength returns the configured logical code length.
func (s *Session) CodeLength() int {
	return s.cfg.CodeLength
}

// Acquire claims the radio and waits for a tag to arrive in the field.
// Any stale prior session is force-released first. Returns
// ErrRadioUnavailable when the hardware cannot be claimed and
// ErrNoTagPresent when no tag answers within the tap timeout.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		// A previous session may not have cleanly released, e.g. after an
		// app suspend mid-operation.
		logging.Warn(logging.CatSession, "Force-releasing stale session", map[string]any{
			"state": s.state.String(),
		})
		s.releaseLocked()
	}
	s.state = StateAcquiring
	s.mu.Unlock()

	sctx, err := s.factory.EstablishContext()
	if err != nil {
		s.fail()
		return fmt.Errorf("%w: establish context: %v", ErrRadioUnavailable, err)
	}
	// Kill any outstanding technology request left behind by a prior owner.
	_ = sctx.Cancel()

	s.mu.Lock()
	if s.state != StateAcquiring {
		s.mu.Unlock()
		_ = sctx.Release()
		return context.Canceled
	}
	s.sctx = sctx
	s.mu.Unlock()

	if err := s.waitForTag(ctx, sctx); err != nil {
		s.Release()
		return err
	}

	card, err := sctx.Connect(s.reader)
	if err != nil {
		s.Release()
		return fmt.Errorf("%w: connect: %v", ErrNoTagPresent, err)
	}

	s.mu.Lock()
	if s.state != StateAcquiring {
		s.mu.Unlock()
		_ = card.Disconnect()
		return context.Canceled
	}
	s.card = card
	s.state = StateActive
	s.mu.Unlock()

	logging.Debug(logging.CatSession, "Session active", map[string]any{
		"reader": s.reader,
	})
	return nil
}

// waitForTag blocks until a tag is present, the tap timeout elapses, or ctx
// is cancelled. Cancellation cancels the outstanding radio request so the
// wait unblocks promptly.
func (s *Session) waitForTag(ctx context.Context, sctx SmartCardContext) error {
	done := make(chan error, 1)
	go func() {
		done <- sctx.WaitForCard(s.reader, s.cfg.TapTimeout)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoTagPresent, err)
		}
		return nil
	case <-ctx.Done():
		_ = sctx.Cancel()
		<-done
		return ctx.Err()
	}
}

// ReadIdentifier resolves the card identifier with the configured strategy.
// Valid only while the session is Active.
func (s *Session) ReadIdentifier(ctx context.Context) (string, error) {
	return s.readIdentifierAs(ctx, StateReading)
}

func (s *Session) readIdentifierAs(ctx context.Context, opState State) (identifier string, err error) {
	card, err := s.beginOp(opState)
	if err != nil {
		return "", err
	}
	defer func() { s.endOp(err) }()

	if err = ctx.Err(); err != nil {
		return "", err
	}

	switch s.cfg.Strategy {
	case StrategyUID:
		var uid []byte
		uid, err = readUID(card)
		if err != nil {
			return "", err
		}
		identifier = hex.EncodeToString(uid)

	default: // StrategyCode
		var area []byte
		area, err = readNDEFArea(card)
		if err != nil {
			return "", err
		}
		var message []byte
		message, err = ExtractMessage(area)
		if err != nil {
			return "", err
		}
		identifier, err = FindTextRecord(message)
		if err != nil {
			return "", err
		}
		if len(identifier) != s.cfg.CodeLength {
			err = fmt.Errorf("%w: got %d chars, want %d", ErrCodeLengthMismatch, len(identifier), s.cfg.CodeLength)
			return "", err
		}
	}

	logging.Debug(logging.CatSession, "Identifier read", map[string]any{
		"strategy": string(s.cfg.Strategy),
	})
	return identifier, nil
}

// ReadProfile returns the payload of the MIME-typed companion record on the
// tag, or nil when no such record is present. Valid only while the session is
// Active.
func (s *Session) ReadProfile(ctx context.Context, mimeType string) (payload []byte, err error) {
	card, err := s.beginOp(StateReading)
	if err != nil {
		return nil, err
	}
	defer func() { s.endOp(err) }()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	area, err := readNDEFArea(card)
	if err != nil {
		return nil, err
	}
	message, err := ExtractMessage(area)
	if err != nil {
		return nil, err
	}
	return FindMIMERecord(message, mimeType), nil
}

// Erase overwrites the start of user memory with an empty NDEF message,
// making the tag read as carrying no application record.
func (s *Session) Erase(ctx context.Context) (err error) {
	card, err := s.beginOp(StateWriting)
	if err != nil {
		return err
	}
	defer func() { s.endOp(err) }()

	if err = ctx.Err(); err != nil {
		return err
	}
	if err = eraseNDEF(card); err != nil {
		return err
	}

	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		err = ctx.Err()
		return err
	}

	logging.Info(logging.CatSession, "Tag erased", map[string]any{
		"reader": s.reader,
	})
	return nil
}

// WriteIdentifier writes a logical code to the tag as an NDEF text record.
// The prior content is erased defensively first; an unsupported erase is
// non-fatal. After the write the session waits the settle delay, since the
// radio can report write-complete before the tag's memory controller has
// committed.
func (s *Session) WriteIdentifier(ctx context.Context, code string) error {
	return s.writeMessage(ctx, WrapTLV(EncodeTextRecord(code)), code)
}

// WriteIdentifierWithProfile writes the code plus a MIME-typed companion
// record in a single two-record message.
func (s *Session) WriteIdentifierWithProfile(ctx context.Context, code, mimeType string, profile []byte) error {
	return s.writeMessage(ctx, WrapTLV(EncodeTextWithMIME(code, mimeType, profile)), code)
}

func (s *Session) writeMessage(ctx context.Context, tlv []byte, code string) (err error) {
	if s.cfg.Strategy == StrategyCode && len(code) != s.cfg.CodeLength {
		return fmt.Errorf("%w: writing %d chars, want %d", ErrCodeLengthMismatch, len(code), s.cfg.CodeLength)
	}

	card, err := s.beginOp(StateWriting)
	if err != nil {
		return err
	}
	defer func() { s.endOp(err) }()

	if err = ctx.Err(); err != nil {
		return err
	}

	if eraseErr := eraseNDEF(card); eraseErr != nil {
		// Erase support varies by tag type; the full write below overwrites
		// the same pages anyway.
		logging.Debug(logging.CatSession, "Pre-write erase not supported", map[string]any{
			"error": eraseErr.Error(),
		})
	}

	if err = writePages(card, ndefStartPage, tlv); err != nil {
		return err
	}

	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		err = ctx.Err()
		return err
	}

	logging.Info(logging.CatSession, "Identifier written", map[string]any{
		"reader": s.reader,
		"bytes":  len(tlv),
	})
	return nil
}

// VerifyByReread fully releases and reacquires the session (the user lifts
// and re-taps the card, since some tags cannot be read immediately after a
// write in the same field), reads the identifier back and compares it with
// the written value. A mismatch is a hard failure: an unverified write risks
// a card whose stored code does not match the ledger account.
func (s *Session) VerifyByReread(ctx context.Context, written string) error {
	s.Release()

	if err := s.Acquire(ctx); err != nil {
		return err
	}

	got, err := s.readIdentifierAs(ctx, StateVerifying)
	if err != nil {
		return err
	}
	if got != written {
		return fmt.Errorf("%w: wrote %q, read back %q", ErrVerificationMismatch, written, got)
	}

	logging.Debug(logging.CatSession, "Write verified by re-read", map[string]any{
		"reader": s.reader,
	})
	return nil
}

// Release cancels any outstanding radio request and returns the session to
// Idle. It is idempotent and safe to call from any state, including
// concurrently with a blocked Acquire or read; it must run on every exit
// path after Acquire, since a leaked radio session blocks all subsequent
// card operations until process restart.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Session) releaseLocked() {
	if s.state == StateIdle {
		return
	}
	s.state = StateReleasing
	if s.sctx != nil {
		_ = s.sctx.Cancel()
	}
	if s.card != nil {
		_ = s.card.Disconnect()
		s.card = nil
	}
	if s.sctx != nil {
		_ = s.sctx.Release()
		s.sctx = nil
	}
	s.state = StateIdle
}

// beginOp transitions Active → opState and hands out the connected card.
func (s *Session) beginOp(opState State) (SmartCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.card == nil {
		return nil, fmt.Errorf("%w: state %s", ErrSessionNotActive, s.state)
	}
	s.state = opState
	return s.card, nil
}

// endOp returns to Active on success, or marks the session Aborted so the
// deferred Release is the only way forward.
func (s *Session) endOp(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReading, StateWriting, StateVerifying:
		if err != nil {
			s.state = StateAborted
		} else {
			s.state = StateActive
		}
	}
}

// fail returns to Idle after an acquire that never claimed the radio.
func (s *Session) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
}
