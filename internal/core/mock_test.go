package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// MockFactory implements ContextFactory for testing
type MockFactory struct {
	mu          sync.Mutex
	ctx         *MockSmartCardContext
	establishes int
	failMsg     string
}

// NewMockFactory wraps one mock context; the same context is handed out for
// every establish so tests can inspect it after the session is done.
func NewMockFactory(ctx *MockSmartCardContext) *MockFactory {
	return &MockFactory{ctx: ctx}
}

// WithError makes EstablishContext fail
func (f *MockFactory) WithError(msg string) *MockFactory {
	f.failMsg = msg
	return f
}

func (f *MockFactory) EstablishContext() (SmartCardContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMsg != "" {
		return nil, errors.New(f.failMsg)
	}
	f.establishes++
	return f.ctx, nil
}

// Establishes returns how many contexts were handed out
func (f *MockFactory) Establishes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.establishes
}

// MockSmartCardContext implements SmartCardContext for testing
type MockSmartCardContext struct {
	mu          sync.Mutex
	readers     []string
	cards       map[string]*MockSmartCard
	cancelCh    chan struct{}
	waitCalls   int
	absentWaits int // initial WaitForCard calls that report no tag
	releases    int
}

// NewMockContext creates a mock context with one reader and no card
func NewMockContext() *MockSmartCardContext {
	return &MockSmartCardContext{
		readers:  []string{"ACS ACR122U PICC Interface"},
		cards:    make(map[string]*MockSmartCard),
		cancelCh: make(chan struct{}),
	}
}

// WithCard places a mock card on a reader
func (m *MockSmartCardContext) WithCard(reader string, card *MockSmartCard) *MockSmartCardContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[reader] = card
	return m
}

// WithAbsentWaits makes the first n WaitForCard calls report no tag, so
// re-prompt loops can be exercised
func (m *MockSmartCardContext) WithAbsentWaits(n int) *MockSmartCardContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absentWaits = n
	return m
}

func (m *MockSmartCardContext) ListReaders() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readers, nil
}

func (m *MockSmartCardContext) WaitForCard(reader string, timeout time.Duration) error {
	m.mu.Lock()
	m.waitCalls++
	card := m.cards[reader]
	absent := card == nil || m.waitCalls <= m.absentWaits
	ch := m.cancelCh
	m.mu.Unlock()

	if !absent {
		return nil
	}

	select {
	case <-time.After(timeout):
		return fmt.Errorf("no card detected within %s", timeout)
	case <-ch:
		return errors.New("wait cancelled")
	}
}

func (m *MockSmartCardContext) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.cancelCh)
	m.cancelCh = make(chan struct{})
	return nil
}

func (m *MockSmartCardContext) Connect(reader string) (SmartCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[reader]
	if !ok {
		return nil, errors.New("no card present")
	}
	card.reconnect()
	return card, nil
}

func (m *MockSmartCardContext) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	return nil
}

// Releases returns how many times the context was released
func (m *MockSmartCardContext) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

// WaitCalls returns how many tag waits were attempted
func (m *MockSmartCardContext) WaitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitCalls
}

// MockSmartCard implements SmartCard backed by a real page array, so reads
// return what writes stored and NDEF round trips are exercised end to end.
type MockSmartCard struct {
	mu           sync.Mutex
	uid          []byte
	memory       []byte // 4-byte pages, absolute addressing
	transmitErr  error
	rejectWrites bool
	disconnected bool
}

const mockPages = 226

// NewMockTag creates a blank tag with the given UID
func NewMockTag(uid []byte) *MockSmartCard {
	return &MockSmartCard{
		uid:    uid,
		memory: make([]byte, mockPages*4),
	}
}

// WithText pre-loads a TLV-wrapped NDEF text record, as a provisioned card
// would carry
func (m *MockSmartCard) WithText(text string) *MockSmartCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	tlv := WrapTLV(EncodeTextRecord(text))
	copy(m.memory[ndefStartPage*4:], tlv)
	return m
}

// WithRawNDEF pre-loads raw bytes at the start of user memory
func (m *MockSmartCard) WithRawNDEF(data []byte) *MockSmartCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.memory[ndefStartPage*4:] {
		m.memory[ndefStartPage*4+i] = 0
	}
	copy(m.memory[ndefStartPage*4:], data)
	return m
}

// WithTransmitError makes every Transmit fail, as when the tag leaves the
// field mid-operation
func (m *MockSmartCard) WithTransmitError(msg string) *MockSmartCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transmitErr = errors.New(msg)
	return m
}

// WithRejectedWrites makes writes NAK while reads still work
func (m *MockSmartCard) WithRejectedWrites() *MockSmartCard {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectWrites = true
	return m
}

// UserMemory returns a copy of the tag's user memory for assertions
func (m *MockSmartCard) UserMemory() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.memory)-ndefStartPage*4)
	copy(out, m.memory[ndefStartPage*4:])
	return out
}

func (m *MockSmartCard) reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = false
}

func (m *MockSmartCard) Transmit(cmd []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transmitErr != nil {
		return nil, m.transmitErr
	}
	if m.disconnected {
		return nil, errors.New("card disconnected")
	}
	if len(cmd) < 5 {
		return []byte{0x6A, 0x81}, nil
	}

	switch {
	// GET UID
	case cmd[0] == 0xFF && cmd[1] == 0xCA:
		return append(append([]byte{}, m.uid...), 0x90, 0x00), nil

	// READ BINARY
	case cmd[0] == 0xFF && cmd[1] == 0xB0:
		page := int(cmd[3])
		length := int(cmd[4])
		offset := page * 4
		if offset+length > len(m.memory) {
			return []byte{0x6A, 0x82}, nil // out of range
		}
		resp := make([]byte, length)
		copy(resp, m.memory[offset:offset+length])
		return append(resp, 0x90, 0x00), nil

	// UPDATE BINARY
	case cmd[0] == 0xFF && cmd[1] == 0xD6:
		if m.rejectWrites {
			return []byte{0x63, 0x00}, nil
		}
		page := int(cmd[3])
		data := cmd[5:]
		offset := page * 4
		if offset+len(data) > len(m.memory) {
			return []byte{0x6A, 0x82}, nil
		}
		copy(m.memory[offset:], data)
		return []byte{0x90, 0x00}, nil
	}

	return []byte{0x6A, 0x81}, nil
}

func (m *MockSmartCard) Status() (SmartCardStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SmartCardStatus{
		Reader:         "Mock Reader",
		ActiveProtocol: 1,
	}, nil
}

func (m *MockSmartCard) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	return nil
}
