package core

import (
	"fmt"
	"time"

	"github.com/ebfe/scard"
)

// PCSCFactory is the production ContextFactory backed by the platform's
// PC/SC stack. Create one at startup and share it.
type PCSCFactory struct{}

// NewPCSCFactory returns the real PC/SC radio handle.
func NewPCSCFactory() *PCSCFactory {
	return &PCSCFactory{}
}

// EstablishContext claims a PC/SC context.
func (*PCSCFactory) EstablishContext() (SmartCardContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish context: %w", err)
	}
	return &pcscContext{ctx: ctx}, nil
}

type pcscContext struct {
	ctx *scard.Context
}

func (c *pcscContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

func (c *pcscContext) WaitForCard(reader string, timeout time.Duration) error {
	rs := []scard.ReaderState{{
		Reader:       reader,
		CurrentState: scard.StateUnaware,
	}}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("no card detected within %s", timeout)
		}
		if err := c.ctx.GetStatusChange(rs, remaining); err != nil {
			return fmt.Errorf("failed to get status change: %w", err)
		}
		if rs[0].EventState&scard.StatePresent != 0 {
			return nil
		}
		rs[0].CurrentState = rs[0].EventState
	}
}

func (c *pcscContext) Cancel() error {
	return c.ctx.Cancel()
}

func (c *pcscContext) Connect(reader string) (SmartCard, error) {
	card, err := c.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to reader: %w", err)
	}
	return &pcscCard{card: card}, nil
}

func (c *pcscContext) Release() error {
	return c.ctx.Release()
}

type pcscCard struct {
	card *scard.Card
}

func (c *pcscCard) Transmit(cmd []byte) ([]byte, error) {
	return c.card.Transmit(cmd)
}

func (c *pcscCard) Status() (SmartCardStatus, error) {
	status, err := c.card.Status()
	if err != nil {
		return SmartCardStatus{}, err
	}
	return SmartCardStatus{
		Reader:         status.Reader,
		State:          uint32(status.State),
		ActiveProtocol: uint32(status.ActiveProtocol),
		Atr:            status.Atr,
	}, nil
}

func (c *pcscCard) Disconnect() error {
	return c.card.Disconnect(scard.LeaveCard)
}

// ListReaders enumerates attached readers using a short-lived context.
func ListReaders(factory ContextFactory) ([]string, error) {
	sctx, err := factory.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	}
	defer sctx.Release()

	return sctx.ListReaders()
}
