// Package terminal dispatches point-of-sale operations, pairing one card
// interaction with one ledger call. Transient tap failures re-prompt the
// user with a fresh card session per attempt; the ledger call happens only
// after the identifier is resolved, so a re-tap never duplicates a network
// mutation.
package terminal

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tapdesk/pos-agent/internal/cardrec"
	"github.com/tapdesk/pos-agent/internal/core"
	"github.com/tapdesk/pos-agent/internal/ledger"
	"github.com/tapdesk/pos-agent/internal/logging"
)

// Config tunes the tap re-prompt loop.
type Config struct {
	MaxTapAttempts int           // total attempts including the first
	RepromptDelay  time.Duration // pause between prompts
}

// DefaultConfig returns three attempts with a one second pause.
func DefaultConfig() Config {
	return Config{MaxTapAttempts: 3, RepromptDelay: time.Second}
}

// Terminal executes operations against one reader and one ledger service.
type Terminal struct {
	session *core.Session
	ledger  *ledger.Client
	events  EventSink
	cfg     Config
}

// New creates a terminal. A nil events sink discards progress events.
func New(session *core.Session, client *ledger.Client, events EventSink, cfg Config) *Terminal {
	if events == nil {
		events = discardSink{}
	}
	if cfg.MaxTapAttempts <= 0 {
		cfg.MaxTapAttempts = 3
	}
	if cfg.RepromptDelay <= 0 {
		cfg.RepromptDelay = time.Second
	}
	return &Terminal{session: session, ledger: client, events: events, cfg: cfg}
}

// Session exposes the underlying card session for status reporting.
func (t *Terminal) Session() *core.Session {
	return t.session
}

// CreateAccount resolves a fresh identifier from the card and registers the
// account. With the logical-code strategy the code is generated, written and
// verified by re-read before the ledger ever hears about it; a card that
// fails verification never gets an account.
func (t *Terminal) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Outcome, error) {
	if req.Name == "" {
		return nil, t.fail(OpCreateAccount, &ledger.ValidationError{Field: "name", Reason: "empty"})
	}
	if req.Surname == "" {
		return nil, t.fail(OpCreateAccount, &ledger.ValidationError{Field: "surname", Reason: "empty"})
	}
	if req.Address == "" {
		return nil, t.fail(OpCreateAccount, &ledger.ValidationError{Field: "address", Reason: "empty"})
	}

	var profileBytes []byte
	if req.WriteProfile {
		p := cardrec.Profile{Name: req.Name, Surname: req.Surname, Address: req.Address}
		encoded, err := p.Encode()
		if err != nil {
			return nil, t.fail(OpCreateAccount, &ledger.ValidationError{Field: "profile", Reason: err.Error()})
		}
		profileBytes = encoded
	}

	identifier, err := t.withTap(ctx, OpCreateAccount, func(ctx context.Context) (string, error) {
		return t.resolveNewIdentifier(ctx, profileBytes)
	})
	if err != nil {
		return nil, t.fail(OpCreateAccount, err)
	}

	account, err := t.ledger.CreateAccount(ctx, identifier, ledger.Profile{
		Name:    req.Name,
		Surname: req.Surname,
		Address: req.Address,
	})
	if err != nil {
		return nil, t.fail(OpCreateAccount, err)
	}

	return t.done(OpCreateAccount, account.Identifier, "account created"), nil
}

// Recharge credits the tapped card's account. The amount is validated before
// the tap prompt: an invalid amount costs zero taps and zero requests.
func (t *Terminal) Recharge(ctx context.Context, req RechargeRequest) (*Outcome, error) {
	if _, err := ledger.ParseAmount(req.Amount); err != nil {
		return nil, t.fail(OpRecharge, err)
	}

	identifier, err := t.withTap(ctx, OpRecharge, t.readIdentifier)
	if err != nil {
		return nil, t.fail(OpRecharge, err)
	}

	message, err := t.ledger.Recharge(ctx, identifier, req.Amount)
	if err != nil {
		return nil, t.fail(OpRecharge, err)
	}
	return t.done(OpRecharge, identifier, message), nil
}

// Purchase debits the tapped card's account for the selected products in a
// single ledger request.
func (t *Terminal) Purchase(ctx context.Context, req PurchaseRequest) (*Outcome, error) {
	if len(req.ProductIDs) == 0 {
		return nil, t.fail(OpPurchase, &ledger.ValidationError{Field: "products", Reason: "no product selected"})
	}

	identifier, err := t.withTap(ctx, OpPurchase, t.readIdentifier)
	if err != nil {
		return nil, t.fail(OpPurchase, err)
	}

	message, err := t.ledger.Purchase(ctx, identifier, req.ProductIDs)
	if err != nil {
		return nil, t.fail(OpPurchase, err)
	}
	return t.done(OpPurchase, identifier, message), nil
}

// DeleteAccount removes the tapped card's account. The card keeps its code;
// re-registering it later creates a fresh zero-balance account.
func (t *Terminal) DeleteAccount(ctx context.Context, _ DeleteAccountRequest) (*Outcome, error) {
	identifier, err := t.withTap(ctx, OpDeleteAccount, t.readIdentifier)
	if err != nil {
		return nil, t.fail(OpDeleteAccount, err)
	}

	if err := t.ledger.DeleteAccount(ctx, identifier); err != nil {
		return nil, t.fail(OpDeleteAccount, err)
	}
	return t.done(OpDeleteAccount, identifier, "account deleted"), nil
}

// AddProduct registers a product. No card interaction.
func (t *Terminal) AddProduct(ctx context.Context, req AddProductRequest) (*Outcome, error) {
	if err := t.ledger.CreateProduct(ctx, req.Name, req.Price); err != nil {
		return nil, t.fail(OpAddProduct, err)
	}
	return t.done(OpAddProduct, "", "product created"), nil
}

// DeleteProduct removes a product. No card interaction.
func (t *Terminal) DeleteProduct(ctx context.Context, req DeleteProductRequest) (*Outcome, error) {
	if err := t.ledger.DeleteProduct(ctx, req.ID); err != nil {
		return nil, t.fail(OpDeleteProduct, err)
	}
	return t.done(OpDeleteProduct, "", "product deleted"), nil
}

// CardInfo is the result of a read-card operation.
type CardInfo struct {
	Identifier string           `json:"identifier"`
	Profile    *cardrec.Profile `json:"profile,omitempty"`
	Account    *ledger.Account  `json:"account,omitempty"`
}

// ReadCard reads the tapped card's identifier and on-card profile, then
// looks the account up in the ledger. A card with no matching account is not
// an error; the UI offers account creation in that case.
func (t *Terminal) ReadCard(ctx context.Context) (*CardInfo, error) {
	info := &CardInfo{}

	_, err := t.withTap(ctx, OpReadCard, func(ctx context.Context) (string, error) {
		if err := t.session.Acquire(ctx); err != nil {
			return "", err
		}
		defer t.release()

		identifier, err := t.session.ReadIdentifier(ctx)
		if err != nil {
			return "", err
		}
		info.Identifier = identifier

		if payload, err := t.session.ReadProfile(ctx, cardrec.MIMEType); err == nil && payload != nil {
			if profile, decErr := cardrec.Decode(payload); decErr == nil {
				info.Profile = profile
			}
		}
		return identifier, nil
	})
	if err != nil {
		t.fail(OpReadCard, err)
		return nil, err
	}

	accounts, err := t.ledger.ListAccounts(ctx)
	if err != nil {
		// The card read stands on its own; the ledger lookup is best effort.
		logging.Warn(logging.CatLedger, "Account lookup failed after card read", map[string]any{
			"error": err.Error(),
		})
	} else {
		for i := range accounts {
			if accounts[i].Identifier == info.Identifier {
				info.Account = &accounts[i]
				break
			}
		}
	}

	t.done(OpReadCard, info.Identifier, "card read")
	return info, nil
}

// EraseCard overwrites the tapped card with an empty message.
func (t *Terminal) EraseCard(ctx context.Context) (*Outcome, error) {
	identifier, err := t.withTap(ctx, OpEraseCard, func(ctx context.Context) (string, error) {
		if err := t.session.Acquire(ctx); err != nil {
			return "", err
		}
		defer t.release()
		return "", t.session.Erase(ctx)
	})
	if err != nil {
		return nil, t.fail(OpEraseCard, err)
	}
	return t.done(OpEraseCard, identifier, "card erased"), nil
}

// withTap runs one card interaction with bounded re-prompting. Every attempt
// gets a fresh session; transient failures (no tag, timeout) re-prompt,
// anything else is terminal. The resolved identifier is returned once.
func (t *Terminal) withTap(ctx context.Context, op Operation, fn func(context.Context) (string, error)) (string, error) {
	backoff := retry.WithMaxRetries(uint64(t.cfg.MaxTapAttempts-1), retry.NewConstant(t.cfg.RepromptDelay))

	var identifier string
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		t.events.Emit(Event{Type: EventTapPrompt, Operation: op, Attempt: attempt})

		id, err := fn(ctx)
		if err != nil {
			if core.IsTransient(err) {
				logging.Info(logging.CatCard, "Tap attempt failed, re-prompting", map[string]any{
					"operation": string(op),
					"attempt":   attempt,
					"error":     err.Error(),
				})
				return retry.RetryableError(err)
			}
			return err
		}
		identifier = id
		return nil
	})
	if err != nil {
		return "", err
	}

	t.events.Emit(Event{Type: EventCardDetected, Operation: op, Identifier: identifier})
	return identifier, nil
}

// readIdentifier is the standard tap body: acquire, read, release.
func (t *Terminal) readIdentifier(ctx context.Context) (string, error) {
	if err := t.session.Acquire(ctx); err != nil {
		return "", err
	}
	defer t.release()
	return t.session.ReadIdentifier(ctx)
}

// resolveNewIdentifier produces the identifier for a new account. The UID
// strategy reads it off the card; the code strategy generates a code, writes
// it and verifies by re-read before it may be used.
func (t *Terminal) resolveNewIdentifier(ctx context.Context, profile []byte) (string, error) {
	if t.session.Strategy() == core.StrategyUID {
		return t.readIdentifier(ctx)
	}

	code, err := core.GenerateCode(t.session.CodeLength())
	if err != nil {
		return "", err
	}

	if err := t.session.Acquire(ctx); err != nil {
		return "", err
	}
	defer t.release()

	if profile != nil {
		err = t.session.WriteIdentifierWithProfile(ctx, code, cardrec.MIMEType, profile)
	} else {
		err = t.session.WriteIdentifier(ctx, code)
	}
	if err != nil {
		return "", err
	}

	if err := t.session.VerifyByReread(ctx, code); err != nil {
		return "", err
	}
	return code, nil
}

func (t *Terminal) release() {
	t.session.Release()
	t.events.Emit(Event{Type: EventCardReleased})
}

func (t *Terminal) done(op Operation, identifier, message string) *Outcome {
	t.events.Emit(Event{Type: EventOperationDone, Operation: op, Identifier: identifier, Message: message})
	return &Outcome{Operation: op, Identifier: identifier, Message: message}
}

func (t *Terminal) fail(op Operation, err error) error {
	t.events.Emit(Event{Type: EventOperationFail, Operation: op, Error: err.Error()})
	logging.Warn(logging.CatSession, "Operation failed", map[string]any{
		"operation": string(op),
		"error":     err.Error(),
	})
	return err
}
