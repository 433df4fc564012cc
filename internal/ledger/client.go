package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tapdesk/pos-agent/internal/logging"
)

// Client issues fire-once requests against the remote ledger service. There
// is no client-side retry: a timed-out mutation leaves the true server state
// unknown and is reported as a NetworkError. Every mutating request carries
// an X-Request-ID so a deduplicating server can ignore accidental replays.
type Client struct {
	baseURL       string
	http          *http.Client
	purchaseMulti bool
	checkID       func(identifier string) error
}

// Options configures a Client.
type Options struct {
	// PurchaseMulti selects the product_ids set form of the purchase
	// request; the default sends a single product_id.
	PurchaseMulti bool
	// IdentifierCheck validates the identifier shape for the active
	// strategy before any request is sent. Nil skips the check.
	IdentifierCheck func(identifier string) error
	// HTTPClient overrides the default client (10s timeout).
	HTTPClient *http.Client
}

// NewClient creates a ledger client for the given base URL.
func NewClient(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          hc,
		purchaseMulti: opts.PurchaseMulti,
		checkID:       opts.IdentifierCheck,
	}
}

// ListAccounts fetches all accounts.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := c.getJSON(ctx, "/accounts", &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListProducts fetches all products.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.getJSON(ctx, "/products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

// CreateAccount registers a new account for a resolved card identifier.
// The created balance is always zero; the server enforces identifier
// uniqueness.
func (c *Client) CreateAccount(ctx context.Context, identifier string, profile Profile) (*Account, error) {
	if profile.Name == "" {
		return nil, &ValidationError{Field: "name", Reason: "empty"}
	}
	if profile.Surname == "" {
		return nil, &ValidationError{Field: "surname", Reason: "empty"}
	}
	if profile.Address == "" {
		return nil, &ValidationError{Field: "address", Reason: "empty"}
	}
	if err := c.validIdentifier(identifier); err != nil {
		return nil, err
	}

	body := map[string]any{
		"identifier": identifier,
		"name":       profile.Name,
		"surname":    profile.Surname,
		"address":    profile.Address,
	}

	respBody, err := c.post(ctx, "/accounts", body)
	if err != nil {
		return nil, err
	}

	// The server may return the created Account or just a status message.
	account := &Account{Identifier: identifier, Name: profile.Name, Surname: profile.Surname, Address: profile.Address}
	var created Account
	if jsonErr := json.Unmarshal(respBody, &created); jsonErr == nil && created.Identifier != "" {
		account = &created
	}

	logging.Info(logging.CatLedger, "Account created", map[string]any{
		"identifier": identifier,
	})
	return account, nil
}

// Recharge credits the account and returns the server message. The amount
// is a user-entered string; comma and dot decimal separators are accepted.
func (c *Client) Recharge(ctx context.Context, identifier, amountInput string) (string, error) {
	amount, err := ParseAmount(amountInput)
	if err != nil {
		return "", err
	}
	if err := c.validIdentifier(identifier); err != nil {
		return "", err
	}

	body := map[string]any{
		"amount": json.Number(amount.String()),
	}

	respBody, err := c.post(ctx, "/accounts/"+url.PathEscape(identifier)+"/recharge", body)
	if err != nil {
		return "", err
	}

	logging.Info(logging.CatLedger, "Account recharged", map[string]any{
		"identifier": identifier,
		"amount":     amount.String(),
	})
	return extractMessage(respBody), nil
}

// Purchase debits the account for the selected products in one request; the
// server is the sole arbiter of whether a multi-item purchase applies
// atomically. Insufficient funds surfaces as a ServerRejected carrying the
// server's detail message.
func (c *Client) Purchase(ctx context.Context, identifier string, productIDs []int64) (string, error) {
	if len(productIDs) == 0 {
		return "", &ValidationError{Field: "products", Reason: "no product selected"}
	}
	if !c.purchaseMulti && len(productIDs) > 1 {
		return "", &ValidationError{Field: "products", Reason: "one product per purchase"}
	}
	if err := c.validIdentifier(identifier); err != nil {
		return "", err
	}

	body := map[string]any{"identifier": identifier}
	if c.purchaseMulti {
		body["product_ids"] = productIDs
	} else {
		body["product_id"] = productIDs[0]
	}

	respBody, err := c.post(ctx, "/purchase", body)
	if err != nil {
		return "", err
	}

	logging.Info(logging.CatLedger, "Purchase completed", map[string]any{
		"identifier": identifier,
		"products":   len(productIDs),
	})
	return extractMessage(respBody), nil
}

// DeleteAccount removes an account. Success is keyed off HTTP 200 exactly.
func (c *Client) DeleteAccount(ctx context.Context, identifier string) error {
	if err := c.validIdentifier(identifier); err != nil {
		return err
	}
	_, err := c.delete(ctx, "/accounts/"+url.PathEscape(identifier))
	return err
}

// CreateProduct registers a product with a positive price.
func (c *Client) CreateProduct(ctx context.Context, name, priceInput string) error {
	if name == "" {
		return &ValidationError{Field: "name", Reason: "empty"}
	}
	price, err := ParseAmount(priceInput)
	if err != nil {
		return &ValidationError{Field: "price", Reason: "must be a positive number"}
	}

	body := map[string]any{
		"name":  name,
		"price": json.Number(price.String()),
	}
	_, err = c.post(ctx, "/products", body)
	return err
}

// DeleteProduct removes a product.
func (c *Client) DeleteProduct(ctx context.Context, id int64) error {
	_, err := c.delete(ctx, fmt.Sprintf("/products/%d", id))
	return err
}

func (c *Client) validIdentifier(identifier string) error {
	if identifier == "" {
		return &ValidationError{Field: "identifier", Reason: "empty"}
	}
	if c.checkID != nil {
		if err := c.checkID(identifier); err != nil {
			return &ValidationError{Field: "identifier", Reason: err.Error()}
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &NetworkError{Op: "GET " + path, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "GET " + path, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &ServerRejected{StatusCode: resp.StatusCode, Detail: extractDetail(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ServerRejected{StatusCode: resp.StatusCode, Detail: "unparseable response: " + truncate(string(body), 200)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &NetworkError{Op: "POST " + path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &NetworkError{Op: "POST " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	return c.send(req, "POST "+path)
}

func (c *Client) delete(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, &NetworkError{Op: "DELETE " + path, Err: err}
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	return c.send(req, "DELETE "+path)
}

func (c *Client) send(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		logging.Warn(logging.CatLedger, "Request failed", map[string]any{
			"op":    op,
			"error": err.Error(),
		})
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		detail := extractDetail(body)
		logging.Warn(logging.CatLedger, "Request rejected", map[string]any{
			"op":     op,
			"status": resp.StatusCode,
			"detail": detail,
		})
		return nil, &ServerRejected{StatusCode: resp.StatusCode, Detail: detail}
	}
	return body, nil
}

// extractDetail pulls a human-readable message out of an error body:
// structured JSON {detail} or {message} when present, raw text otherwise.
// Plain-text bodies must never cause a decode fault.
func extractDetail(body []byte) string {
	var structured struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Detail != "" {
			return structured.Detail
		}
		if structured.Message != "" {
			return structured.Message
		}
		if structured.Error != "" {
			return structured.Error
		}
	}
	return truncate(strings.TrimSpace(string(body)), 500)
}

// extractMessage reads the success message; some servers answer plain text
// even on success.
func extractMessage(body []byte) string {
	var structured struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Message != "" {
			return structured.Message
		}
		if structured.Status != "" {
			return structured.Status
		}
	}
	return truncate(strings.TrimSpace(string(body)), 500)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
