package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// recordingServer counts requests and captures the last body per path.
type recordingServer struct {
	*httptest.Server
	requests atomic.Int64
	lastBody atomic.Value // []byte
	lastPath atomic.Value // string
}

func newRecordingServer(t *testing.T, status int, response string) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.requests.Add(1)
		rs.lastPath.Store(r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		rs.lastBody.Store(body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func TestCreateAccount(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK,
		`{"identifier":"AB12CD","name":"Ada","surname":"Lovelace","address":"12 Rue X","balance":0}`)
	c := NewClient(srv.URL, Options{})

	account, err := c.CreateAccount(context.Background(), "AB12CD", Profile{
		Name: "Ada", Surname: "Lovelace", Address: "12 Rue X",
	})
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	if got := srv.requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want exactly 1", got)
	}
	if account.Identifier != "AB12CD" {
		t.Errorf("identifier %q, want AB12CD", account.Identifier)
	}
	if !account.Balance.IsZero() {
		t.Errorf("created balance %s, want 0", account.Balance)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.URL, Options{})

	tests := []struct {
		name       string
		identifier string
		profile    Profile
	}{
		{"empty name", "AB12CD", Profile{Surname: "L", Address: "X"}},
		{"empty surname", "AB12CD", Profile{Name: "A", Address: "X"}},
		{"empty address", "AB12CD", Profile{Name: "A", Surname: "L"}},
		{"empty identifier", "", Profile{Name: "A", Surname: "L", Address: "X"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CreateAccount(context.Background(), tt.identifier, tt.profile)
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("got %v, want *ValidationError", err)
			}
		})
	}

	if got := srv.requests.Load(); got != 0 {
		t.Errorf("validation failures sent %d requests, want 0", got)
	}
}

func TestRechargeInvalidAmountSendsNothing(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.URL, Options{})

	for _, amount := range []string{"", "abc", "0", "-5"} {
		if _, err := c.Recharge(context.Background(), "AB12CD", amount); err == nil {
			t.Errorf("Recharge(%q) succeeded, want error", amount)
		}
	}

	if got := srv.requests.Load(); got != 0 {
		t.Errorf("invalid amounts sent %d requests, want 0", got)
	}
}

func TestRechargeNormalizesComma(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{"message":"recharged"}`)
	c := NewClient(srv.URL, Options{})

	msg, err := c.Recharge(context.Background(), "AB12CD", "10,50")
	if err != nil {
		t.Fatalf("Recharge failed: %v", err)
	}
	if msg != "recharged" {
		t.Errorf("message %q, want %q", msg, "recharged")
	}

	var body struct {
		Amount json.Number `json:"amount"`
	}
	if err := json.Unmarshal(srv.lastBody.Load().([]byte), &body); err != nil {
		t.Fatalf("request body did not decode: %v", err)
	}
	if body.Amount.String() != "10.5" {
		t.Errorf("sent amount %s, want 10.5", body.Amount)
	}
}

func TestIdentifierEscapedInPath(t *testing.T) {
	var escaped atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		escaped.Store(r.URL.EscapedPath())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, Options{})

	// Without an IdentifierCheck any non-empty identifier reaches the wire,
	// including path metacharacters.
	if _, err := c.Recharge(context.Background(), "AB/12#CD", "10"); err != nil {
		t.Fatalf("Recharge failed: %v", err)
	}
	if got := escaped.Load(); got != "/accounts/AB%2F12%23CD/recharge" {
		t.Errorf("recharge path %q, want escaped identifier", got)
	}

	if err := c.DeleteAccount(context.Background(), "AB/12#CD"); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if got := escaped.Load(); got != "/accounts/AB%2F12%23CD" {
		t.Errorf("delete path %q, want escaped identifier", got)
	}
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	srv := newRecordingServer(t, http.StatusPaymentRequired, `{"detail":"insufficient funds"}`)
	c := NewClient(srv.URL, Options{PurchaseMulti: true})

	_, err := c.Purchase(context.Background(), "AB12CD", []int64{1, 2})

	var rejected *ServerRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("got %v, want *ServerRejected", err)
	}
	if rejected.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status %d, want 402", rejected.StatusCode)
	}
	if rejected.Detail != "insufficient funds" {
		t.Errorf("detail %q, want %q", rejected.Detail, "insufficient funds")
	}
	if got := srv.requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want exactly 1", got)
	}
}

func TestPurchaseModes(t *testing.T) {
	t.Run("multi sends product_ids", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusOK, `{"message":"ok"}`)
		c := NewClient(srv.URL, Options{PurchaseMulti: true})

		if _, err := c.Purchase(context.Background(), "AB12CD", []int64{3, 7}); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}

		var body struct {
			ProductIDs []int64 `json:"product_ids"`
			ProductID  *int64  `json:"product_id"`
		}
		if err := json.Unmarshal(srv.lastBody.Load().([]byte), &body); err != nil {
			t.Fatalf("request body did not decode: %v", err)
		}
		if len(body.ProductIDs) != 2 || body.ProductID != nil {
			t.Errorf("multi mode sent %+v", body)
		}
	})

	t.Run("single sends product_id", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusOK, `{"message":"ok"}`)
		c := NewClient(srv.URL, Options{})

		if _, err := c.Purchase(context.Background(), "AB12CD", []int64{3}); err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}

		var body struct {
			ProductIDs []int64 `json:"product_ids"`
			ProductID  *int64  `json:"product_id"`
		}
		if err := json.Unmarshal(srv.lastBody.Load().([]byte), &body); err != nil {
			t.Fatalf("request body did not decode: %v", err)
		}
		if body.ProductID == nil || *body.ProductID != 3 || body.ProductIDs != nil {
			t.Errorf("single mode sent %+v", body)
		}
	})

	t.Run("single rejects multiple products", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusOK, `{"message":"ok"}`)
		c := NewClient(srv.URL, Options{})

		_, err := c.Purchase(context.Background(), "AB12CD", []int64{3, 7})
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("got %v, want *ValidationError", err)
		}
		if got := srv.requests.Load(); got != 0 {
			t.Errorf("server saw %d requests, want 0", got)
		}
	})
}

func TestPurchaseEmptySelection(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{}`)
	c := NewClient(srv.URL, Options{PurchaseMulti: true})

	_, err := c.Purchase(context.Background(), "AB12CD", nil)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("got %v, want *ValidationError", err)
	}
	if got := srv.requests.Load(); got != 0 {
		t.Errorf("server saw %d requests, want 0", got)
	}
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := newRecordingServer(t, http.StatusInternalServerError, "Internal Server Error")
	c := NewClient(srv.URL, Options{})

	_, err := c.Recharge(context.Background(), "AB12CD", "10")

	var rejected *ServerRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("got %v, want *ServerRejected", err)
	}
	if rejected.Detail != "Internal Server Error" {
		t.Errorf("detail %q, want raw body text", rejected.Detail)
	}
}

func TestDeleteAccountRequires200(t *testing.T) {
	t.Run("200 succeeds", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusOK, `{"message":"deleted"}`)
		c := NewClient(srv.URL, Options{})
		if err := c.DeleteAccount(context.Background(), "AB12CD"); err != nil {
			t.Fatalf("DeleteAccount failed: %v", err)
		}
	})

	t.Run("204 is rejected", func(t *testing.T) {
		srv := newRecordingServer(t, http.StatusNoContent, "")
		c := NewClient(srv.URL, Options{})
		err := c.DeleteAccount(context.Background(), "AB12CD")
		var rejected *ServerRejected
		if !errors.As(err, &rejected) {
			t.Fatalf("got %v, want *ServerRejected", err)
		}
	})
}

func TestNetworkError(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{}`)
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, Options{})
	_, err := c.Recharge(context.Background(), "AB12CD", "10")

	var network *NetworkError
	if !errors.As(err, &network) {
		t.Fatalf("got %v, want *NetworkError", err)
	}
}

func TestMutationsCarryRequestID(t *testing.T) {
	var header atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("X-Request-ID"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, Options{})
	if _, err := c.Recharge(context.Background(), "AB12CD", "10"); err != nil {
		t.Fatalf("Recharge failed: %v", err)
	}

	if id, _ := header.Load().(string); id == "" {
		t.Error("mutation sent without X-Request-ID")
	}
}

func TestListProducts(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `[{"id":1,"name":"Coffee","price":"1.50"},{"id":2,"name":"Juice","price":"2.00"}]`)
	c := NewClient(srv.URL, Options{})

	products, err := c.ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("got %d products, want 2", len(products))
	}
	if products[0].Name != "Coffee" || products[0].Price.String() != "1.5" {
		t.Errorf("unexpected first product %+v", products[0])
	}
}
