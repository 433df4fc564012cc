package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/tapdesk/pos-agent/internal/core"
	"github.com/tapdesk/pos-agent/internal/ledger"
	"github.com/tapdesk/pos-agent/internal/logging"
	"github.com/tapdesk/pos-agent/internal/settings"
	"github.com/tapdesk/pos-agent/internal/terminal"
)

// Version information (set via ldflags in production builds)
var (
	Version   = ""
	BuildTime = ""
	GitCommit = ""
)

func init() {
	// If version wasn't set via ldflags, this is a dev build
	// Try to get VCS info from Go's build info
	if Version == "" {
		Version = "dev"
		if info, ok := debug.ReadBuildInfo(); ok {
			var vcsRevision, vcsTime string
			var vcsModified bool
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					vcsRevision = setting.Value
				case "vcs.time":
					vcsTime = setting.Value
				case "vcs.modified":
					vcsModified = setting.Value == "true"
				}
			}
			if vcsRevision != "" {
				shortCommit := vcsRevision
				if len(shortCommit) > 7 {
					shortCommit = shortCommit[:7]
				}
				GitCommit = vcsRevision
				Version = "dev-" + shortCommit
				if vcsModified {
					Version += "-dirty"
				}
			}
			if vcsTime != "" {
				BuildTime = vcsTime
			}
		}
	}
}

// Server wires the HTTP API to the terminal, ledger client and radio.
type Server struct {
	terminal *terminal.Terminal
	ledger   *ledger.Client
	factory  core.ContextFactory
	hub      *WSHub

	shutdownHandler func()
}

// NewServer creates the API server. The hub may be nil when no WebSocket
// surface is wanted (tests).
func NewServer(term *terminal.Terminal, client *ledger.Client, factory core.ContextFactory, hub *WSHub) *Server {
	return &Server{terminal: term, ledger: client, factory: factory, hub: hub}
}

// SetShutdownHandler sets the callback for shutdown requests.
func (s *Server) SetShutdownHandler(handler func()) {
	s.shutdownHandler = handler
}

// NewMux constructs and returns the HTTP mux for the API.
func (s *Server) NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/readers", corsMiddleware(s.handleListReaders))
	mux.HandleFunc("/v1/accounts", corsMiddleware(s.handleAccounts))
	mux.HandleFunc("/v1/products", corsMiddleware(s.handleProducts))
	mux.HandleFunc("/v1/products/", corsMiddleware(s.handleProductByID)) // Note the trailing slash for sub-paths
	mux.HandleFunc("/v1/card", corsMiddleware(s.handleCard))
	mux.HandleFunc("/v1/operations", corsMiddleware(s.handleOperations))
	mux.HandleFunc("/v1/version", corsMiddleware(s.handleVersion))
	mux.HandleFunc("/v1/health", corsMiddleware(s.handleHealth))
	mux.HandleFunc("/v1/logs", corsMiddleware(handleLogs))
	mux.HandleFunc("/v1/crashes", corsMiddleware(handleCrashes))
	mux.HandleFunc("/v1/settings", corsMiddleware(handleSettings))
	mux.HandleFunc("/v1/shutdown", corsMiddleware(s.handleShutdown))
	if s.hub != nil {
		mux.HandleFunc("/v1/ws", s.hub.Handler())
	}
	return mux
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				context := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

				// Send to Sentry if enabled
				logging.CapturePanic(rec, stack, context)

				logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", context, rec), map[string]any{
					"panic":  fmt.Sprintf("%v", rec),
					"stack":  string(stack),
					"method": r.Method,
					"path":   r.URL.Path,
				})

				crashFile, err := logging.WriteCrashLog(rec, stack)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
					crashFile = ""
				}

				fmt.Fprintf(os.Stderr, "\n=== PANIC in %s ===\n%v\n\nStack trace:\n%s\n", context, rec, string(stack))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":     "internal server error",
					"crashFile": crashFile,
				})
			}
		}()
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to allow browser access from any origin.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Wrap with recovery middleware
		recoveryMiddleware(next)(w, r)
	}
}

func (s *Server) handleListReaders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	readers, err := core.ListReaders(s.factory)
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"readers": readers,
		"active":  s.terminal.Session().Reader(),
	})
}

// handleAccounts proxies account listing so the UI only ever talks to the
// agent. Account creation goes through /v1/operations since it needs a tap.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	accounts, err := s.ledger.ListAccounts(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := s.ledger.ListProducts(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, products)

	case http.MethodPost:
		var req terminal.AddProductRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid request body",
			})
			return
		}

		outcome, err := s.terminal.AddProduct(r.Context(), req)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, outcome)

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleProductByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	// Parse path: /v1/products/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid path",
		})
		return
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid product id",
		})
		return
	}

	outcome, err := s.terminal.DeleteProduct(r.Context(), terminal.DeleteProductRequest{ID: id})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// handleCard prompts for a tap. GET reads the card and looks its account up;
// DELETE erases the card. Both block until a tag arrives or the request is
// cancelled, which releases the session.
func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		info, err := s.terminal.ReadCard(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, info)

	case http.MethodDelete:
		outcome, err := s.terminal.EraseCard(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, outcome)

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// operationRequest is the envelope for POST /v1/operations.
type operationRequest struct {
	Operation terminal.Operation `json:"operation"`
	Payload   json.RawMessage    `json:"payload"`
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var env operationRequest
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
		return
	}

	var (
		outcome *terminal.Outcome
		err     error
	)
	ctx := r.Context()

	// A payload that doesn't decode is the caller's fault, same as a broken
	// envelope.
	decode := func(v interface{}) bool {
		if err := json.Unmarshal(env.Payload, v); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid payload: " + err.Error(),
			})
			return false
		}
		return true
	}

	switch env.Operation {
	case terminal.OpCreateAccount:
		var req terminal.CreateAccountRequest
		if !decode(&req) {
			return
		}
		outcome, err = s.terminal.CreateAccount(ctx, req)
	case terminal.OpRecharge:
		var req terminal.RechargeRequest
		if !decode(&req) {
			return
		}
		outcome, err = s.terminal.Recharge(ctx, req)
	case terminal.OpPurchase:
		var req terminal.PurchaseRequest
		if !decode(&req) {
			return
		}
		outcome, err = s.terminal.Purchase(ctx, req)
	case terminal.OpDeleteAccount:
		outcome, err = s.terminal.DeleteAccount(ctx, terminal.DeleteAccountRequest{})
	case terminal.OpAddProduct:
		var req terminal.AddProductRequest
		if !decode(&req) {
			return
		}
		outcome, err = s.terminal.AddProduct(ctx, req)
	case terminal.OpDeleteProduct:
		var req terminal.DeleteProductRequest
		if !decode(&req) {
			return
		}
		outcome, err = s.terminal.DeleteProduct(ctx, req)
	case terminal.OpEraseCard:
		outcome, err = s.terminal.EraseCard(ctx)
	default:
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown operation: " + string(env.Operation),
		})
		return
	}

	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	// Check if we can list readers (basic health check)
	readers, err := core.ListReaders(s.factory)
	radioOK := err == nil

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"radio":        radioOK,
		"readerCount":  len(readers),
		"sessionState": s.terminal.Session().State().String(),
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if s.shutdownHandler == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "shutdown not available",
		})
		return
	}

	logging.Info(logging.CatSystem, "Shutdown requested via API", nil)
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "shutting down",
	})

	// Trigger shutdown after response is sent
	go func() {
		s.shutdownHandler()
	}()
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	// Limit (default 100, max 1000)
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": logging.GetRecent(limit),
	})
}

func handleCrashes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	// Check if requesting a specific crash log
	filename := query.Get("file")
	if filename != "" {
		content, err := logging.ReadCrashLog(filename)
		if err != nil {
			respondJSON(w, http.StatusNotFound, map[string]string{
				"error": "crash log not found: " + err.Error(),
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"filename": filename,
			"content":  content,
		})
		return
	}

	limit := 20
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
			if limit > 100 {
				limit = 100
			}
		}
	}

	logs, err := logging.GetCrashLogs(limit)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list crash logs: " + err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"crashes":  logs,
		"crashDir": logging.CrashLogDir(),
	})
}

// handleSettings handles GET and POST requests for user settings.
func handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s := settings.Get()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashReporting":  s.CrashReporting,
			"preferredReader": s.PreferredReader,
		})

	case http.MethodPost:
		var req struct {
			CrashReporting  *bool   `json:"crashReporting"`
			PreferredReader *string `json:"preferredReader"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid request body: " + err.Error(),
			})
			return
		}

		if req.CrashReporting != nil {
			if err := settings.SetCrashReporting(*req.CrashReporting); err != nil {
				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "failed to save settings: " + err.Error(),
				})
				return
			}
		}
		if req.PreferredReader != nil {
			if err := settings.SetPreferredReader(*req.PreferredReader); err != nil {
				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "failed to save settings: " + err.Error(),
				})
				return
			}
		}

		s := settings.Get()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashReporting":  s.CrashReporting,
			"preferredReader": s.PreferredReader,
			"message":         "Settings updated. Restart may be required for some changes to take effect.",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// respondError maps the error taxonomy to HTTP statuses: validation failures
// are the caller's fault, ledger rejections pass the server's status through,
// transport and tap failures report the upstream as unavailable.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var validation *ledger.ValidationError
	var rejected *ledger.ServerRejected
	var network *ledger.NetworkError

	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.As(err, &rejected):
		status = rejected.StatusCode
	case errors.As(err, &network):
		status = http.StatusBadGateway
	case core.IsTransient(err):
		status = http.StatusRequestTimeout
	case errors.Is(err, core.ErrRadioUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
	}

	respondJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Error logged but not returned (header already sent)
}
