package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tapdesk/pos-agent/internal/api"
	"github.com/tapdesk/pos-agent/internal/config"
	"github.com/tapdesk/pos-agent/internal/core"
	"github.com/tapdesk/pos-agent/internal/ledger"
	"github.com/tapdesk/pos-agent/internal/logging"
	"github.com/tapdesk/pos-agent/internal/settings"
	"github.com/tapdesk/pos-agent/internal/terminal"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "POS Agent - contactless prepaid terminal service\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  pos-agent [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  POS_AGENT_LEDGER_URL     Ledger service base URL (required)\n")
		fmt.Fprintf(os.Stderr, "  POS_AGENT_HOST           Host to bind to (default: 127.0.0.1)\n")
		fmt.Fprintf(os.Stderr, "  POS_AGENT_PORT           Port to listen on (default: 32710)\n")
		fmt.Fprintf(os.Stderr, "  POS_AGENT_STRATEGY       Identifier strategy: uid or code (default: code)\n")
		fmt.Fprintf(os.Stderr, "  POS_AGENT_PURCHASE_MODE  Purchase mode: single or multi (default: multi)\n")
		fmt.Fprintf(os.Stderr, "  POS_AGENT_READER         Preferred reader name (default: first available)\n")
	}

	flag.Parse()

	if *versionFlag {
		printVersion()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	run(cfg)
}

func printVersion() {
	fmt.Printf("pos-agent %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

func run(cfg *config.Config) {
	logging.Init(1000, logging.LevelDebug)
	logging.Info(logging.CatSystem, "POS Agent starting", map[string]any{
		"version": api.Version,
	})

	userSettings, err := settings.Load()
	if err != nil {
		logging.Warn(logging.CatSystem, "Failed to load settings, using defaults", map[string]any{
			"error": err.Error(),
		})
	}

	if logging.InitSentry(api.Version, userSettings.CrashReporting) {
		logging.Info(logging.CatSystem, "Crash reporting enabled", nil)
		defer logging.FlushSentry(2 * time.Second)
	}
	defer logging.RecoverAndLog("main", true)

	factory := core.NewPCSCFactory()
	reader := selectReader(factory, cfg, userSettings)

	session := core.NewSession(factory, reader, core.SessionConfig{
		Strategy:    core.IdentifierStrategy(cfg.Strategy),
		CodeLength:  cfg.CodeLength,
		SettleDelay: cfg.SettleDelay,
		TapTimeout:  cfg.TapTimeout,
	})

	client := ledger.NewClient(cfg.LedgerURL, ledger.Options{
		PurchaseMulti: cfg.Purchase == config.PurchaseMulti,
	})

	hub := api.NewWSHub(nil, factory)
	term := terminal.New(session, client, hub, terminal.DefaultConfig())
	hub.SetTerminal(term)
	go hub.Run()

	server := api.NewServer(term, client, factory, hub)

	httpServer := &http.Server{
		Addr:    cfg.Address(),
		Handler: server.NewMux(),
	}

	shutdown := func() {
		log.Println("Shutting down...")
		session.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}
	server.SetShutdownHandler(shutdown)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		shutdown()
	}()

	log.Printf("pos-agent %s listening on http://%s\n", api.Version, cfg.Address())
	log.Printf("WebSocket available at ws://%s/v1/ws\n", cfg.Address())
	logging.Info(logging.CatSystem, "Server started", map[string]any{
		"address": cfg.Address(),
		"reader":  reader,
		"ledger":  cfg.LedgerURL,
	})

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// selectReader picks the reader to bind the session to: explicit config
// first, then the persisted preference, then the first attached reader. An
// empty result is not fatal; the API reports radio state via /v1/health and
// operations fail with ErrRadioUnavailable until a reader shows up.
func selectReader(factory core.ContextFactory, cfg *config.Config, userSettings *settings.Settings) string {
	if cfg.Reader != "" {
		return cfg.Reader
	}

	readers, err := core.ListReaders(factory)
	if err != nil {
		logging.Warn(logging.CatSystem, "No radio available at startup", map[string]any{
			"error": err.Error(),
		})
		return userSettings.PreferredReader
	}

	if userSettings.PreferredReader != "" {
		for _, r := range readers {
			if r == userSettings.PreferredReader {
				return r
			}
		}
		logging.Warn(logging.CatSystem, "Preferred reader not attached", map[string]any{
			"preferred": userSettings.PreferredReader,
			"attached":  len(readers),
		})
	}

	if len(readers) > 0 {
		return readers[0]
	}
	return ""
}
