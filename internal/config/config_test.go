package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("POS_AGENT_LEDGER_URL", "http://127.0.0.1:8000")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Address() != "127.0.0.1:32710" {
		t.Errorf("address %q, want 127.0.0.1:32710", cfg.Address())
	}
	if cfg.Strategy != StrategyCode {
		t.Errorf("strategy %q, want code", cfg.Strategy)
	}
	if cfg.CodeLength != 6 {
		t.Errorf("code length %d, want 6", cfg.CodeLength)
	}
	if cfg.SettleDelay != 600*time.Millisecond {
		t.Errorf("settle delay %s, want 600ms", cfg.SettleDelay)
	}
	if cfg.TapTimeout != 15*time.Second {
		t.Errorf("tap timeout %s, want 15s", cfg.TapTimeout)
	}
	if cfg.Purchase != PurchaseMulti {
		t.Errorf("purchase mode %q, want multi", cfg.Purchase)
	}
}

func TestLoadRequiresLedgerURL(t *testing.T) {
	t.Setenv("POS_AGENT_LEDGER_URL", "")

	if _, err := Load(); err == nil {
		t.Error("Load succeeded without POS_AGENT_LEDGER_URL")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("POS_AGENT_PORT", "9000")
	t.Setenv("POS_AGENT_STRATEGY", "uid")
	t.Setenv("POS_AGENT_CODE_LENGTH", "8")
	t.Setenv("POS_AGENT_SETTLE_DELAY", "1s")
	t.Setenv("POS_AGENT_PURCHASE_MODE", "single")
	t.Setenv("POS_AGENT_READER", "ACS ACR122U")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9000" || cfg.Strategy != StrategyUID || cfg.CodeLength != 8 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.SettleDelay != time.Second {
		t.Errorf("settle delay %s, want 1s", cfg.SettleDelay)
	}
	if cfg.Purchase != PurchaseSingle {
		t.Errorf("purchase mode %q, want single", cfg.Purchase)
	}
	if cfg.Reader != "ACS ACR122U" {
		t.Errorf("reader %q, want ACS ACR122U", cfg.Reader)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown strategy", "POS_AGENT_STRATEGY", "barcode"},
		{"unknown purchase mode", "POS_AGENT_PURCHASE_MODE", "batch"},
		{"code too short", "POS_AGENT_CODE_LENGTH", "2"},
		{"code too long", "POS_AGENT_CODE_LENGTH", "64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}
