package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Identifier sourcing strategies for binding a card to a ledger account.
const (
	StrategyUID  = "uid"  // hardware UID from the tag's anticollision layer
	StrategyCode = "code" // random logical code stored in an NDEF text record
)

// Purchase request modes.
const (
	PurchaseSingle = "single" // one product_id per request
	PurchaseMulti  = "multi"  // product_ids set, one atomic request
)

// Config holds the agent's runtime configuration, loaded from environment
// variables (optionally via a .env file).
type Config struct {
	Host        string
	Port        string
	LedgerURL   string
	Strategy    string
	CodeLength  int
	SettleDelay time.Duration
	TapTimeout  time.Duration
	Purchase    string
	Reader      string // preferred reader name; empty means first available
}

// Load reads configuration from the environment, applying defaults.
// Only POS_AGENT_LEDGER_URL is required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:        getEnv("POS_AGENT_HOST", "127.0.0.1"),
		Port:        getEnv("POS_AGENT_PORT", "32710"),
		LedgerURL:   os.Getenv("POS_AGENT_LEDGER_URL"),
		Strategy:    getEnv("POS_AGENT_STRATEGY", StrategyCode),
		CodeLength:  getEnvInt("POS_AGENT_CODE_LENGTH", 6),
		SettleDelay: getEnvDuration("POS_AGENT_SETTLE_DELAY", 600*time.Millisecond),
		TapTimeout:  getEnvDuration("POS_AGENT_TAP_TIMEOUT", 15*time.Second),
		Purchase:    getEnv("POS_AGENT_PURCHASE_MODE", PurchaseMulti),
		Reader:      os.Getenv("POS_AGENT_READER"),
	}

	if cfg.LedgerURL == "" {
		return nil, fmt.Errorf("missing required env: POS_AGENT_LEDGER_URL")
	}
	if cfg.Strategy != StrategyUID && cfg.Strategy != StrategyCode {
		return nil, fmt.Errorf("invalid strategy %q, must be 'uid' or 'code'", cfg.Strategy)
	}
	if cfg.Purchase != PurchaseSingle && cfg.Purchase != PurchaseMulti {
		return nil, fmt.Errorf("invalid purchase mode %q, must be 'single' or 'multi'", cfg.Purchase)
	}
	if cfg.CodeLength < 4 || cfg.CodeLength > 32 {
		return nil, fmt.Errorf("invalid code length %d, must be 4-32", cfg.CodeLength)
	}

	return cfg, nil
}

// Address returns the HTTP listen address.
func (c *Config) Address() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
