package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "LOTTO"

// BetAllowance selects how much the Bet flow approves before calling bet().
type BetAllowance string

const (
	// BetAllowanceMax approves max(uint256) once.
	BetAllowanceMax BetAllowance = "max"
	// BetAllowanceExact approves betPrice+betFee (base units) per bet.
	BetAllowanceExact BetAllowance = "exact"
)

type Config struct {
	RPCURL  string `envconfig:"RPC_URL" required:"true"`
	Network string `default:"sepolia"`

	TokenAddress   string `envconfig:"TOKEN_ADDRESS"`
	LotteryAddress string `envconfig:"LOTTERY_ADDRESS"`

	// Wallet capability: an external JSON-RPC signer takes precedence over a
	// local key.
	WalletURL  string `envconfig:"WALLET_URL"`
	PrivateKey string `envconfig:"PRIVATE_KEY"`

	BetAllowance        BetAllowance  `envconfig:"BET_ALLOWANCE" default:"max"`
	ReceiptPollInterval time.Duration `envconfig:"RECEIPT_POLL_INTERVAL" default:"2s"`

	JournalPath string `envconfig:"JOURNAL_PATH"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"LOG_PRETTY" default:"true"`
	MetricsPort int    `envconfig:"METRICS_PORT" default:"0"`
}

// Load reads .env (if present) and then LOTTO_* environment variables.
func Load() (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, fmt.Errorf("process %s_* env: %w", envPrefix, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadDotenv() error {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	c.RPCURL = strings.TrimSpace(c.RPCURL)
	if c.RPCURL == "" {
		return fmt.Errorf("%s_RPC_URL required (set it in .env)", envPrefix)
	}
	if !strings.HasPrefix(c.RPCURL, "ws") && !strings.HasPrefix(c.RPCURL, "http") {
		return fmt.Errorf("RPC URL must be ws(s)://... or http(s)://..., got %q", c.RPCURL)
	}
	if strings.Contains(c.RPCURL, "YOUR_KEY") {
		return fmt.Errorf("RPC URL still contains placeholder YOUR_KEY. Set %s_RPC_URL to your provider URL", envPrefix)
	}
	if strings.TrimSpace(c.Network) == "" {
		return fmt.Errorf("%s_NETWORK required", envPrefix)
	}

	switch c.BetAllowance {
	case BetAllowanceMax, BetAllowanceExact:
	case "":
		c.BetAllowance = BetAllowanceMax
	default:
		return fmt.Errorf("invalid %s_BET_ALLOWANCE %q (want max or exact)", envPrefix, c.BetAllowance)
	}

	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = 2 * time.Second
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid %s_METRICS_PORT %d", envPrefix, c.MetricsPort)
	}
	c.PrivateKey = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(c.PrivateKey), "0x"))
	return nil
}

// HasWallet reports whether any wallet capability is configured.
func (c *Config) HasWallet() bool {
	return strings.TrimSpace(c.WalletURL) != "" || c.PrivateKey != ""
}
