package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	// Ledger
	RPCURL          string `env:"RPC_URL,default=https://1rpc.io/sepolia"`
	ChainID         int64  `env:"CHAIN_ID,default=11155111"`
	PoolAddress     string `env:"POOL_ADDRESS,required"`
	TokenAddress    string `env:"TOKEN_ADDRESS,required"`
	TokenDecimals   int32  `env:"TOKEN_DECIMALS,default=18"`
	WalletKey       string `env:"WALLET_PRIVATE_KEY"`
	WinnersLookback uint64 `env:"WINNERS_LOOKBACK,default=5"`

	// Entry cutoff before each draw
	CutoffWindow time.Duration `env:"ENTRY_CUTOFF_WINDOW,default=24h"`

	// Read cadence per query class
	PollFast     time.Duration `env:"POLL_FAST,default=12s"`
	PollStandard time.Duration `env:"POLL_STANDARD,default=30s"`
	PollSlow     time.Duration `env:"POLL_SLOW,default=5m"`

	// Write confirmation
	ReceiptPollInterval time.Duration `env:"RECEIPT_POLL_INTERVAL,default=4s"`
	ConfirmTimeout      time.Duration `env:"CONFIRM_TIMEOUT,default=10m"`

	// Price source
	PriceAsset           string        `env:"PRICE_ASSET,default=chainlink"`
	PriceUpstreamURL     string        `env:"PRICE_UPSTREAM_URL,default=https://api.coingecko.com/api/v3"`
	PriceEndpointURL     string        `env:"PRICE_ENDPOINT_URL"`
	PriceRefreshInterval time.Duration `env:"PRICE_REFRESH_INTERVAL,default=5m"`
	PriceCacheTTL        time.Duration `env:"PRICE_CACHE_TTL,default=5m"`
	PriceUpstreamRPS     float64       `env:"PRICE_UPSTREAM_RPS,default=0.5"`

	HTTPAddr   string `env:"HTTP_ADDR,default=:8080"`
	JournalDSN string `env:"JOURNAL_DSN,default=file:journal?mode=memory&cache=shared"`

	LogLevel     string `env:"LOG_LEVEL,default=info"`
	LogFile      string `env:"LOG_FILE"`
	LogErrorFile string `env:"LOG_ERROR_FILE"`
	LogConsole   bool   `env:"LOG_CONSOLE,default=true"`
}

// Load reads an optional .env file and decodes the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("RPC_URL is required")
	}
	if !common.IsHexAddress(c.PoolAddress) {
		return fmt.Errorf("POOL_ADDRESS %q is not a hex address", c.PoolAddress)
	}
	if !common.IsHexAddress(c.TokenAddress) {
		return fmt.Errorf("TOKEN_ADDRESS %q is not a hex address", c.TokenAddress)
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		return fmt.Errorf("TOKEN_DECIMALS %d out of range", c.TokenDecimals)
	}
	if c.CutoffWindow < 0 {
		return errors.New("ENTRY_CUTOFF_WINDOW must not be negative")
	}

	intervals := map[string]time.Duration{
		"POLL_FAST":              c.PollFast,
		"POLL_STANDARD":          c.PollStandard,
		"POLL_SLOW":              c.PollSlow,
		"RECEIPT_POLL_INTERVAL":  c.ReceiptPollInterval,
		"CONFIRM_TIMEOUT":        c.ConfirmTimeout,
		"PRICE_REFRESH_INTERVAL": c.PriceRefreshInterval,
		"PRICE_CACHE_TTL":        c.PriceCacheTTL,
	}
	for name, interval := range intervals {
		if interval <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.PriceAsset == "" {
		return errors.New("PRICE_ASSET is required")
	}
	if c.PriceUpstreamRPS <= 0 {
		return errors.New("PRICE_UPSTREAM_RPS must be positive")
	}

	return nil
}

func (c *Config) Pool() common.Address {
	return common.HexToAddress(c.PoolAddress)
}

func (c *Config) Token() common.Address {
	return common.HexToAddress(c.TokenAddress)
}
