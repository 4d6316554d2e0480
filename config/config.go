package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the daemon configuration loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	// AdminAddress administers the user ledger and the pause switchboard;
	// OwnerAddress may sweep the auction module's non-escrowed balance.
	AdminAddress string `toml:"AdminAddress"`
	OwnerAddress string `toml:"OwnerAddress"`
	// SeedFile optionally points at a YAML fixture applied at startup.
	SeedFile string `toml:"SeedFile"`

	RateLimitRPS   float64 `toml:"RateLimitRPS"`
	RateLimitBurst int     `toml:"RateLimitBurst"`

	Fees FeePolicy `toml:"fees"`
}

// FeePolicy mirrors the fee calculator configuration in file form. MinFeeUSD
// is whole dollars; MinFeeAmount scales it to the calculator's 1e18 fixed
// point and must be used when wiring the calculator.
type FeePolicy struct {
	Recipient       string `toml:"Recipient"`
	FeeBps          uint32 `toml:"FeeBps"`
	MaxFeeBps       uint32 `toml:"MaxFeeBps"`
	MinFeeUSD       int64  `toml:"MinFeeUSD"`
	MaxRoyaltyBps   uint32 `toml:"MaxRoyaltyBps"`
	StaleSeconds    int64  `toml:"StaleSeconds"`
	MaxStaleSeconds int64  `toml:"MaxStaleSeconds"`
	RiskFactorBps   uint32 `toml:"RiskFactorBps"`
}

// Default returns the development configuration.
func Default() *Config {
	return &Config{
		ListenAddress:  "127.0.0.1:8546",
		DataDir:        "./tokenmart-data",
		Environment:    "dev",
		AdminAddress:   "0x0000000000000000000000000000000000000001",
		OwnerAddress:   "0x0000000000000000000000000000000000000002",
		RateLimitRPS:   50,
		RateLimitBurst: 100,
		Fees: FeePolicy{
			Recipient:       "0x000000000000000000000000000000000000000F",
			FeeBps:          250,
			MaxFeeBps:       1_000,
			MinFeeUSD:       1,
			MaxRoyaltyBps:   1_000,
			StaleSeconds:    3_600,
			MaxStaleSeconds: 86_400,
			RiskFactorBps:   10_500,
		},
	}
}

// Load reads the configuration from path. A missing file writes the default
// configuration to that path and returns it.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks address fields and fee policy bounds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	for name, value := range map[string]string{
		"AdminAddress":   c.AdminAddress,
		"OwnerAddress":   c.OwnerAddress,
		"fees.Recipient": c.Fees.Recipient,
	} {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("config: %s is not a valid address: %q", name, value)
		}
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	f := c.Fees
	if f.MaxFeeBps == 0 || f.MaxFeeBps > 10_000 {
		return fmt.Errorf("config: fees.MaxFeeBps out of range")
	}
	if f.FeeBps > f.MaxFeeBps {
		return fmt.Errorf("config: fees.FeeBps above fees.MaxFeeBps")
	}
	if f.MinFeeUSD < 0 {
		return fmt.Errorf("config: fees.MinFeeUSD must be non-negative")
	}
	if f.MaxRoyaltyBps > 10_000 {
		return fmt.Errorf("config: fees.MaxRoyaltyBps out of range")
	}
	if f.StaleSeconds <= 0 || f.MaxStaleSeconds <= f.StaleSeconds {
		return fmt.Errorf("config: fees.MaxStaleSeconds must exceed fees.StaleSeconds")
	}
	if f.RiskFactorBps < 10_000 || f.RiskFactorBps > 11_000 {
		return fmt.Errorf("config: fees.RiskFactorBps out of range")
	}
	return nil
}

// Admin returns the parsed administrator address.
func (c *Config) Admin() common.Address {
	return common.HexToAddress(c.AdminAddress)
}

// Owner returns the parsed owner address.
func (c *Config) Owner() common.Address {
	return common.HexToAddress(c.OwnerAddress)
}

// FeeRecipient returns the parsed fee recipient address.
func (c *Config) FeeRecipient() common.Address {
	return common.HexToAddress(c.Fees.Recipient)
}

// usdScale converts whole-dollar amounts to the calculator's fixed point.
var usdScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// MinFeeAmount returns the USD fee floor scaled to 1e18 fixed point, the form
// the fee calculator expects.
func (c *Config) MinFeeAmount() *big.Int {
	return new(big.Int).Mul(big.NewInt(c.Fees.MinFeeUSD), usdScale)
}
