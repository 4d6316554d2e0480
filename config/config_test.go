package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"tokenmart/fees"
	"tokenmart/oracle"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenmart.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, Default().ListenAddress, cfg.ListenAddress)
	require.NoError(t, cfg.Validate())

	// A second load reads the file written by the first.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Fees, again.Fees)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenmart.toml")
	raw := `
ListenAddress = "0.0.0.0:9000"
DataDir = "/var/lib/tokenmart"
AdminAddress = "0x00000000000000000000000000000000000000AA"
OwnerAddress = "0x00000000000000000000000000000000000000BB"
RateLimitRPS = 10.0
RateLimitBurst = 20

[fees]
Recipient = "0x00000000000000000000000000000000000000CC"
FeeBps = 300
MaxFeeBps = 500
MinFeeUSD = 2
MaxRoyaltyBps = 800
StaleSeconds = 60
MaxStaleSeconds = 300
RiskFactorBps = 10500
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.ListenAddress)
	require.Equal(t, uint32(300), cfg.Fees.FeeBps)
	require.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000CC"), cfg.FeeRecipient())
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cases := map[string]func(*Config){
		"fee above max":      func(c *Config) { c.Fees.FeeBps = 2_000; c.Fees.MaxFeeBps = 1_000 },
		"stale order":        func(c *Config) { c.Fees.MaxStaleSeconds = c.Fees.StaleSeconds },
		"risk factor low":    func(c *Config) { c.Fees.RiskFactorBps = 9_999 },
		"risk factor high":   func(c *Config) { c.Fees.RiskFactorBps = 11_001 },
		"bad admin address":  func(c *Config) { c.AdminAddress = "not-an-address" },
		"zero rate limit":    func(c *Config) { c.RateLimitRPS = 0 },
		"missing listen":     func(c *Config) { c.ListenAddress = " " },
		"royalty bps range":  func(c *Config) { c.Fees.MaxRoyaltyBps = 10_001 },
		"negative min fee":   func(c *Config) { c.Fees.MinFeeUSD = -1 },
		"zero max fee bound": func(c *Config) { c.Fees.MaxFeeBps = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

// TestMinFeeAmountFeedsCalculatorScale pins the whole-dollar to fixed-point
// conversion: the default one-dollar floor must survive the calculator's
// oracle division instead of truncating to zero.
func TestMinFeeAmountFeedsCalculatorScale(t *testing.T) {
	cfg := Default()
	require.Equal(t, int64(1), cfg.Fees.MinFeeUSD)
	wantScaled := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	require.Zero(t, wantScaled.Cmp(cfg.MinFeeAmount()))

	now := time.Unix(1_700_000_000, 0)
	priceOracle := oracle.NewManualOracle()
	// 2000 USD at 8 decimals.
	require.NoError(t, priceOracle.Set(big.NewInt(200_000_000_000), 8, now))
	calc, err := fees.NewCalculator(fees.Config{
		FeeRecipient:    cfg.FeeRecipient(),
		FeeBps:          cfg.Fees.FeeBps,
		MaxFeeBps:       cfg.Fees.MaxFeeBps,
		MinFeeUSD:       cfg.MinFeeAmount(),
		MaxRoyaltyBps:   cfg.Fees.MaxRoyaltyBps,
		StaleSeconds:    cfg.Fees.StaleSeconds,
		MaxStaleSeconds: cfg.Fees.MaxStaleSeconds,
		RiskFactorBps:   cfg.Fees.RiskFactorBps,
	}, priceOracle, nil, nil)
	require.NoError(t, err)
	calc.SetNowFunc(func() int64 { return now.Unix() })

	minFee, err := calc.QuoteMinFeeInAsset()
	require.NoError(t, err)
	// One dollar at 2000 USD per asset unit is 5e14 in 1e18 fixed point.
	require.Equal(t, "500000000000000", minFee.String())
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	raw := `
oracle:
  price: "200000000000"
  decimals: 8
accounts:
  - address: "0x00000000000000000000000000000000000000B1"
    balance: "1000"
deeds:
  - collection: "0x00000000000000000000000000000000000000C0"
    tokenId: 7
    owner: "0x00000000000000000000000000000000000000A1"
tokens:
  - token: "0x00000000000000000000000000000000000000E0"
    holder: "0x00000000000000000000000000000000000000A1"
    amount: "100"
royalty:
  - collection: "0x00000000000000000000000000000000000000C0"
    recipient: "0x00000000000000000000000000000000000000CC"
    bps: 500
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Accounts, 1)
	require.Equal(t, int64(7), seed.Deeds[0].TokenID)
	require.Zero(t, Amount(seed.Oracle.Price).Cmp(Amount("200000000000")))
}

func TestLoadSeedRejectsBadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	raw := `
accounts:
  - address: "nope"
    balance: "10"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	_, err := LoadSeed(path)
	require.Error(t, err)
}
