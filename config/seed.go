package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Seed describes development fixtures applied at daemon startup: funded
// accounts, minted assets, royalty terms and an initial oracle quote.
type Seed struct {
	Oracle struct {
		Price    string `yaml:"price"`
		Decimals uint8  `yaml:"decimals"`
	} `yaml:"oracle"`
	Accounts []SeedAccount `yaml:"accounts"`
	Deeds    []SeedDeed    `yaml:"deeds"`
	Tokens   []SeedToken   `yaml:"tokens"`
	Royalty  []SeedRoyalty `yaml:"royalty"`
}

type SeedAccount struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"`
}

type SeedDeed struct {
	Collection string `yaml:"collection"`
	TokenID    int64  `yaml:"tokenId"`
	Owner      string `yaml:"owner"`
}

type SeedToken struct {
	Token  string `yaml:"token"`
	Holder string `yaml:"holder"`
	Amount string `yaml:"amount"`
}

type SeedRoyalty struct {
	Collection string `yaml:"collection"`
	Recipient  string `yaml:"recipient"`
	Bps        uint32 `yaml:"bps"`
}

// LoadSeed parses and validates a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed := &Seed{}
	if err := yaml.Unmarshal(raw, seed); err != nil {
		return nil, fmt.Errorf("config: decode seed %s: %w", path, err)
	}
	if err := seed.validate(); err != nil {
		return nil, fmt.Errorf("config: seed %s: %w", path, err)
	}
	return seed, nil
}

func (s *Seed) validate() error {
	if s.Oracle.Price != "" {
		if _, err := parseAmount(s.Oracle.Price); err != nil {
			return fmt.Errorf("oracle price: %w", err)
		}
		if s.Oracle.Decimals > 18 {
			return fmt.Errorf("oracle decimals out of range: %d", s.Oracle.Decimals)
		}
	}
	for i, acct := range s.Accounts {
		if !common.IsHexAddress(acct.Address) {
			return fmt.Errorf("account %d: invalid address %q", i, acct.Address)
		}
		if _, err := parseAmount(acct.Balance); err != nil {
			return fmt.Errorf("account %d balance: %w", i, err)
		}
	}
	for i, deed := range s.Deeds {
		if !common.IsHexAddress(deed.Collection) || !common.IsHexAddress(deed.Owner) {
			return fmt.Errorf("deed %d: invalid address", i)
		}
	}
	for i, token := range s.Tokens {
		if !common.IsHexAddress(token.Token) || !common.IsHexAddress(token.Holder) {
			return fmt.Errorf("token %d: invalid address", i)
		}
		if _, err := parseAmount(token.Amount); err != nil {
			return fmt.Errorf("token %d amount: %w", i, err)
		}
	}
	for i, terms := range s.Royalty {
		if !common.IsHexAddress(terms.Collection) || !common.IsHexAddress(terms.Recipient) {
			return fmt.Errorf("royalty %d: invalid address", i)
		}
		if terms.Bps > 10_000 {
			return fmt.Errorf("royalty %d: bps out of range", i)
		}
	}
	return nil
}

// parseAmount parses a positive decimal integer string.
func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

// Amount re-parses a validated amount string. It panics on malformed input,
// so callers must only use it after LoadSeed succeeded.
func Amount(raw string) *big.Int {
	value, err := parseAmount(raw)
	if err != nil {
		panic(err)
	}
	return value
}
