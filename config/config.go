package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"capsupply/native/stream"
)

// PoolPrincipal is the allocation principal alias for the distributor escrow.
const PoolPrincipal = "distributor-pool"

const day = 24 * time.Hour

// Config holds the engine parameters loaded from TOML.
type Config struct {
	Cap              string       `toml:"Cap"`
	ListingFee       string       `toml:"ListingFee"`
	NFTTransferPrice string       `toml:"NFTTransferPrice"`
	Schedule         Schedule     `toml:"Schedule"`
	Streams          []Stream     `toml:"Streams"`
	Distributor      Distributor  `toml:"Distributor"`
	Roles            Roles        `toml:"Roles"`
	Allocations      []Allocation `toml:"Allocations"`
}

// Load reads the parameter file at path, fills defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the stock parameter set. Roles are left empty: an operator
// must name at least one admin before the file validates.
func Default() *Config {
	cfg := &Config{
		Cap:        "100000000000000000000000000",
		ListingFee: "100000000000000000000",
		// One NFT stake unit is priced at 1000 tokens.
		NFTTransferPrice: "1000000000000000000000",
		Schedule: Schedule{
			GenesisTime:          "2025-01-01T00:00:00Z",
			PhaseDurationSeconds: 90 * 24 * 3600,
			Rates:                []string{"10000000000", "7500000000", "5000000000", "2500000000"},
		},
		Distributor: Distributor{ScoreUnit: "1"},
	}
	cfg.applyDefaults()
	return cfg
}

// WriteDefault writes the stock parameter set to path.
func WriteDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListingFee) == "" {
		c.ListingFee = "0"
	}
	if strings.TrimSpace(c.NFTTransferPrice) == "" {
		c.NFTTransferPrice = "0"
	}
	if strings.TrimSpace(c.Distributor.ScoreUnit) == "" {
		c.Distributor.ScoreUnit = "1"
	}
	if len(c.Streams) == 0 {
		for _, p := range []stream.Params{stream.YieldParams(), stream.LiquidityParams(), stream.NFTParams()} {
			c.Streams = append(c.Streams, streamFromParams(p))
		}
	}
}

func streamFromParams(p stream.Params) Stream {
	out := Stream{
		Name:                  p.Name,
		SizeUnit:              p.SizeUnit.String(),
		EarlyExitRetentionBps: p.EarlyExitRetentionBps,
	}
	for _, tier := range p.Tiers {
		out.Tiers = append(out.Tiers, Tier{
			MinDurationDays: uint64(tier.MinDuration / day),
			MultiplierBps:   tier.MultiplierBps,
		})
	}
	return out
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
