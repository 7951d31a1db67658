package stream

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"capsupply/core/rewards"
)

const (
	// StreamYield tracks yield-token deposits.
	StreamYield = "yield"
	// StreamLiquidity tracks LP-token stakes.
	StreamLiquidity = "liquidity"
	// StreamNFT tracks staked NFT counts.
	StreamNFT = "nft"

	day = 24 * time.Hour
)

// Tier maps a minimum declared duration onto a multiplier. A position uses the
// highest tier whose MinDuration does not exceed its declared duration.
type Tier struct {
	MinDuration   time.Duration
	MultiplierBps uint32
}

// Params configures one stream instance.
type Params struct {
	Name string
	// SizeUnit normalises position amounts: a position of SizeUnit earns the
	// schedule rate once per second at 1x.
	SizeUnit *big.Int
	Tiers    []Tier
	// EarlyExitRetentionBps is the share of the stake returned when a position
	// closes before its declared duration. 10_000 disables the penalty.
	EarlyExitRetentionBps uint32
}

// DefaultTiers is the short/medium/long/ultra-long table: 1.0x, 1.5x, 2.0x, 3.0x.
func DefaultTiers() []Tier {
	return []Tier{
		{MinDuration: 0, MultiplierBps: 10_000},
		{MinDuration: 30 * day, MultiplierBps: 15_000},
		{MinDuration: 90 * day, MultiplierBps: 20_000},
		{MinDuration: 180 * day, MultiplierBps: 30_000},
	}
}

func tokenUnit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

// YieldParams returns the yield-deposit stream defaults.
func YieldParams() Params {
	return Params{
		Name:                  StreamYield,
		SizeUnit:              tokenUnit(),
		Tiers:                 DefaultTiers(),
		EarlyExitRetentionBps: 5_000,
	}
}

// LiquidityParams returns the liquidity-stake stream defaults.
func LiquidityParams() Params {
	return Params{
		Name:     StreamLiquidity,
		SizeUnit: tokenUnit(),
		Tiers: []Tier{
			{MinDuration: 0, MultiplierBps: 10_000},
			{MinDuration: 30 * day, MultiplierBps: 12_500},
			{MinDuration: 90 * day, MultiplierBps: 17_500},
			{MinDuration: 180 * day, MultiplierBps: 25_000},
		},
		EarlyExitRetentionBps: 5_000,
	}
}

// NFTParams returns the NFT-stake stream defaults. NFTs are counted, so the
// size unit is one and early exits are not penalised.
func NFTParams() Params {
	return Params{
		Name:                  StreamNFT,
		SizeUnit:              big.NewInt(1),
		Tiers:                 DefaultTiers(),
		EarlyExitRetentionBps: rewards.BasisPointsDenom,
	}
}

// Validate ensures the tier table is usable and normalises its order.
func (p *Params) Validate() error {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		return fmt.Errorf("stream: name required")
	}
	if p.SizeUnit == nil || p.SizeUnit.Sign() <= 0 {
		return fmt.Errorf("stream %s: size unit must be positive", p.Name)
	}
	if len(p.Tiers) == 0 {
		return fmt.Errorf("stream %s: at least one duration tier required", p.Name)
	}
	if p.EarlyExitRetentionBps > rewards.BasisPointsDenom {
		return fmt.Errorf("stream %s: retention must be <= %d bps", p.Name, rewards.BasisPointsDenom)
	}
	tiers := make([]Tier, len(p.Tiers))
	copy(tiers, p.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinDuration < tiers[j].MinDuration })
	if tiers[0].MinDuration != 0 {
		return fmt.Errorf("stream %s: first tier must start at zero duration", p.Name)
	}
	for i, tier := range tiers {
		if tier.MultiplierBps == 0 {
			return fmt.Errorf("stream %s tier %d: multiplier must be positive", p.Name, i)
		}
		if i > 0 && tier.MinDuration == tiers[i-1].MinDuration {
			return fmt.Errorf("stream %s tier %d: duplicate minimum duration %s", p.Name, i, tier.MinDuration)
		}
	}
	p.Tiers = tiers
	p.SizeUnit = new(big.Int).Set(p.SizeUnit)
	return nil
}

// MultiplierFor looks up the step-table multiplier for a declared duration.
func (p Params) MultiplierFor(duration time.Duration) uint32 {
	multiplier := rewards.MultiplierOne
	for _, tier := range p.Tiers {
		if duration < tier.MinDuration {
			break
		}
		multiplier = tier.MultiplierBps
	}
	return multiplier
}
