package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"capsupply/core/rewards"
	"capsupply/native/access"
	"capsupply/native/stream"
	"capsupply/native/supply"
)

// Params is the validated runtime form of Config.
type Params struct {
	Cap              *big.Int
	ListingFee       *big.Int
	NFTTransferPrice *big.Int
	Schedule         *rewards.Schedule
	Streams          []stream.Params
	ScoreUnit        *big.Int
	Roles            map[access.Role][]common.Address
	Allocations      []supply.Balance
}

// ValidateConfig checks every field can be turned into runtime parameters.
func ValidateConfig(c *Config) error {
	_, err := c.Params()
	return err
}

// Params parses and validates the configuration.
func (c *Config) Params() (*Params, error) {
	if c == nil {
		return nil, fmt.Errorf("config: nil")
	}
	out := &Params{Roles: make(map[access.Role][]common.Address)}
	var err error

	if out.Cap, err = parseAmount("Cap", c.Cap); err != nil {
		return nil, err
	}
	if out.Cap.Sign() == 0 {
		return nil, fmt.Errorf("Cap: must be positive")
	}
	if out.ListingFee, err = parseAmount("ListingFee", c.ListingFee); err != nil {
		return nil, err
	}
	if out.NFTTransferPrice, err = parseAmount("NFTTransferPrice", c.NFTTransferPrice); err != nil {
		return nil, err
	}
	if out.ScoreUnit, err = parseAmount("Distributor.ScoreUnit", c.Distributor.ScoreUnit); err != nil {
		return nil, err
	}
	if out.ScoreUnit.Sign() == 0 {
		return nil, fmt.Errorf("Distributor.ScoreUnit: must be positive")
	}

	if out.Schedule, err = c.Schedule.build(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for i, sc := range c.Streams {
		p, err := sc.build()
		if err != nil {
			return nil, fmt.Errorf("Streams[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("Streams[%d]: duplicate stream %q", i, p.Name)
		}
		seen[p.Name] = true
		out.Streams = append(out.Streams, p)
	}

	roleLists := map[access.Role][]string{
		access.RoleAdmin:   c.Roles.Admins,
		access.RoleUpdater: c.Roles.Updaters,
		access.RoleListing: c.Roles.Listing,
	}
	for role, list := range roleLists {
		for _, raw := range list {
			addr, err := parseAddress(raw)
			if err != nil {
				return nil, fmt.Errorf("Roles.%s: %w", role, err)
			}
			out.Roles[role] = append(out.Roles[role], addr)
		}
	}
	if len(out.Roles[access.RoleAdmin]) == 0 {
		return nil, fmt.Errorf("Roles.Admins: at least one admin required")
	}

	total := big.NewInt(0)
	for i, alloc := range c.Allocations {
		amount, err := parseAmount(fmt.Sprintf("Allocations[%d].Amount", i), alloc.Amount)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			return nil, fmt.Errorf("Allocations[%d].Amount: must be positive", i)
		}
		var principal common.Address
		if strings.EqualFold(strings.TrimSpace(alloc.Principal), PoolPrincipal) {
			principal = supply.DistributorPoolAddress
		} else if principal, err = parseAddress(alloc.Principal); err != nil {
			return nil, fmt.Errorf("Allocations[%d].Principal: %w", i, err)
		}
		total.Add(total, amount)
		out.Allocations = append(out.Allocations, supply.Balance{Principal: principal, Amount: amount})
	}
	if total.Cmp(out.Cap) > 0 {
		return nil, fmt.Errorf("Allocations: total %s exceeds cap %s", total, out.Cap)
	}
	return out, nil
}

func (s Schedule) build() (*rewards.Schedule, error) {
	genesis, err := time.Parse(time.RFC3339, strings.TrimSpace(s.GenesisTime))
	if err != nil {
		return nil, fmt.Errorf("Schedule.GenesisTime: %w", err)
	}
	if s.PhaseDurationSeconds == 0 {
		return nil, fmt.Errorf("Schedule.PhaseDurationSeconds: must be positive")
	}
	rates := make([]*big.Int, 0, len(s.Rates))
	for i, raw := range s.Rates {
		rate, err := parseAmount(fmt.Sprintf("Schedule.Rates[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		rates = append(rates, rate)
	}
	return rewards.NewSchedule(genesis, time.Duration(s.PhaseDurationSeconds)*time.Second, rates)
}

func (s Stream) build() (stream.Params, error) {
	sizeUnit, err := parseAmount("SizeUnit", s.SizeUnit)
	if err != nil {
		return stream.Params{}, err
	}
	p := stream.Params{
		Name:                  s.Name,
		SizeUnit:              sizeUnit,
		EarlyExitRetentionBps: s.EarlyExitRetentionBps,
	}
	for _, tier := range s.Tiers {
		p.Tiers = append(p.Tiers, stream.Tier{
			MinDuration:   time.Duration(tier.MinDurationDays) * day,
			MultiplierBps: tier.MultiplierBps,
		})
	}
	if err := p.Validate(); err != nil {
		return stream.Params{}, err
	}
	return p, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: value required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid integer %q", field, raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s: must not be negative", field)
	}
	return value, nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}
