package rewards

import (
	"fmt"
	"math/big"
	"time"
)

// Schedule is the phase-decaying reward rate table shared by every stream.
// Each phase is PhaseDuration long; phase i pays Rates[i] reward units per
// second per normalised unit of position size. Past the last phase the rate is
// zero, which bounds the total liability of a stream at genesis.
type Schedule struct {
	// Start is the genesis timestamp. Accrual before Start is zero.
	Start time.Time
	// PhaseDuration is the length of each phase, truncated to whole seconds.
	PhaseDuration time.Duration
	// Rates lists the per-phase rate. A non-increasing table is the intended
	// policy; increasing tables are accepted and reported by IsDecaying.
	Rates []*big.Int
}

// NewSchedule validates and copies the supplied rate table.
func NewSchedule(start time.Time, phaseDuration time.Duration, rates []*big.Int) (*Schedule, error) {
	s := &Schedule{Start: start.UTC(), PhaseDuration: phaseDuration, Rates: rates}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Validate ensures the schedule is internally consistent.
func (s *Schedule) Validate() error {
	if s == nil {
		return fmt.Errorf("schedule: nil")
	}
	if s.PhaseDuration < time.Second {
		return fmt.Errorf("schedule: phase duration must be at least one second")
	}
	if len(s.Rates) == 0 {
		return fmt.Errorf("schedule: at least one phase rate required")
	}
	for i, rate := range s.Rates {
		if rate == nil {
			return fmt.Errorf("schedule phase %d: rate must not be nil", i)
		}
		if rate.Sign() < 0 {
			return fmt.Errorf("schedule phase %d: rate must be non-negative", i)
		}
	}
	return nil
}

// Clone creates a deep copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := &Schedule{
		Start:         s.Start,
		PhaseDuration: s.PhaseDuration.Truncate(time.Second),
		Rates:         make([]*big.Int, len(s.Rates)),
	}
	for i := range s.Rates {
		clone.Rates[i] = copyBigInt(s.Rates[i])
	}
	return clone
}

// Phases reports the number of configured phases.
func (s *Schedule) Phases() int { return len(s.Rates) }

// End returns the instant the final phase closes.
func (s *Schedule) End() time.Time {
	return s.Start.Add(time.Duration(len(s.Rates)) * s.phaseSeconds() * time.Second)
}

// PhaseAt returns floor((now - Start) / PhaseDuration). ok is false before
// Start and once the schedule has run out.
func (s *Schedule) PhaseAt(now time.Time) (int, bool) {
	elapsed := now.Unix() - s.Start.Unix()
	if elapsed < 0 {
		return 0, false
	}
	idx := elapsed / int64(s.phaseSeconds())
	if idx >= int64(len(s.Rates)) {
		return len(s.Rates), false
	}
	return int(idx), true
}

// RateAt returns the rate in force at now, or zero outside the schedule.
func (s *Schedule) RateAt(now time.Time) *big.Int {
	idx, ok := s.PhaseAt(now)
	if !ok {
		return big.NewInt(0)
	}
	return copyBigInt(s.Rates[idx])
}

// Accrued integrates the rate over [from, to) in whole seconds and returns the
// rate-seconds earned by one normalised size unit. Intervals crossing phase
// boundaries are split so each segment uses its own phase rate.
func (s *Schedule) Accrued(from, to time.Time) *big.Int {
	total := big.NewInt(0)
	start := s.Start.Unix()
	phase := int64(s.phaseSeconds())
	end := start + phase*int64(len(s.Rates))

	lo, hi := from.Unix(), to.Unix()
	if lo < start {
		lo = start
	}
	if hi > end {
		hi = end
	}
	segment := new(big.Int)
	for lo < hi {
		idx := (lo - start) / phase
		boundary := start + (idx+1)*phase
		segEnd := hi
		if boundary < segEnd {
			segEnd = boundary
		}
		segment.SetInt64(segEnd - lo)
		segment.Mul(segment, s.Rates[idx])
		total.Add(total, segment)
		lo = segEnd
	}
	return total
}

// TotalLiability returns the sum of rate_i * phaseSeconds over every phase:
// the most one normalised size unit at multiplier 1x can ever earn.
func (s *Schedule) TotalLiability() *big.Int {
	return s.Accrued(s.Start, s.End())
}

// IsDecaying reports whether the rate table is monotonically non-increasing.
func (s *Schedule) IsDecaying() bool {
	for i := 1; i < len(s.Rates); i++ {
		if s.Rates[i].Cmp(s.Rates[i-1]) > 0 {
			return false
		}
	}
	return true
}

func (s *Schedule) phaseSeconds() time.Duration {
	return s.PhaseDuration / time.Second
}

func copyBigInt(value *big.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(value)
}
