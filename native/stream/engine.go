package stream

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "capsupply/core/errors"
	"capsupply/core/events"
	"capsupply/core/rewards"
)

// Minter issues freshly minted reward. The supply ledger satisfies it.
type Minter interface {
	Mint(principal common.Address, amount *big.Int) error
	RemainingHeadroom() *big.Int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for accrual. Tests pin it so repeated
// reads observe the same instant.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEmitter installs an event emitter at construction time.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// Engine accrues schedule-driven rewards for one stream. The yield, liquidity
// and NFT streams are three instances of this type with different Params.
//
// Rewards are only ever minted through the Minter inside Claim; a claim that
// the cap rejects leaves every checkpoint untouched.
type Engine struct {
	mu       sync.RWMutex
	params   Params
	schedule *rewards.Schedule
	minter   Minter
	emitter  events.Emitter
	now      func() time.Time

	nextID       uint64
	positions    map[uint64]*Position
	byOwner      map[common.Address][]uint64
	totalClaimed *big.Int
}

// NewEngine constructs a stream bound to the shared schedule and minter.
func NewEngine(params Params, schedule *rewards.Schedule, minter Minter, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("stream %s: %w", params.Name, err)
	}
	if minter == nil {
		return nil, fmt.Errorf("stream %s: minter required", params.Name)
	}
	e := &Engine{
		params:       params,
		schedule:     schedule.Clone(),
		minter:       minter,
		emitter:      events.NoopEmitter{},
		now:          time.Now,
		nextID:       1,
		positions:    make(map[uint64]*Position),
		byOwner:      make(map[common.Address][]uint64),
		totalClaimed: big.NewInt(0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Name returns the stream identifier.
func (e *Engine) Name() string { return e.params.Name }

// Params returns a copy of the stream configuration.
func (e *Engine) Params() Params {
	out := e.params
	out.SizeUnit = copyBigInt(e.params.SizeUnit)
	out.Tiers = append([]Tier(nil), e.params.Tiers...)
	return out
}

// SetEmitter overrides the event emitter used by the stream.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// OpenPosition records a deposit or stake and freezes its duration multiplier.
func (e *Engine) OpenPosition(principal common.Address, amount *big.Int, duration time.Duration) (uint64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, coreerrors.ErrInvalidAmount
	}
	if duration < time.Second {
		return 0, coreerrors.ErrInvalidDuration
	}
	now := e.unixNow()
	durationSecs := uint64(duration / time.Second)
	multiplier := e.params.MultiplierFor(duration)

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	pos := &Position{
		ID:            id,
		Owner:         principal,
		Amount:        new(big.Int).Set(amount),
		OpenedAt:      now,
		DurationSecs:  durationSecs,
		MultiplierBps: multiplier,
		Claimed:       big.NewInt(0),
		Accrued:       big.NewInt(0),
		Checkpoint:    now,
		Active:        true,
	}
	e.positions[id] = pos
	e.byOwner[principal] = append(e.byOwner[principal], id)
	emitter := e.emitter
	e.mu.Unlock()

	emitter.Emit(events.PositionOpened{
		Stream:        e.params.Name,
		Principal:     principal,
		PositionID:    id,
		Amount:        new(big.Int).Set(amount),
		DurationSecs:  durationSecs,
		MultiplierBps: multiplier,
	})
	return id, nil
}

// ClosePosition deactivates a position. Reward accrued up to now is settled
// into the position and stays claimable; an early exit only forfeits part of
// the stake.
func (e *Engine) ClosePosition(principal common.Address, id uint64) (Withdrawal, error) {
	now := e.unixNow()

	e.mu.Lock()
	pos, ok := e.positions[id]
	if !ok || pos.Owner != principal || !pos.Active {
		e.mu.Unlock()
		return Withdrawal{}, fmt.Errorf("%w: %s position %d", coreerrors.ErrInvalidPosition, e.params.Name, id)
	}
	settled := e.accrueLocked(pos, now)
	pos.Accrued.Add(pos.Accrued, settled)
	pos.Checkpoint = now
	pos.Active = false
	pos.ClosedAt = now

	early := now < pos.OpenedAt+pos.DurationSecs
	returned := new(big.Int).Set(pos.Amount)
	if early {
		returned = rewards.ApplyBps(pos.Amount, e.params.EarlyExitRetentionBps)
	}
	withdrawal := Withdrawal{
		PositionID: id,
		Returned:   returned,
		Penalty:    new(big.Int).Sub(pos.Amount, returned),
		Early:      early,
		Accrued:    new(big.Int).Set(pos.Accrued),
	}
	emitter := e.emitter
	e.mu.Unlock()

	emitter.Emit(events.PositionClosed{
		Stream:     e.params.Name,
		Principal:  principal,
		PositionID: id,
		Returned:   new(big.Int).Set(withdrawal.Returned),
		Penalty:    new(big.Int).Set(withdrawal.Penalty),
		Early:      early,
		Accrued:    new(big.Int).Set(withdrawal.Accrued),
	})
	return withdrawal, nil
}

// PendingReward is advisory: it reports what a claim at the current instant
// would request. Claim re-checks the cap authoritatively.
func (e *Engine) PendingReward(principal common.Address) *big.Int {
	now := e.unixNow()
	e.mu.RLock()
	defer e.mu.RUnlock()
	total, _ := e.pendingLocked(principal, now)
	return total
}

// Claim mints the principal's pending reward in one step. On any minter error
// no position is modified, so the same reward can be claimed again once
// headroom returns.
//
// Each position's reward is rounded down to whole units and its checkpoint
// then moves to now, so the fractional remainder of every claim is forfeited
// rather than carried forward. Frequent claims therefore mint slightly less
// than one claim over the same span, never more.
func (e *Engine) Claim(principal common.Address) (*big.Int, error) {
	now := e.unixNow()

	e.mu.Lock()
	total, touched := e.pendingLocked(principal, now)
	if total.Sign() == 0 {
		e.mu.Unlock()
		return big.NewInt(0), coreerrors.ErrNothingToClaim
	}
	if err := e.minter.Mint(principal, total); err != nil {
		emitter := e.emitter
		e.mu.Unlock()
		if errors.Is(err, coreerrors.ErrCapExceeded) {
			emitter.Emit(events.StreamCapHit{
				Stream:    e.params.Name,
				Principal: principal,
				Requested: new(big.Int).Set(total),
				Headroom:  e.minter.RemainingHeadroom(),
			})
		}
		return big.NewInt(0), fmt.Errorf("stream %s claim: %w", e.params.Name, err)
	}
	for _, part := range touched {
		part.pos.Claimed.Add(part.pos.Claimed, part.amount)
		part.pos.Accrued.SetInt64(0)
		if part.pos.Active {
			part.pos.Checkpoint = now
		}
	}
	e.totalClaimed.Add(e.totalClaimed, total)
	emitter := e.emitter
	e.mu.Unlock()

	emitter.Emit(events.StreamClaimed{
		Stream:    e.params.Name,
		Principal: principal,
		Amount:    new(big.Int).Set(total),
		Positions: len(touched),
	})
	return total, nil
}

// Position returns a copy of a single position.
func (e *Engine) Position(id uint64) (Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, ok := e.positions[id]
	if !ok {
		return Position{}, false
	}
	return pos.Clone(), true
}

// Positions lists the principal's positions in opening order.
func (e *Engine) Positions(principal common.Address) []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := e.byOwner[principal]
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.positions[id].Clone())
	}
	return out
}

// Summary aggregates the principal's positions, pending and claimed reward.
func (e *Engine) Summary(principal common.Address) Summary {
	now := e.unixNow()
	e.mu.RLock()
	defer e.mu.RUnlock()
	pending, _ := e.pendingLocked(principal, now)
	summary := Summary{
		Stream:       e.params.Name,
		Principal:    principal,
		ActiveAmount: big.NewInt(0),
		Pending:      pending,
		Claimed:      big.NewInt(0),
	}
	for _, id := range e.byOwner[principal] {
		pos := e.positions[id]
		if pos.Active {
			summary.ActiveAmount.Add(summary.ActiveAmount, pos.Amount)
		}
		summary.Claimed.Add(summary.Claimed, pos.Claimed)
		summary.Positions = append(summary.Positions, pos.Clone())
	}
	return summary
}

// Totals aggregates the whole stream.
func (e *Engine) Totals() Totals {
	e.mu.RLock()
	defer e.mu.RUnlock()
	totals := Totals{
		Stream:       e.params.Name,
		ActiveAmount: big.NewInt(0),
		Claimed:      new(big.Int).Set(e.totalClaimed),
		Positions:    len(e.positions),
		Principals:   len(e.byOwner),
	}
	for _, pos := range e.positions {
		if pos.Active {
			totals.ActivePositions++
			totals.ActiveAmount.Add(totals.ActiveAmount, pos.Amount)
		}
	}
	return totals
}

// Liability is the most a position of SizeUnit at 1x can earn over the whole
// schedule. Operators use it to size the cap against expected participation.
func (e *Engine) Liability() *big.Int {
	return rewards.PositionReward(e.params.SizeUnit, e.schedule.TotalLiability(), rewards.MultiplierOne, e.params.SizeUnit)
}

// Snapshot captures the stream state for persistence.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := Snapshot{
		Name:         e.params.Name,
		NextID:       e.nextID,
		TotalClaimed: new(big.Int).Set(e.totalClaimed),
		Positions:    make([]Position, 0, len(e.positions)),
	}
	for _, pos := range e.positions {
		snap.Positions = append(snap.Positions, pos.Clone())
	}
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].ID < snap.Positions[j].ID })
	return snap
}

// Restore replaces the stream state with a persisted snapshot.
func (e *Engine) Restore(snap Snapshot) error {
	if snap.Name != e.params.Name {
		return fmt.Errorf("stream %s: snapshot belongs to %q", e.params.Name, snap.Name)
	}
	positions := make(map[uint64]*Position, len(snap.Positions))
	byOwner := make(map[common.Address][]uint64)
	sorted := append([]Position(nil), snap.Positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i := range sorted {
		pos := sorted[i].Clone()
		if pos.ID == 0 || pos.ID >= snap.NextID {
			return fmt.Errorf("stream %s: position id %d outside allocated range", e.params.Name, pos.ID)
		}
		if _, dup := positions[pos.ID]; dup {
			return fmt.Errorf("stream %s: duplicate position %d", e.params.Name, pos.ID)
		}
		positions[pos.ID] = &pos
		byOwner[pos.Owner] = append(byOwner[pos.Owner], pos.ID)
	}
	nextID := snap.NextID
	if nextID == 0 {
		nextID = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID = nextID
	e.positions = positions
	e.byOwner = byOwner
	e.totalClaimed = copyBigInt(snap.TotalClaimed)
	return nil
}

type contribution struct {
	pos    *Position
	amount *big.Int
}

func (e *Engine) pendingLocked(principal common.Address, now uint64) (*big.Int, []contribution) {
	total := big.NewInt(0)
	var touched []contribution
	for _, id := range e.byOwner[principal] {
		pos := e.positions[id]
		amount := new(big.Int).Set(pos.Accrued)
		if pos.Active {
			amount.Add(amount, e.accrueLocked(pos, now))
		}
		if amount.Sign() == 0 {
			continue
		}
		total.Add(total, amount)
		touched = append(touched, contribution{pos: pos, amount: amount})
	}
	return total, touched
}

func (e *Engine) accrueLocked(pos *Position, now uint64) *big.Int {
	if now <= pos.Checkpoint {
		return big.NewInt(0)
	}
	rateSeconds := e.schedule.Accrued(unixTime(pos.Checkpoint), unixTime(now))
	return rewards.PositionReward(pos.Amount, rateSeconds, pos.MultiplierBps, e.params.SizeUnit)
}

func (e *Engine) unixNow() uint64 {
	ts := e.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func unixTime(ts uint64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}
