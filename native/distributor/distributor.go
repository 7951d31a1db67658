package distributor

import (
	"bytes"
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

// Pool is the pre-funded balance the distributor pays out of.
type Pool interface {
	Balance() *big.Int
	Deposit(from common.Address, amount *big.Int) error
	Pay(to common.Address, amount *big.Int) error
}

// Account tracks one registered principal.
type Account struct {
	Principal common.Address
	Score     *big.Int
	// LastUpdate is the checkpoint accrual is measured from.
	LastUpdate uint64
	// Credited is reward settled under earlier scores and not yet claimed.
	Credited *big.Int
	Claimed  *big.Int
}

func (a *Account) clone() Account {
	out := *a
	out.Score = copyBigInt(a.Score)
	out.Credited = copyBigInt(a.Credited)
	out.Claimed = copyBigInt(a.Claimed)
	return out
}

// Stats summarises the distributor.
type Stats struct {
	PoolBalance   *big.Int
	TotalStreamed *big.Int
	Funded        *big.Int
	Registered    int
	TotalScore    *big.Int
}

// Snapshot is the persisted form of the distributor.
type Snapshot struct {
	TotalStreamed *big.Int
	Funded        *big.Int
	Accounts      []Account
}

// Option configures a Distributor.
type Option func(*Distributor)

// WithClock overrides the distributor clock.
func WithClock(now func() time.Time) Option {
	return func(d *Distributor) {
		if now != nil {
			d.now = now
		}
	}
}

// WithEmitter installs an event emitter at construction time.
func WithEmitter(emitter events.Emitter) Option {
	return func(d *Distributor) {
		if emitter != nil {
			d.emitter = emitter
		}
	}
}

// Distributor streams pre-funded rewards by activity score. It never mints, so
// it never touches the cap; it is bounded by the pool balance instead.
type Distributor struct {
	mu        sync.RWMutex
	schedule  *rewards.Schedule
	scoreUnit *big.Int
	pool      Pool
	emitter   events.Emitter
	now       func() time.Time

	accounts      map[common.Address]*Account
	totalStreamed *big.Int
	funded        *big.Int
}

// New constructs a distributor paying from pool. scoreUnit normalises scores:
// a score of scoreUnit earns the schedule rate per second.
func New(schedule *rewards.Schedule, scoreUnit *big.Int, pool Pool, opts ...Option) (*Distributor, error) {
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("distributor: %w", err)
	}
	if scoreUnit == nil || scoreUnit.Sign() <= 0 {
		return nil, fmt.Errorf("distributor: score unit must be positive")
	}
	if pool == nil {
		return nil, fmt.Errorf("distributor: pool required")
	}
	d := &Distributor{
		schedule:      schedule.Clone(),
		scoreUnit:     new(big.Int).Set(scoreUnit),
		pool:          pool,
		emitter:       events.NoopEmitter{},
		now:           time.Now,
		accounts:      make(map[common.Address]*Account),
		totalStreamed: big.NewInt(0),
		funded:        big.NewInt(0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// SetEmitter overrides the event emitter.
func (d *Distributor) SetEmitter(emitter events.Emitter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if emitter == nil {
		d.emitter = events.NoopEmitter{}
		return
	}
	d.emitter = emitter
}

// Fund tops up the pool from the funder's balance.
func (d *Distributor) Fund(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	d.mu.Lock()
	if err := d.pool.Deposit(from, amount); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("distributor fund: %w", err)
	}
	d.funded.Add(d.funded, amount)
	emitter := d.emitter
	balance := d.pool.Balance()
	d.mu.Unlock()

	emitter.Emit(events.DistributorFunded{Amount: new(big.Int).Set(amount), Balance: balance})
	return nil
}

// RegisterPrincipal enrols principal with an initial activity score.
func (d *Distributor) RegisterPrincipal(principal common.Address, score *big.Int) error {
	if score == nil || score.Sign() < 0 {
		return coreerrors.ErrInvalidAmount
	}
	now := d.unixNow()
	d.mu.Lock()
	if _, ok := d.accounts[principal]; ok {
		d.mu.Unlock()
		return coreerrors.ErrAlreadyRegistered
	}
	d.accounts[principal] = &Account{
		Principal:  principal,
		Score:      new(big.Int).Set(score),
		LastUpdate: now,
		Credited:   big.NewInt(0),
		Claimed:    big.NewInt(0),
	}
	emitter := d.emitter
	d.mu.Unlock()

	emitter.Emit(events.DistributorRegistered{Principal: principal, Score: new(big.Int).Set(score)})
	return nil
}

// UpdateActivity settles accrual under the current score up to now and then
// applies the new score. Past accrual is never rewritten.
func (d *Distributor) UpdateActivity(principal common.Address, score *big.Int) error {
	if score == nil || score.Sign() < 0 {
		return coreerrors.ErrInvalidAmount
	}
	now := d.unixNow()
	d.mu.Lock()
	acct, ok := d.accounts[principal]
	if !ok {
		d.mu.Unlock()
		return coreerrors.ErrNotRegistered
	}
	credited := d.accrueLocked(acct, now)
	acct.Credited.Add(acct.Credited, credited)
	oldScore := acct.Score
	acct.Score = new(big.Int).Set(score)
	acct.LastUpdate = now
	emitter := d.emitter
	d.mu.Unlock()

	emitter.Emit(events.DistributorActivity{
		Principal: principal,
		OldScore:  oldScore,
		NewScore:  new(big.Int).Set(score),
		Credited:  credited,
	})
	return nil
}

// PendingReward returns credited plus live accrual. Unregistered principals
// report zero.
func (d *Distributor) PendingReward(principal common.Address) *big.Int {
	now := d.unixNow()
	d.mu.RLock()
	defer d.mu.RUnlock()
	acct, ok := d.accounts[principal]
	if !ok {
		return big.NewInt(0)
	}
	return d.pendingLocked(acct, now)
}

// Claim pays the pending reward out of the pool. When the pool cannot cover it
// nothing is paid and the account is left as it was.
func (d *Distributor) Claim(principal common.Address) (*big.Int, error) {
	now := d.unixNow()
	d.mu.Lock()
	acct, ok := d.accounts[principal]
	if !ok {
		d.mu.Unlock()
		return big.NewInt(0), coreerrors.ErrNotRegistered
	}
	pending := d.pendingLocked(acct, now)
	if pending.Sign() == 0 {
		d.mu.Unlock()
		return big.NewInt(0), coreerrors.ErrNothingToStream
	}
	if balance := d.pool.Balance(); balance.Cmp(pending) < 0 {
		d.mu.Unlock()
		return big.NewInt(0), fmt.Errorf("%w: pending %s, pool %s", coreerrors.ErrInsufficientPool, pending, balance)
	}
	if err := d.pool.Pay(principal, pending); err != nil {
		d.mu.Unlock()
		return big.NewInt(0), fmt.Errorf("distributor claim: %w", err)
	}
	acct.Credited.SetInt64(0)
	acct.Claimed.Add(acct.Claimed, pending)
	acct.LastUpdate = now
	d.totalStreamed.Add(d.totalStreamed, pending)
	emitter := d.emitter
	remaining := d.pool.Balance()
	d.mu.Unlock()

	emitter.Emit(events.DistributorClaimed{Principal: principal, Amount: new(big.Int).Set(pending), PoolRemaining: remaining})
	return pending, nil
}

// Account returns a copy of the principal's account.
func (d *Distributor) Account(principal common.Address) (Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acct, ok := d.accounts[principal]
	if !ok {
		return Account{}, false
	}
	return acct.clone(), true
}

// Stats reports pool and streaming totals.
func (d *Distributor) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := Stats{
		PoolBalance:   d.pool.Balance(),
		TotalStreamed: new(big.Int).Set(d.totalStreamed),
		Funded:        new(big.Int).Set(d.funded),
		Registered:    len(d.accounts),
		TotalScore:    big.NewInt(0),
	}
	for _, acct := range d.accounts {
		stats.TotalScore.Add(stats.TotalScore, acct.Score)
	}
	return stats
}

// Snapshot captures the distributor state. The pool balance lives on the
// ledger and is persisted there.
func (d *Distributor) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := Snapshot{
		TotalStreamed: new(big.Int).Set(d.totalStreamed),
		Funded:        new(big.Int).Set(d.funded),
		Accounts:      make([]Account, 0, len(d.accounts)),
	}
	for _, acct := range d.accounts {
		snap.Accounts = append(snap.Accounts, acct.clone())
	}
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return bytes.Compare(snap.Accounts[i].Principal[:], snap.Accounts[j].Principal[:]) < 0
	})
	return snap
}

// Restore replaces the distributor state.
func (d *Distributor) Restore(snap Snapshot) error {
	accounts := make(map[common.Address]*Account, len(snap.Accounts))
	for i := range snap.Accounts {
		acct := snap.Accounts[i].clone()
		if _, dup := accounts[acct.Principal]; dup {
			return fmt.Errorf("distributor: duplicate account %s", acct.Principal.Hex())
		}
		if acct.Score.Sign() < 0 || acct.Credited.Sign() < 0 || acct.Claimed.Sign() < 0 {
			return fmt.Errorf("distributor: negative field for %s", acct.Principal.Hex())
		}
		accounts[acct.Principal] = &acct
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts = accounts
	d.totalStreamed = copyBigInt(snap.TotalStreamed)
	d.funded = copyBigInt(snap.Funded)
	return nil
}

func (d *Distributor) pendingLocked(acct *Account, now uint64) *big.Int {
	pending := new(big.Int).Set(acct.Credited)
	return pending.Add(pending, d.accrueLocked(acct, now))
}

func (d *Distributor) accrueLocked(acct *Account, now uint64) *big.Int {
	if now <= acct.LastUpdate || acct.Score.Sign() == 0 {
		return big.NewInt(0)
	}
	rateSeconds := d.schedule.Accrued(time.Unix(int64(acct.LastUpdate), 0), time.Unix(int64(now), 0))
	return rewards.ScoreReward(acct.Score, rateSeconds, d.scoreUnit)
}

func (d *Distributor) unixNow() uint64 {
	ts := d.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func copyBigInt(value *big.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(value)
}
