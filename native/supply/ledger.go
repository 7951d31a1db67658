package supply

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"

	coreerrors "capsupply/core/errors"
	"capsupply/core/events"
)

// Stats is a consistent read of the ledger counters.
type Stats struct {
	Cap          *big.Int
	Issued       *big.Int
	Burned       *big.Int
	Circulating  *big.Int
	Headroom     *big.Int
	ListingCount uint64
	ListingFee   *big.Int
}

// ListingReceipt is returned by BurnForListing.
type ListingReceipt struct {
	Tag          string
	TagDigest    [32]byte
	Amount       *big.Int
	ListingCount uint64
}

// Ledger is the capped token. Burns free headroom instead of shrinking the cap:
// every mint is checked against issued - burned, never against raw issued.
//
// The cap check and the issued update share one critical section so two
// concurrent mints that fit individually but not jointly cannot both land.
type Ledger struct {
	mu           sync.RWMutex
	cap          *big.Int
	issued       *big.Int
	burned       *big.Int
	listingFee   *big.Int
	listingCount uint64
	balances     map[common.Address]*big.Int
	emitter      events.Emitter
}

// NewLedger constructs an empty ledger with the immutable cap.
func NewLedger(capAmount *big.Int) (*Ledger, error) {
	if capAmount == nil || capAmount.Sign() <= 0 {
		return nil, fmt.Errorf("supply: cap must be positive")
	}
	return &Ledger{
		cap:        new(big.Int).Set(capAmount),
		issued:     big.NewInt(0),
		burned:     big.NewInt(0),
		listingFee: big.NewInt(0),
		balances:   make(map[common.Address]*big.Int),
		emitter:    events.NoopEmitter{},
	}, nil
}

// SetEmitter overrides the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Mint issues amount to principal when the result stays within the cap.
func (l *Ledger) Mint(principal common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	l.mu.Lock()
	if l.headroomLocked().Cmp(amount) < 0 {
		headroom := l.headroomLocked()
		l.mu.Unlock()
		return fmt.Errorf("%w: requested %s, headroom %s", coreerrors.ErrCapExceeded, amount, headroom)
	}
	l.issued.Add(l.issued, amount)
	l.credit(principal, amount)
	evt := events.SupplyMinted{
		Principal:   principal,
		Amount:      new(big.Int).Set(amount),
		Circulating: l.circulatingLocked(),
		Headroom:    l.headroomLocked(),
	}
	emitter := l.emitter
	l.mu.Unlock()
	emitter.Emit(evt)
	return nil
}

// Burn destroys amount from the principal's balance. Burning never fails because
// of the cap.
func (l *Ledger) Burn(principal common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	l.mu.Lock()
	if err := l.debit(principal, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	l.burned.Add(l.burned, amount)
	evt := events.SupplyBurned{
		Principal:   principal,
		Amount:      new(big.Int).Set(amount),
		TotalBurned: new(big.Int).Set(l.burned),
		Headroom:    l.headroomLocked(),
	}
	emitter := l.emitter
	l.mu.Unlock()
	emitter.Emit(evt)
	return nil
}

// BurnForListing burns the governance-set listing fee. The amount is not
// negotiable: anything other than the configured fee is rejected.
func (l *Ledger) BurnForListing(principal common.Address, amount *big.Int, tag string) (ListingReceipt, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ListingReceipt{}, fmt.Errorf("supply: listing tag required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return ListingReceipt{}, coreerrors.ErrInvalidAmount
	}
	l.mu.Lock()
	if l.listingFee.Sign() <= 0 || l.listingFee.Cmp(amount) != 0 {
		fee := new(big.Int).Set(l.listingFee)
		l.mu.Unlock()
		return ListingReceipt{}, fmt.Errorf("%w: fee %s, offered %s", coreerrors.ErrListingFeeMismatch, fee, amount)
	}
	if err := l.debit(principal, amount); err != nil {
		l.mu.Unlock()
		return ListingReceipt{}, err
	}
	l.burned.Add(l.burned, amount)
	l.listingCount++
	receipt := ListingReceipt{
		Tag:          tag,
		TagDigest:    blake3.Sum256([]byte(tag)),
		Amount:       new(big.Int).Set(amount),
		ListingCount: l.listingCount,
	}
	emitter := l.emitter
	l.mu.Unlock()
	emitter.Emit(events.ListingBurned{
		Principal:    principal,
		Amount:       receipt.Amount,
		Tag:          receipt.Tag,
		TagDigest:    receipt.TagDigest,
		ListingCount: receipt.ListingCount,
	})
	return receipt, nil
}

// Transfer moves amount between balances. Supply counters are untouched.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int, memo string) error {
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	l.mu.Lock()
	if err := l.debit(from, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	l.credit(to, amount)
	emitter := l.emitter
	l.mu.Unlock()
	emitter.Emit(events.SupplyTransfer{From: from, To: to, Amount: new(big.Int).Set(amount), Memo: memo})
	return nil
}

// SetListingFee updates the fixed listing fee.
func (l *Ledger) SetListingFee(fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 {
		return fmt.Errorf("supply: listing fee must be non-negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listingFee = new(big.Int).Set(fee)
	return nil
}

// CirculatingSupply returns issued - burned.
func (l *Ledger) CirculatingSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.circulatingLocked()
}

// RemainingHeadroom returns cap - circulating.
func (l *Ledger) RemainingHeadroom() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headroomLocked()
}

// TotalBurned returns the cumulative burned amount.
func (l *Ledger) TotalBurned() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.burned)
}

// TotalIssued returns the cumulative minted amount.
func (l *Ledger) TotalIssued() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.issued)
}

// Cap returns the immutable cap.
func (l *Ledger) Cap() *big.Int {
	return new(big.Int).Set(l.cap)
}

// ListingFee returns the current fixed listing fee.
func (l *Ledger) ListingFee() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.listingFee)
}

// BalanceOf returns the principal's balance.
func (l *Ledger) BalanceOf(principal common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[principal]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Stats returns every counter from one read.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Cap:          new(big.Int).Set(l.cap),
		Issued:       new(big.Int).Set(l.issued),
		Burned:       new(big.Int).Set(l.burned),
		Circulating:  l.circulatingLocked(),
		Headroom:     l.headroomLocked(),
		ListingCount: l.listingCount,
		ListingFee:   new(big.Int).Set(l.listingFee),
	}
}

func (l *Ledger) circulatingLocked() *big.Int {
	return new(big.Int).Sub(l.issued, l.burned)
}

func (l *Ledger) headroomLocked() *big.Int {
	headroom := new(big.Int).Sub(l.cap, l.circulatingLocked())
	if headroom.Sign() < 0 {
		return big.NewInt(0)
	}
	return headroom
}

func (l *Ledger) credit(principal common.Address, amount *big.Int) {
	bal, ok := l.balances[principal]
	if !ok {
		bal = big.NewInt(0)
		l.balances[principal] = bal
	}
	bal.Add(bal, amount)
}

func (l *Ledger) debit(principal common.Address, amount *big.Int) error {
	bal, ok := l.balances[principal]
	if !ok || bal.Cmp(amount) < 0 {
		have := big.NewInt(0)
		if ok {
			have.Set(bal)
		}
		return fmt.Errorf("%w: have %s, need %s", coreerrors.ErrInsufficientBalance, have, amount)
	}
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(l.balances, principal)
	}
	return nil
}

// Balance is the persisted form of a single account balance.
type Balance struct {
	Principal common.Address
	Amount    *big.Int
}

// Snapshot is the persisted ledger record plus balances.
type Snapshot struct {
	Cap          *big.Int
	Issued       *big.Int
	Burned       *big.Int
	ListingFee   *big.Int
	ListingCount uint64
	Balances     []Balance
}

// Snapshot captures the ledger for persistence. Balances are sorted by address.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := Snapshot{
		Cap:          new(big.Int).Set(l.cap),
		Issued:       new(big.Int).Set(l.issued),
		Burned:       new(big.Int).Set(l.burned),
		ListingFee:   new(big.Int).Set(l.listingFee),
		ListingCount: l.listingCount,
		Balances:     make([]Balance, 0, len(l.balances)),
	}
	for addr, bal := range l.balances {
		snap.Balances = append(snap.Balances, Balance{Principal: addr, Amount: new(big.Int).Set(bal)})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		return bytes.Compare(snap.Balances[i].Principal[:], snap.Balances[j].Principal[:]) < 0
	})
	return snap
}

// Restore replaces the ledger counters with a persisted snapshot. The snapshot
// cap must match the configured cap, must satisfy the supply invariant, and its
// balances must account for exactly the circulating supply.
func (l *Ledger) Restore(snap Snapshot) error {
	if snap.Cap == nil || snap.Cap.Cmp(l.cap) != 0 {
		return fmt.Errorf("supply: persisted cap %v differs from configured cap %s", snap.Cap, l.cap)
	}
	issued := normalize(snap.Issued)
	burned := normalize(snap.Burned)
	circulating := new(big.Int).Sub(issued, burned)
	if circulating.Sign() < 0 || circulating.Cmp(l.cap) > 0 {
		return fmt.Errorf("supply: persisted counters violate cap (issued %s, burned %s)", issued, burned)
	}
	balances := make(map[common.Address]*big.Int, len(snap.Balances))
	sum := big.NewInt(0)
	for _, b := range snap.Balances {
		if b.Amount == nil || b.Amount.Sign() == 0 {
			continue
		}
		if b.Amount.Sign() < 0 {
			return fmt.Errorf("supply: persisted balance of %s is negative", b.Principal.Hex())
		}
		if _, dup := balances[b.Principal]; dup {
			return fmt.Errorf("supply: duplicate persisted balance for %s", b.Principal.Hex())
		}
		balances[b.Principal] = new(big.Int).Set(b.Amount)
		sum.Add(sum, b.Amount)
	}
	if sum.Cmp(circulating) != 0 {
		return fmt.Errorf("supply: persisted balances %s do not add up to circulating %s", sum, circulating)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.issued = issued
	l.burned = burned
	l.listingFee = normalize(snap.ListingFee)
	l.listingCount = snap.ListingCount
	l.balances = balances
	return nil
}

func normalize(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
