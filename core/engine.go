package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"capsupply/config"
	coreerrors "capsupply/core/errors"
	"capsupply/core/events"
	"capsupply/core/rewards"
	"capsupply/core/state"
	"capsupply/native/access"
	nativecommon "capsupply/native/common"
	"capsupply/native/distributor"
	"capsupply/native/nft"
	"capsupply/native/stream"
	"capsupply/native/supply"
	"capsupply/observability"
	"capsupply/observability/metrics"
)

const (
	moduleStream      = "stream"
	moduleDistributor = "distributor"
	moduleSupply      = "supply"
	moduleNFT         = "nft"
)

// Option configures an Engine.
type Option func(*Engine)

// WithClock pins the clock shared by every component.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEmitter adds an event sink. Engine events are always counted in metrics.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// PhaseInfo is the public view of the schedule at an instant.
type PhaseInfo struct {
	Index         int
	Active        bool
	Rate          *big.Int
	Start         time.Time
	End           time.Time
	PhaseDuration time.Duration
	Phases        int
	Now           time.Time
}

// DistributorView is a principal's distributor position.
type DistributorView struct {
	Registered bool
	Account    distributor.Account
	Pending    *big.Int
}

// Engine wires the capped ledger, the reward streams, the distributor, roles,
// the pause gate and the NFT registry behind one writer lock. Every mutating
// call runs pause gate, role check, component call, then metrics.
type Engine struct {
	mu sync.Mutex

	ledger      *supply.Ledger
	pool        *supply.EscrowPool
	schedule    *rewards.Schedule
	streams     map[string]*stream.Engine
	streamOrder []string
	distributor *distributor.Distributor
	roles       *access.Registry
	pauser      *access.Pauser
	nfts        *nft.Registry

	emitter events.Emitter
	metrics *metrics.SupplyMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine builds the engine from validated parameters and applies genesis
// allocations.
func NewEngine(params *config.Params, opts ...Option) (*Engine, error) {
	if params == nil {
		return nil, fmt.Errorf("engine: params required")
	}
	e := &Engine{
		streams: make(map[string]*stream.Engine),
		emitter: events.NoopEmitter{},
		metrics: metrics.Supply(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	emitter := events.MultiEmitter{e.emitter, observability.Events()}

	ledger, err := supply.NewLedger(params.Cap)
	if err != nil {
		return nil, err
	}
	ledger.SetEmitter(emitter)
	if err := ledger.SetListingFee(params.ListingFee); err != nil {
		return nil, err
	}
	e.ledger = ledger
	e.pool = supply.NewEscrowPool(ledger, supply.DistributorPoolAddress)
	e.schedule = params.Schedule.Clone()
	if !e.schedule.IsDecaying() {
		e.logger.Warn("phase rate table increases between phases", "phases", e.schedule.Phases())
	}

	for _, sp := range params.Streams {
		s, err := stream.NewEngine(sp, e.schedule, ledger, stream.WithClock(e.now), stream.WithEmitter(emitter))
		if err != nil {
			return nil, err
		}
		e.streams[s.Name()] = s
		e.streamOrder = append(e.streamOrder, s.Name())
		e.metrics.InitStream(s.Name())
	}

	e.distributor, err = distributor.New(e.schedule, params.ScoreUnit, e.pool,
		distributor.WithClock(e.now), distributor.WithEmitter(emitter))
	if err != nil {
		return nil, err
	}

	e.roles, err = access.NewRegistry(params.Roles)
	if err != nil {
		return nil, err
	}
	e.roles.SetEmitter(emitter)
	e.pauser = access.NewPauser()
	e.pauser.SetEmitter(emitter)

	guards := []nft.TransferGuard{nft.ExcludeParties(e.reservedAddresses()...)}
	if params.NFTTransferPrice != nil && params.NFTTransferPrice.Sign() > 0 {
		guards = append(guards, nft.FixedPrice(params.NFTTransferPrice))
	}
	e.nfts = nft.NewRegistry(guards...)
	e.nfts.SetEmitter(emitter)
	e.emitter = emitter

	for _, alloc := range params.Allocations {
		if err := ledger.Mint(alloc.Principal, alloc.Amount); err != nil {
			return nil, fmt.Errorf("engine: genesis allocation to %s: %w", alloc.Principal.Hex(), err)
		}
	}
	e.publish()
	return e, nil
}

// Ledger exposes the capped ledger for read access.
func (e *Engine) Ledger() *supply.Ledger { return e.ledger }

// Streams lists the configured stream names in configuration order.
func (e *Engine) Streams() []string { return append([]string(nil), e.streamOrder...) }

// Roles exposes the role registry for read access.
func (e *Engine) Roles() *access.Registry { return e.roles }

// Paused reports the pause gate state.
func (e *Engine) Paused() bool { return e.pauser.Paused() }

// Phase reports the schedule position at the current instant.
func (e *Engine) Phase() PhaseInfo {
	now := e.now().UTC()
	idx, active := e.schedule.PhaseAt(now)
	return PhaseInfo{
		Index:         idx,
		Active:        active,
		Rate:          e.schedule.RateAt(now),
		Start:         e.schedule.Start,
		End:           e.schedule.End(),
		PhaseDuration: e.schedule.PhaseDuration,
		Phases:        e.schedule.Phases(),
		Now:           now,
	}
}

// SupplyStats reports the ledger counters.
func (e *Engine) SupplyStats() supply.Stats { return e.ledger.Stats() }

// StreamTotals aggregates every stream.
func (e *Engine) StreamTotals() []stream.Totals {
	out := make([]stream.Totals, 0, len(e.streamOrder))
	for _, name := range e.streamOrder {
		out = append(out, e.streams[name].Totals())
	}
	return out
}

// StreamLiability reports the per-size-unit liability of every stream.
func (e *Engine) StreamLiability() map[string]*big.Int {
	out := make(map[string]*big.Int, len(e.streams))
	for name, s := range e.streams {
		out[name] = s.Liability()
	}
	return out
}

// StreamSummary returns the principal's view of one stream.
func (e *Engine) StreamSummary(name string, principal common.Address) (stream.Summary, error) {
	s, err := e.stream(name)
	if err != nil {
		return stream.Summary{}, err
	}
	return s.Summary(principal), nil
}

// Pending returns the principal's advisory pending reward on one stream.
func (e *Engine) Pending(name string, principal common.Address) (*big.Int, error) {
	s, err := e.stream(name)
	if err != nil {
		return nil, err
	}
	return s.PendingReward(principal), nil
}

// DistributorSummary returns the principal's distributor account.
func (e *Engine) DistributorSummary(principal common.Address) DistributorView {
	acct, ok := e.distributor.Account(principal)
	return DistributorView{Registered: ok, Account: acct, Pending: e.distributor.PendingReward(principal)}
}

// DistributorStats reports pool and streaming totals.
func (e *Engine) DistributorStats() distributor.Stats { return e.distributor.Stats() }

// OpenPosition records external activity for principal. Caller must be an updater.
func (e *Engine) OpenPosition(caller common.Address, name string, principal common.Address, amount *big.Int, duration time.Duration) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate(moduleStream, caller, access.RoleUpdater); err != nil {
		return 0, err
	}
	s, err := e.stream(name)
	if err != nil {
		return 0, err
	}
	id, err := s.OpenPosition(principal, amount, duration)
	if err != nil {
		return 0, err
	}
	e.logger.Debug("position opened", "stream", name, "principal", principal.Hex(), "positionId", id, "amount", amount.String())
	return id, nil
}

// ClosePosition withdraws a position on behalf of principal. Caller must be an updater.
func (e *Engine) ClosePosition(caller common.Address, name string, principal common.Address, id uint64) (stream.Withdrawal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate(moduleStream, caller, access.RoleUpdater); err != nil {
		return stream.Withdrawal{}, err
	}
	s, err := e.stream(name)
	if err != nil {
		return stream.Withdrawal{}, err
	}
	withdrawal, err := s.ClosePosition(principal, id)
	if err != nil {
		return stream.Withdrawal{}, err
	}
	e.logger.Debug("position closed", "stream", name, "principal", principal.Hex(), "positionId", id,
		"early", withdrawal.Early, "penalty", withdrawal.Penalty.String())
	return withdrawal, nil
}

// ClaimStream mints the principal's pending reward on one stream.
func (e *Engine) ClaimStream(principal common.Address, name string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauser, moduleStream); err != nil {
		return nil, err
	}
	s, err := e.stream(name)
	if err != nil {
		return nil, err
	}
	amount, err := s.Claim(principal)
	if err != nil {
		if errors.Is(err, coreerrors.ErrCapExceeded) {
			e.metrics.ObserveCapRejection(name)
			e.logger.Warn("claim rejected by cap", "stream", name, "principal", principal.Hex(),
				"headroom", e.ledger.RemainingHeadroom().String())
		}
		return nil, err
	}
	e.metrics.ObserveClaim(name, amount)
	e.publish()
	e.logger.Info("stream reward claimed", "stream", name, "principal", principal.Hex(), "amount", amount.String())
	return amount, nil
}

// RegisterPrincipal enrols principal in the distributor. Caller must be an updater.
func (e *Engine) RegisterPrincipal(caller, principal common.Address, score *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate(moduleDistributor, caller, access.RoleUpdater); err != nil {
		return err
	}
	return e.distributor.RegisterPrincipal(principal, score)
}

// UpdateActivity reports a new activity score. Caller must be an updater.
func (e *Engine) UpdateActivity(caller, principal common.Address, score *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate(moduleDistributor, caller, access.RoleUpdater); err != nil {
		return err
	}
	return e.distributor.UpdateActivity(principal, score)
}

// ClaimDistributor pays the principal's distributor reward from the pool.
func (e *Engine) ClaimDistributor(principal common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauser, moduleDistributor); err != nil {
		return nil, err
	}
	amount, err := e.distributor.Claim(principal)
	if err != nil {
		if errors.Is(err, coreerrors.ErrInsufficientPool) {
			e.logger.Warn("distributor pool exhausted", "principal", principal.Hex(), "pool", e.pool.Balance().String())
		}
		return nil, err
	}
	e.metrics.ObserveClaim(moduleDistributor, amount)
	e.publish()
	e.logger.Info("distributor reward claimed", "principal", principal.Hex(), "amount", amount.String())
	return amount, nil
}

// FundPool moves caller funds into the distributor escrow. Admin only.
func (e *Engine) FundPool(caller common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.roles.Require(caller, access.RoleAdmin); err != nil {
		return err
	}
	if err := e.distributor.Fund(caller, amount); err != nil {
		return err
	}
	e.publish()
	return nil
}

// Burn destroys amount from the principal's balance.
func (e *Engine) Burn(principal common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauser, moduleSupply); err != nil {
		return err
	}
	if err := e.ledger.Burn(principal, amount); err != nil {
		return err
	}
	e.publish()
	return nil
}

// BurnForListing burns the fixed listing fee from the caller. Listing role only.
func (e *Engine) BurnForListing(caller common.Address, amount *big.Int, tag string) (supply.ListingReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.gate(moduleSupply, caller, access.RoleListing); err != nil {
		return supply.ListingReceipt{}, err
	}
	receipt, err := e.ledger.BurnForListing(caller, amount, tag)
	if err != nil {
		return supply.ListingReceipt{}, err
	}
	e.metrics.ObserveListingBurn()
	e.publish()
	e.logger.Info("listing fee burned", "principal", caller.Hex(), "amount", amount.String(), "listing", receipt.ListingCount)
	return receipt, nil
}

// SetListingFee updates the listing fee. Admin only.
func (e *Engine) SetListingFee(caller common.Address, fee *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.roles.Require(caller, access.RoleAdmin); err != nil {
		return err
	}
	if err := e.ledger.SetListingFee(fee); err != nil {
		return err
	}
	e.emitter.Emit(events.ListingFeeUpdated{Actor: caller, Fee: new(big.Int).Set(fee)})
	return nil
}

// MintNFT registers a new NFT for owner. Admin only.
func (e *Engine) MintNFT(caller, owner common.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.roles.Require(caller, access.RoleAdmin); err != nil {
		return 0, err
	}
	if e.reserved(owner) {
		return 0, fmt.Errorf("%w: %s cannot hold tokens", coreerrors.ErrTransferRejected, owner.Hex())
	}
	return e.nfts.Mint(owner)
}

// NFTOwner returns the owner of an NFT.
func (e *Engine) NFTOwner(id uint64) (common.Address, bool) { return e.nfts.OwnerOf(id) }

// NFTApproval returns the buyer the owner has approved for a token.
func (e *Engine) NFTApproval(id uint64) (common.Address, bool) { return e.nfts.Approved(id) }

// ApproveNFT lets the caller, as owner, name the one buyer allowed to take the
// token. The zero address withdraws the approval.
func (e *Engine) ApproveNFT(caller common.Address, tokenID uint64, buyer common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauser, moduleNFT); err != nil {
		return err
	}
	if e.reserved(buyer) {
		return fmt.Errorf("%w: %s cannot receive tokens", coreerrors.ErrTransferRejected, buyer.Hex())
	}
	return e.nfts.Approve(caller, tokenID, buyer)
}

// TransferNFT moves an NFT from its owner to the caller, who must hold the
// owner's approval. The transfer guards run first; the caller's payment is
// then settled to the owner on the ledger, and only then does ownership
// change. No balance other than the caller's is ever debited.
func (e *Engine) TransferNFT(caller common.Address, tokenID uint64, payment *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauser, moduleNFT); err != nil {
		return err
	}
	owner, ok := e.nfts.OwnerOf(tokenID)
	if !ok {
		return fmt.Errorf("%w: unknown token %d", coreerrors.ErrTransferRejected, tokenID)
	}
	req := nft.TransferRequest{TokenID: tokenID, From: owner, To: caller, Payment: payment}
	return e.nfts.Transfer(req, func(req nft.TransferRequest) error {
		if req.Payment == nil || req.Payment.Sign() == 0 {
			return nil
		}
		return e.ledger.Transfer(req.To, req.From, req.Payment, fmt.Sprintf("nft:%d", req.TokenID))
	})
}

func (e *Engine) reservedAddresses() []common.Address {
	return []common.Address{supply.DistributorPoolAddress}
}

func (e *Engine) reserved(addr common.Address) bool {
	for _, r := range e.reservedAddresses() {
		if r == addr {
			return true
		}
	}
	return false
}

// Pause closes the pause gate. Admin only; never itself gated.
func (e *Engine) Pause(caller common.Address) error { return e.setPaused(caller, true) }

// Resume opens the pause gate. Admin only.
func (e *Engine) Resume(caller common.Address) error { return e.setPaused(caller, false) }

func (e *Engine) setPaused(caller common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.roles.Require(caller, access.RoleAdmin); err != nil {
		return err
	}
	if e.pauser.Set(caller, paused) {
		e.logger.Info("pause gate changed", "paused", paused, "actor", caller.Hex())
	}
	e.metrics.SetPaused(paused)
	return nil
}

// GrantRole gives role to principal. Admin only.
func (e *Engine) GrantRole(caller, principal common.Address, role access.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roles.Grant(caller, principal, role)
}

// RevokeRole removes role from principal. Admin only.
func (e *Engine) RevokeRole(caller, principal common.Address, role access.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roles.Revoke(caller, principal, role)
}

// Snapshot captures every component under the writer lock.
func (e *Engine) Snapshot() *state.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() *state.Snapshot {
	snap := &state.Snapshot{
		Supply:      e.ledger.Snapshot(),
		Distributor: e.distributor.Snapshot(),
		Roles:       e.roles.Snapshot(),
		Paused:      e.pauser.Paused(),
		NFT:         e.nfts.Snapshot(),
		SavedAt:     uint64(e.now().Unix()),
	}
	for _, name := range e.streamOrder {
		snap.Streams = append(snap.Streams, e.streams[name].Snapshot())
	}
	return snap
}

// Restore replaces every component with a persisted snapshot. Streams present
// in the snapshot but no longer configured are rejected. Restore is all or
// nothing: if any component rejects its part, every component is put back to
// the state it held before the call.
func (e *Engine) Restore(snap *state.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("engine: nil snapshot")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ss := range snap.Streams {
		if _, ok := e.streams[ss.Name]; !ok {
			return fmt.Errorf("%w: persisted stream %q", coreerrors.ErrUnknownStream, ss.Name)
		}
	}
	prev := e.snapshotLocked()
	if err := e.applyLocked(snap); err != nil {
		if rollbackErr := e.applyLocked(prev); rollbackErr != nil {
			return errors.Join(err, fmt.Errorf("engine: rollback failed: %w", rollbackErr))
		}
		return err
	}
	e.publish()
	return nil
}

func (e *Engine) applyLocked(snap *state.Snapshot) error {
	if err := e.ledger.Restore(snap.Supply); err != nil {
		return err
	}
	for _, ss := range snap.Streams {
		if err := e.streams[ss.Name].Restore(ss); err != nil {
			return err
		}
	}
	if err := e.distributor.Restore(snap.Distributor); err != nil {
		return err
	}
	if err := e.roles.Restore(snap.Roles); err != nil {
		return err
	}
	if err := e.nfts.Restore(snap.NFT); err != nil {
		return err
	}
	e.pauser.Set(common.Address{}, snap.Paused)
	e.metrics.SetPaused(snap.Paused)
	return nil
}

// Save persists a consistent snapshot through the state manager.
func (e *Engine) Save(mgr *state.Manager) error {
	e.mu.Lock()
	snap := e.snapshotLocked()
	e.mu.Unlock()
	if err := mgr.Save(snap); err != nil {
		return err
	}
	root, _, err := mgr.Root()
	if err != nil {
		return err
	}
	e.logger.Debug("state saved", "root", root.Hex(), "streams", len(snap.Streams), "balances", len(snap.Supply.Balances))
	return nil
}

// Load restores persisted state. It reports false when nothing was stored.
func (e *Engine) Load(mgr *state.Manager) (bool, error) {
	snap, found, err := mgr.Load()
	if err != nil || !found {
		return false, err
	}
	if err := e.Restore(snap); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) gate(module string, caller common.Address, role access.Role) error {
	if err := nativecommon.Guard(e.pauser, module); err != nil {
		return err
	}
	return e.roles.Require(caller, role)
}

func (e *Engine) stream(name string) (*stream.Engine, error) {
	s, ok := e.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", coreerrors.ErrUnknownStream, name)
	}
	return s, nil
}

func (e *Engine) publish() {
	stats := e.ledger.Stats()
	e.metrics.SetSupply(stats.Issued, stats.Burned, stats.Circulating, stats.Headroom)
	e.metrics.SetPoolBalance(e.pool.Balance())
}
