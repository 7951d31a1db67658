package nft

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "capsupply/core/errors"
	"capsupply/core/events"
)

// Token is an owned NFT. Approved is the one recipient the owner has agreed
// to sell to; the zero address means none.
type Token struct {
	ID       uint64
	Owner    common.Address
	Approved common.Address
}

// TransferRequest describes a proposed ownership change and the payment the
// recipient offers for it. The recipient is the paying party and must hold
// the owner's approval.
type TransferRequest struct {
	TokenID uint64
	From    common.Address
	To      common.Address
	Payment *big.Int
}

// TransferGuard is a predicate evaluated before any ownership change.
type TransferGuard interface {
	Check(req TransferRequest, token Token) error
}

// GuardFunc adapts a function to TransferGuard.
type GuardFunc func(req TransferRequest, token Token) error

// Check implements TransferGuard.
func (f GuardFunc) Check(req TransferRequest, token Token) error { return f(req, token) }

// FixedPrice requires the payment to equal price exactly.
func FixedPrice(price *big.Int) TransferGuard {
	fixed := new(big.Int).Set(price)
	return GuardFunc(func(req TransferRequest, _ Token) error {
		if req.Payment == nil || req.Payment.Cmp(fixed) != 0 {
			return fmt.Errorf("%w: payment %s, fixed price %s", coreerrors.ErrTransferRejected, amountString(req.Payment), fixed)
		}
		return nil
	})
}

// ExcludeParties rejects transfers where either side is one of addrs. Escrow
// and module accounts have no signer and must never hold or buy tokens.
func ExcludeParties(addrs ...common.Address) TransferGuard {
	excluded := make(map[common.Address]struct{}, len(addrs))
	for _, addr := range addrs {
		excluded[addr] = struct{}{}
	}
	return GuardFunc(func(req TransferRequest, _ Token) error {
		if _, ok := excluded[req.From]; ok {
			return fmt.Errorf("%w: %s cannot transfer tokens", coreerrors.ErrTransferRejected, req.From.Hex())
		}
		if _, ok := excluded[req.To]; ok {
			return fmt.Errorf("%w: %s cannot receive tokens", coreerrors.ErrTransferRejected, req.To.Hex())
		}
		return nil
	})
}

// Settler moves the payment once every guard has passed. Ownership only
// changes when it returns nil.
type Settler func(req TransferRequest) error

// Registry tracks NFT ownership and enforces transfer guards.
type Registry struct {
	mu      sync.RWMutex
	nextID  uint64
	tokens  map[uint64]*Token
	guards  []TransferGuard
	emitter events.Emitter
}

// NewRegistry constructs a registry enforcing guards on every transfer.
func NewRegistry(guards ...TransferGuard) *Registry {
	return &Registry{
		nextID:  1,
		tokens:  make(map[uint64]*Token),
		guards:  append([]TransferGuard(nil), guards...),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter overrides the event emitter.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Mint assigns a fresh token id to owner.
func (r *Registry) Mint(owner common.Address) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, fmt.Errorf("nft: owner required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.tokens[id] = &Token{ID: id, Owner: owner}
	return id, nil
}

// OwnerOf returns the current owner of id.
func (r *Registry) OwnerOf(id uint64) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[id]
	if !ok {
		return common.Address{}, false
	}
	return token.Owner, true
}

// TokensOf lists the ids held by owner in ascending order.
func (r *Registry) TokensOf(owner common.Address) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uint64
	for id, token := range r.tokens {
		if token.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Approve records buyer as the only recipient allowed to take id from owner.
// The zero address clears a previous approval.
func (r *Registry) Approve(owner common.Address, id uint64, buyer common.Address) error {
	if buyer == owner {
		return fmt.Errorf("%w: owner cannot approve itself", coreerrors.ErrTransferRejected)
	}
	r.mu.Lock()
	token, ok := r.tokens[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: unknown token %d", coreerrors.ErrTransferRejected, id)
	}
	if token.Owner != owner {
		r.mu.Unlock()
		return fmt.Errorf("%w: token %d not owned by sender", coreerrors.ErrTransferRejected, id)
	}
	token.Approved = buyer
	emitter := r.emitter
	r.mu.Unlock()

	emitter.Emit(events.NFTApproved{TokenID: id, Owner: owner, Buyer: buyer})
	return nil
}

// Approved returns the recipient currently approved for id.
func (r *Registry) Approved(id uint64) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[id]
	if !ok || token.Approved == (common.Address{}) {
		return common.Address{}, false
	}
	return token.Approved, true
}

// Transfer evaluates every guard, settles the payment and only then moves
// ownership. The recipient must be the approved buyer; the approval is spent
// by the transfer. A guard or settlement failure leaves the token where it was.
func (r *Registry) Transfer(req TransferRequest, settle Settler) error {
	if req.To == (common.Address{}) || req.To == req.From {
		return fmt.Errorf("%w: invalid recipient", coreerrors.ErrTransferRejected)
	}
	r.mu.Lock()
	token, ok := r.tokens[req.TokenID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: unknown token %d", coreerrors.ErrTransferRejected, req.TokenID)
	}
	if token.Owner != req.From {
		r.mu.Unlock()
		return fmt.Errorf("%w: token %d not owned by sender", coreerrors.ErrTransferRejected, req.TokenID)
	}
	if token.Approved == (common.Address{}) || token.Approved != req.To {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s not approved for token %d", coreerrors.ErrTransferRejected, req.To.Hex(), req.TokenID)
	}
	for _, guard := range r.guards {
		if err := guard.Check(req, *token); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	if settle != nil {
		if err := settle(req); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("nft settle: %w", err)
		}
	}
	token.Owner = req.To
	token.Approved = common.Address{}
	emitter := r.emitter
	r.mu.Unlock()

	emitter.Emit(events.NFTTransferred{TokenID: req.TokenID, From: req.From, To: req.To, Payment: copyAmount(req.Payment)})
	return nil
}

// Snapshot is the persisted form of the registry.
type Snapshot struct {
	NextID uint64
	Tokens []Token
}

// Snapshot captures every token sorted by id.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{NextID: r.nextID, Tokens: make([]Token, 0, len(r.tokens))}
	for _, token := range r.tokens {
		snap.Tokens = append(snap.Tokens, *token)
	}
	sort.Slice(snap.Tokens, func(i, j int) bool { return snap.Tokens[i].ID < snap.Tokens[j].ID })
	return snap
}

// Restore replaces the registry contents.
func (r *Registry) Restore(snap Snapshot) error {
	tokens := make(map[uint64]*Token, len(snap.Tokens))
	for i := range snap.Tokens {
		token := snap.Tokens[i]
		if token.ID == 0 || token.ID >= snap.NextID {
			return fmt.Errorf("nft: token id %d outside allocated range", token.ID)
		}
		if token.Owner == (common.Address{}) {
			return fmt.Errorf("nft: token %d has no owner", token.ID)
		}
		if token.Approved == token.Owner {
			return fmt.Errorf("nft: token %d approved to its owner", token.ID)
		}
		tokens[token.ID] = &token
	}
	nextID := snap.NextID
	if nextID == 0 {
		nextID = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID = nextID
	r.tokens = tokens
	return nil
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
