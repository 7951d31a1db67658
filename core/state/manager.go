package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"capsupply/native/access"
	"capsupply/native/distributor"
	"capsupply/native/nft"
	"capsupply/native/stream"
	"capsupply/native/supply"
	"capsupply/storage"
	"capsupply/storage/trie"
)

// StateVersion identifies the on-disk layout. Bump it on breaking changes.
const StateVersion uint32 = 2

var (
	// ErrStateVersionMismatch indicates the stored layout does not match this binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
	// ErrStateCorrupted indicates the stored records no longer hash to the saved root.
	ErrStateCorrupted = errors.New("state: root mismatch")

	streamListKey = []byte("state/streams")
)

// Snapshot is the full engine state persisted in one batch.
type Snapshot struct {
	Supply      supply.Snapshot
	Streams     []stream.Snapshot
	Distributor distributor.Snapshot
	Roles       []access.Assignment
	Paused      bool
	NFT         nft.Snapshot
	SavedAt     uint64
}

type supplyCounters struct {
	Cap          *big.Int
	Issued       *big.Int
	Burned       *big.Int
	ListingFee   *big.Int
	ListingCount uint64
}

type streamMeta struct {
	NextID       uint64
	TotalClaimed *big.Int
}

type distributorMeta struct {
	TotalStreamed *big.Int
	Funded        *big.Int
}

type nftMeta struct {
	NextID uint64
}

// Manager reads and writes engine snapshots through a storage.Database.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager over db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Save replaces every persisted record with snap. Stale keys are deleted in the
// same batch so the write is all-or-nothing.
func (m *Manager) Save(snap *Snapshot) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	if snap == nil {
		return fmt.Errorf("state: nil snapshot")
	}
	batch := storage.NewBatch()
	for _, prefix := range ownedPrefixes {
		if err := m.db.Iterate(prefix, func(key, _ []byte) error {
			batch.Delete(key)
			return nil
		}); err != nil {
			return fmt.Errorf("state: scan %s: %w", prefix, err)
		}
	}

	commitment, err := trie.NewCommitment()
	if err != nil {
		return err
	}
	put := func(key []byte, value interface{}) error {
		encoded, err := rlp.EncodeToBytes(value)
		if err != nil {
			return fmt.Errorf("state: encode %s: %w", key, err)
		}
		batch.Put(key, encoded)
		return commitment.Add(key, encoded)
	}

	if err := put(stateVersionKey, uint64(StateVersion)); err != nil {
		return err
	}
	if err := put(savedAtKey, snap.SavedAt); err != nil {
		return err
	}

	if err := put(supplyCountersKey, supplyCounters{
		Cap:          nonNil(snap.Supply.Cap),
		Issued:       nonNil(snap.Supply.Issued),
		Burned:       nonNil(snap.Supply.Burned),
		ListingFee:   nonNil(snap.Supply.ListingFee),
		ListingCount: snap.Supply.ListingCount,
	}); err != nil {
		return err
	}
	for _, bal := range snap.Supply.Balances {
		if err := put(supplyBalanceKey(bal.Principal), nonNil(bal.Amount)); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(snap.Streams))
	for _, s := range snap.Streams {
		names = append(names, s.Name)
		if err := put(streamMetaKey(s.Name), streamMeta{NextID: s.NextID, TotalClaimed: nonNil(s.TotalClaimed)}); err != nil {
			return err
		}
		for _, pos := range s.Positions {
			if err := put(streamPositionKey(s.Name, pos.Owner, pos.ID), pos); err != nil {
				return err
			}
		}
	}
	if err := put(streamListKey, names); err != nil {
		return err
	}

	if err := put(distributorMetaKey, distributorMeta{
		TotalStreamed: nonNil(snap.Distributor.TotalStreamed),
		Funded:        nonNil(snap.Distributor.Funded),
	}); err != nil {
		return err
	}
	for _, acct := range snap.Distributor.Accounts {
		if err := put(distributorAccountKey(acct.Principal), acct); err != nil {
			return err
		}
	}

	for _, assignment := range snap.Roles {
		if err := put(accessRoleKey(assignment.Principal), assignment.Roles); err != nil {
			return err
		}
	}
	if err := put(accessPausedKey, snap.Paused); err != nil {
		return err
	}

	if err := put(nftMetaKey, nftMeta{NextID: snap.NFT.NextID}); err != nil {
		return err
	}
	for _, token := range snap.NFT.Tokens {
		if err := put(nftTokenKey(token.ID), token); err != nil {
			return err
		}
	}

	batch.Put(stateRootKey, commitment.Root().Bytes())

	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: write batch: %w", err)
	}
	return nil
}

// Root returns the state root written by the last Save.
func (m *Manager) Root() (common.Hash, bool, error) {
	raw, err := m.db.Get(stateRootKey)
	if errors.Is(err, storage.ErrNotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("state: read root: %w", err)
	}
	return common.BytesToHash(raw), true, nil
}

// verifyRoot recomputes the root over every persisted record and compares it
// with the stored one.
func (m *Manager) verifyRoot() error {
	stored, ok, err := m.Root()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no root stored", ErrStateCorrupted)
	}
	commitment, err := trie.NewCommitment()
	if err != nil {
		return err
	}
	for _, prefix := range ownedPrefixes {
		if err := m.db.Iterate(prefix, func(key, value []byte) error {
			if bytes.Equal(key, stateRootKey) {
				return nil
			}
			return commitment.Add(key, value)
		}); err != nil {
			return fmt.Errorf("state: scan %s: %w", prefix, err)
		}
	}
	if computed := commitment.Root(); computed != stored {
		return fmt.Errorf("%w: stored %s, computed %s", ErrStateCorrupted, stored.Hex(), computed.Hex())
	}
	return nil
}

// Load reads the persisted snapshot. found is false when nothing has been saved.
func (m *Manager) Load() (snap *Snapshot, found bool, err error) {
	if m == nil || m.db == nil {
		return nil, false, fmt.Errorf("state: manager unavailable")
	}
	var version uint64
	ok, err := m.get(stateVersionKey, &version)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if version != uint64(StateVersion) {
		return nil, false, fmt.Errorf("%w: stored %d, supported %d", ErrStateVersionMismatch, version, StateVersion)
	}
	if err := m.verifyRoot(); err != nil {
		return nil, false, err
	}

	out := &Snapshot{}
	if _, err := m.get(savedAtKey, &out.SavedAt); err != nil {
		return nil, false, err
	}

	var counters supplyCounters
	if _, err := m.get(supplyCountersKey, &counters); err != nil {
		return nil, false, err
	}
	out.Supply = supply.Snapshot{
		Cap:          counters.Cap,
		Issued:       counters.Issued,
		Burned:       counters.Burned,
		ListingFee:   counters.ListingFee,
		ListingCount: counters.ListingCount,
	}
	if err := m.db.Iterate(supplyBalancePrefix, func(key, value []byte) error {
		amount := new(big.Int)
		if err := rlp.DecodeBytes(value, amount); err != nil {
			return fmt.Errorf("state: decode balance: %w", err)
		}
		out.Supply.Balances = append(out.Supply.Balances, supply.Balance{
			Principal: common.BytesToAddress(key[len(supplyBalancePrefix):]),
			Amount:    amount,
		})
		return nil
	}); err != nil {
		return nil, false, err
	}

	var names []string
	if _, err := m.get(streamListKey, &names); err != nil {
		return nil, false, err
	}
	for _, name := range names {
		var meta streamMeta
		if _, err := m.get(streamMetaKey(name), &meta); err != nil {
			return nil, false, err
		}
		s := stream.Snapshot{Name: name, NextID: meta.NextID, TotalClaimed: meta.TotalClaimed}
		if err := m.db.Iterate(streamPositionPrefix(name), func(_, value []byte) error {
			var pos stream.Position
			if err := rlp.DecodeBytes(value, &pos); err != nil {
				return fmt.Errorf("state: decode %s position: %w", name, err)
			}
			s.Positions = append(s.Positions, pos)
			return nil
		}); err != nil {
			return nil, false, err
		}
		out.Streams = append(out.Streams, s)
	}

	var dmeta distributorMeta
	if _, err := m.get(distributorMetaKey, &dmeta); err != nil {
		return nil, false, err
	}
	out.Distributor = distributor.Snapshot{TotalStreamed: dmeta.TotalStreamed, Funded: dmeta.Funded}
	if err := m.db.Iterate(distributorAcctPrefix, func(_, value []byte) error {
		var acct distributor.Account
		if err := rlp.DecodeBytes(value, &acct); err != nil {
			return fmt.Errorf("state: decode distributor account: %w", err)
		}
		out.Distributor.Accounts = append(out.Distributor.Accounts, acct)
		return nil
	}); err != nil {
		return nil, false, err
	}

	if err := m.db.Iterate(accessRolePrefix, func(key, value []byte) error {
		var roles uint8
		if err := rlp.DecodeBytes(value, &roles); err != nil {
			return fmt.Errorf("state: decode role: %w", err)
		}
		out.Roles = append(out.Roles, access.Assignment{
			Principal: common.BytesToAddress(key[len(accessRolePrefix):]),
			Roles:     roles,
		})
		return nil
	}); err != nil {
		return nil, false, err
	}
	if _, err := m.get(accessPausedKey, &out.Paused); err != nil {
		return nil, false, err
	}

	var nmeta nftMeta
	if _, err := m.get(nftMetaKey, &nmeta); err != nil {
		return nil, false, err
	}
	out.NFT.NextID = nmeta.NextID
	if err := m.db.Iterate(nftTokenPrefix, func(_, value []byte) error {
		var token nft.Token
		if err := rlp.DecodeBytes(value, &token); err != nil {
			return fmt.Errorf("state: decode nft token: %w", err)
		}
		out.NFT.Tokens = append(out.NFT.Tokens, token)
		return nil
	}); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: read %s: %w", key, err)
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
