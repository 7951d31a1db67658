package trie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

// Commitment builds a Merkle Patricia root over a set of persisted records.
// Keys are keccak256-hashed before insertion so arbitrary record keys, including
// ones that prefix each other, can share the trie.
//
// Commitment is not safe for concurrent use.
type Commitment struct {
	trie  *gethtrie.Trie
	count int
}

// NewCommitment returns an empty commitment backed by a throwaway in-memory
// trie database.
func NewCommitment() (*Commitment, error) {
	db := rawdb.NewDatabase(memorydb.New())
	trieDB := triedb.NewDatabase(db, triedb.HashDefaults)
	underlying, err := gethtrie.New(gethtrie.TrieID(gethtypes.EmptyRootHash), trieDB)
	if err != nil {
		return nil, err
	}
	return &Commitment{trie: underlying}, nil
}

// Add includes one record. Empty values are rejected because the trie treats
// them as deletions.
func (c *Commitment) Add(key, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("trie: empty value for key %x", key)
	}
	if err := c.trie.Update(crypto.Keccak256(key), value); err != nil {
		return err
	}
	c.count++
	return nil
}

// Len reports how many records were added.
func (c *Commitment) Len() int { return c.count }

// Root returns the root hash over every record added so far.
func (c *Commitment) Root() common.Hash {
	return c.trie.Hash()
}
