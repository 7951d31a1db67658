package trie

import (
	"testing"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, pairs ...string) *Commitment {
	t.Helper()
	c, err := NewCommitment()
	require.NoError(t, err)
	for i := 0; i < len(pairs); i += 2 {
		require.NoError(t, c.Add([]byte(pairs[i]), []byte(pairs[i+1])))
	}
	return c
}

func TestEmptyCommitment(t *testing.T) {
	c := build(t)
	require.Equal(t, gethtypes.EmptyRootHash, c.Root())
	require.Zero(t, c.Len())
}

func TestRootIgnoresInsertionOrder(t *testing.T) {
	a := build(t, "supply/counters", "x", "supply/balance/a", "1", "stream/yield/meta", "m")
	b := build(t, "stream/yield/meta", "m", "supply/counters", "x", "supply/balance/a", "1")
	require.Equal(t, a.Root(), b.Root())
	require.Equal(t, 3, a.Len())
}

func TestRootTracksValues(t *testing.T) {
	a := build(t, "supply/balance/a", "1")
	b := build(t, "supply/balance/a", "2")
	require.NotEqual(t, a.Root(), b.Root())

	// Keys that prefix each other are fine once hashed.
	c := build(t, "nft/", "1", "nft/token/1", "2")
	require.NotEqual(t, gethtypes.EmptyRootHash, c.Root())
}

func TestRejectsEmptyValue(t *testing.T) {
	c, err := NewCommitment()
	require.NoError(t, err)
	require.Error(t, c.Add([]byte("k"), nil))
}
