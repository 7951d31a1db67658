package audit

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"capsupply/core/events"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	store, err := New(db, nil)
	require.NoError(t, err)
	return store
}

func TestEmitPersistsEvents(t *testing.T) {
	store := newTestStore(t)
	clock := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	alice := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	store.Emit(events.SupplyMinted{Principal: alice, Amount: big.NewInt(10)})
	store.Emit(events.SupplyBurned{Principal: alice, Amount: big.NewInt(4)})
	store.Emit(events.SupplyMinted{Principal: alice, Amount: big.NewInt(7)})

	ctx := context.Background()
	total, err := store.Count(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 3, total)

	minted, err := store.Recent(ctx, events.TypeSupplyMinted, 10)
	require.NoError(t, err)
	require.Len(t, minted, 2)
	ev, err := minted[0].Event()
	require.NoError(t, err)
	require.Equal(t, events.TypeSupplyMinted, ev.Type)
	require.Equal(t, "7", ev.Attributes["amount"])
}

func TestStoreSitsInEmitterChain(t *testing.T) {
	store := newTestStore(t)
	recorder := &events.Recorder{}
	chain := events.MultiEmitter{recorder, store}
	chain.Emit(events.PauseToggled{Paused: true})

	require.Len(t, recorder.Events(), 1)
	count, err := store.Count(context.Background(), events.TypeAccessPause)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
