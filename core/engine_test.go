package core

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"capsupply/config"
	coreerrors "capsupply/core/errors"
	"capsupply/core/events"
	"capsupply/core/rewards"
	"capsupply/core/state"
	"capsupply/native/access"
	"capsupply/native/nft"
	"capsupply/native/stream"
	"capsupply/native/supply"
	"capsupply/storage"
)

var (
	genesis  = time.Unix(1_700_000_000, 0).UTC()
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	updater  = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	lister   = common.HexToAddress("0x000000000000000000000000000000000000011d")
	treasury = common.HexToAddress("0x0000000000000000000000000000000000007ea5")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type testEngine struct {
	*Engine
	now      time.Time
	recorder *events.Recorder
}

func (te *testEngine) advance(d time.Duration) { te.now = te.now.Add(d) }

func testParams(t *testing.T, capAmount int64) *config.Params {
	t.Helper()
	schedule, err := rewards.NewSchedule(genesis, 30*24*time.Hour, []*big.Int{big.NewInt(10), big.NewInt(5)})
	require.NoError(t, err)
	yield := stream.YieldParams()
	yield.SizeUnit = big.NewInt(1)
	return &config.Params{
		Cap:              big.NewInt(capAmount),
		ListingFee:       big.NewInt(50),
		NFTTransferPrice: big.NewInt(100),
		Schedule:         schedule,
		Streams:          []stream.Params{yield, stream.NFTParams()},
		ScoreUnit:        big.NewInt(1),
		Roles: map[access.Role][]common.Address{
			access.RoleAdmin:   {admin},
			access.RoleUpdater: {updater},
			access.RoleListing: {lister},
		},
		Allocations: []supply.Balance{
			{Principal: supply.DistributorPoolAddress, Amount: big.NewInt(10_000)},
			{Principal: treasury, Amount: big.NewInt(5_000)},
			{Principal: lister, Amount: big.NewInt(500)},
			{Principal: bob, Amount: big.NewInt(1_000)},
			{Principal: admin, Amount: big.NewInt(100)},
		},
	}
}

func newTestEngine(t *testing.T, params *config.Params) *testEngine {
	t.Helper()
	te := &testEngine{now: genesis, recorder: &events.Recorder{}}
	engine, err := NewEngine(params,
		WithClock(func() time.Time { return te.now }),
		WithEmitter(te.recorder))
	require.NoError(t, err)
	te.Engine = engine
	return te
}

func requireBalancesMatchCirculating(t *testing.T, e *Engine) {
	t.Helper()
	snap := e.Ledger().Snapshot()
	sum := big.NewInt(0)
	for _, bal := range snap.Balances {
		sum.Add(sum, bal.Amount)
	}
	stats := e.SupplyStats()
	require.Equal(t, stats.Circulating.String(), sum.String())
	require.LessOrEqual(t, stats.Circulating.Cmp(stats.Cap), 0)
}

func TestGenesisAllocations(t *testing.T) {
	te := newTestEngine(t, testParams(t, 1_000_000_000))
	stats := te.SupplyStats()
	require.Equal(t, "16600", stats.Circulating.String())
	require.Equal(t, "10000", te.DistributorStats().PoolBalance.String())
	require.Equal(t, []string{stream.StreamYield, stream.StreamNFT}, te.Streams())
	require.Len(t, te.recorder.OfType(events.TypeSupplyMinted), 5)
	requireBalancesMatchCirculating(t, te.Engine)

	_, err := NewEngine(testParams(t, 16_000))
	require.ErrorIs(t, err, coreerrors.ErrCapExceeded)
}

func TestStreamLifecycle(t *testing.T) {
	te := newTestEngine(t, testParams(t, 1_000_000_000))

	_, err := te.OpenPosition(alice, stream.StreamYield, alice, big.NewInt(1_000), 45*24*time.Hour)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	_, err = te.OpenPosition(updater, "bogus", alice, big.NewInt(1_000), time.Hour)
	require.ErrorIs(t, err, coreerrors.ErrUnknownStream)

	id, err := te.OpenPosition(updater, stream.StreamYield, alice, big.NewInt(1_000), 45*24*time.Hour)
	require.NoError(t, err)

	te.advance(100 * time.Second)
	pending, err := te.Pending(stream.StreamYield, alice)
	require.NoError(t, err)
	require.Equal(t, "1500000", pending.String())

	claimed, err := te.ClaimStream(alice, stream.StreamYield)
	require.NoError(t, err)
	require.Equal(t, pending, claimed)
	require.Equal(t, "1500000", te.Ledger().BalanceOf(alice).String())

	te.advance(10 * time.Second)
	withdrawal, err := te.ClosePosition(updater, stream.StreamYield, alice, id)
	require.NoError(t, err)
	require.True(t, withdrawal.Early)
	require.Equal(t, "500", withdrawal.Returned.String())
	require.Equal(t, "150000", withdrawal.Accrued.String())

	summary, err := te.StreamSummary(stream.StreamYield, alice)
	require.NoError(t, err)
	require.Equal(t, "150000", summary.Pending.String())
	require.Equal(t, "1500000", summary.Claimed.String())
	require.Zero(t, summary.ActiveAmount.Sign())
	requireBalancesMatchCirculating(t, te.Engine)
}

func TestCapRejectionAndRecovery(t *testing.T) {
	// 16_600 allocated leaves 1_000 headroom.
	te := newTestEngine(t, testParams(t, 17_600))
	_, err := te.OpenPosition(updater, stream.StreamYield, alice, big.NewInt(1), 24*time.Hour)
	require.NoError(t, err)
	te.advance(100*time.Second + time.Second)

	pending, _ := te.Pending(stream.StreamYield, alice)
	require.Equal(t, "1010", pending.String())
	_, err = te.ClaimStream(alice, stream.StreamYield)
	require.ErrorIs(t, err, coreerrors.ErrCapExceeded)
	require.Len(t, te.recorder.OfType(events.TypeStreamCapHit), 1)

	require.NoError(t, te.Burn(bob, big.NewInt(10)))
	claimed, err := te.ClaimStream(alice, stream.StreamYield)
	require.NoError(t, err)
	require.Equal(t, "1010", claimed.String())
	require.Zero(t, te.SupplyStats().Headroom.Sign())
	requireBalancesMatchCirculating(t, te.Engine)
}

func TestPauseGatesOperations(t *testing.T) {
	te := newTestEngine(t, testParams(t, 1_000_000_000))
	id, err := te.OpenPosition(updater, stream.StreamYield, alice, big.NewInt(10), 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, te.RegisterPrincipal(updater, alice, big.NewInt(1)))
	tokenID, err := te.MintNFT(admin, alice)
	require.NoError(t, err)

	require.ErrorIs(t, te.Pause(updater), coreerrors.ErrUnauthorized)
	require.NoError(t, te.Pause(admin))
	require.True(t, te.Paused())
	te.advance(time.Minute)

	_, err = te.OpenPosition(updater, stream.StreamYield, alice, big.NewInt(10), time.Hour)
	require.ErrorIs(t, err, coreerrors.ErrPaused)
	_, err = te.ClosePosition(updater, stream.StreamYield, alice, id)
	require.ErrorIs(t, err, coreerrors.ErrPaused)
	_, err = te.ClaimStream(alice, stream.StreamYield)
	require.ErrorIs(t, err, coreerrors.ErrPaused)
	require.ErrorIs(t, te.RegisterPrincipal(updater, bob, big.NewInt(1)), coreerrors.ErrPaused)
	require.ErrorIs(t, te.UpdateActivity(updater, alice, big.NewInt(2)), coreerrors.ErrPaused)
	_, err = te.ClaimDistributor(alice)
	require.ErrorIs(t, err, coreerrors.ErrPaused)
	require.ErrorIs(t, te.Burn(bob, big.NewInt(1)), coreerrors.ErrPaused)
	_, err = te.BurnForListing(lister, big.NewInt(50), "pair")
	require.ErrorIs(t, err, coreerrors.ErrPaused)
	require.ErrorIs(t, te.ApproveNFT(alice, tokenID, bob), coreerrors.ErrPaused)
	require.ErrorIs(t, te.TransferNFT(bob, tokenID, big.NewInt(100)), coreerrors.ErrPaused)

	// Governance stays available while paused.
	require.NoError(t, te.FundPool(admin, big.NewInt(1)))
	require.NoError(t, te.SetListingFee(admin, big.NewInt(60)))
	require.NoError(t, te.GrantRole(admin, bob, access.RoleUpdater))
	require.NoError(t, te.RevokeRole(admin, bob, access.RoleUpdater))

	// Accrual continues while paused.
	pending, _ := te.Pending(stream.StreamYield, alice)
	require.Equal(t, "6000", pending.String())

	require.NoError(t, te.Resume(admin))
	claimed, err := te.ClaimStream(alice, stream.StreamYield)
	require.NoError(t, err)
	require.Equal(t, "6000", claimed.String())
}

func TestDistributorThroughEngine(t *testing.T) {
	te := newTestEngine(t, testParams(t, 1_000_000_000))
	require.ErrorIs(t, te.RegisterPrincipal(alice, alice, big.NewInt(3)), coreerrors.ErrUnauthorized)
	require.NoError(t, te.RegisterPrincipal(updater, alice, big.NewInt(3)))

	te.advance(100 * time.Second)
	view := te.DistributorSummary(alice)
	require.True(t, view.Registered)
	require.Equal(t, "3000", view.Pending.String())

	before := te.SupplyStats().Circulating
	paid, err := te.ClaimDistributor(alice)
	require.NoError(t, err)
	require.Equal(t, "3000", paid.String())
	require.Equal(t, before, te.SupplyStats().Circulating, "distributor payouts never mint")
	require.Equal(t, "7000", te.DistributorStats().PoolBalance.String())

	require.ErrorIs(t, te.FundPool(treasury, big.NewInt(1)), coreerrors.ErrUnauthorized)
	require.NoError(t, te.FundPool(admin, big.NewInt(100)))
	require.Equal(t, "7100", te.DistributorStats().PoolBalance.String())
	require.Equal(t, "100", te.DistributorStats().Funded.String())
}

func TestListingBurnThroughEngine(t *testing.T) {
	te := newTestEngine(t, testParams(t, 1_000_000_000))
	_, err := te.BurnForListing(bob, big.NewInt(50), "pair")
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	_, err = te.BurnForListing(lister, big.NewInt(49), "pair")
	require.ErrorIs(t, err, coreerrors.ErrListingFeeMismatch)

	headroom := te.SupplyStats().Headroom
	receipt, err := te.BurnForListing(lister, big.NewInt(50), "pair")
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.ListingCount)
	require.Equal(t, new(big.Int).Add(headroom, big.NewInt(50)).String(), te.SupplyStats().Headroom.String())
	require.Len(t, te.recorder.OfType(events.TypeSupplyListingBurn), 1)
	requireBalancesMatchCirculating(t, te.Engine)
}

func TestNFTTransferRequiresFixedPrice(t *testing.T) {
	te := newTestEngine(t, testParams(t, 1_000_000_000))
	tokenID, err := te.MintNFT(admin, alice)
	require.NoError(t, err)
	_, err = te.MintNFT(alice, alice)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)

	require.NoError(t, te.ApproveNFT(alice, tokenID, bob))
	require.ErrorIs(t, te.TransferNFT(bob, tokenID, big.NewInt(99)), coreerrors.ErrTransferRejected)
	owner, _ := te.NFTOwner(tokenID)
	require.Equal(t, alice, owner)
	require.Equal(t, "1000", te.Ledger().BalanceOf(bob).String())

	require.NoError(t, te.TransferNFT(bob, tokenID, big.NewInt(100)))
	owner, _ = te.NFTOwner(tokenID)
	require.Equal(t, bob, owner)
	require.Equal(t, "900", te.Ledger().BalanceOf(bob).String())
	require.Equal(t, "100", te.Ledger().BalanceOf(alice).String())
	requireBalancesMatchCirculating(t, te.Engine)
}

func TestNFTTransferNeverDebitsAnotherParty(t *testing.T) {
	for _, price := range []int64{100, 0} {
		params := testParams(t, 1_000_000_000)
		params.NFTTransferPrice = big.NewInt(price)
		te := newTestEngine(t, params)
		tokenID, err := te.MintNFT(admin, alice)
		require.NoError(t, err)

		// The owner cannot sell to a party that has not acted, whatever the payment.
		for _, victim := range []common.Address{bob, supply.DistributorPoolAddress} {
			require.ErrorIs(t, te.TransferNFT(victim, tokenID, big.NewInt(100)), coreerrors.ErrTransferRejected)
			require.ErrorIs(t, te.TransferNFT(alice, tokenID, big.NewInt(100)), coreerrors.ErrTransferRejected)
		}
		require.ErrorIs(t, te.ApproveNFT(alice, tokenID, supply.DistributorPoolAddress), coreerrors.ErrTransferRejected)
		_, err = te.MintNFT(admin, supply.DistributorPoolAddress)
		require.ErrorIs(t, err, coreerrors.ErrTransferRejected)

		// An approval names one buyer; nobody else can use it.
		require.NoError(t, te.ApproveNFT(alice, tokenID, bob))
		require.ErrorIs(t, te.TransferNFT(treasury, tokenID, big.NewInt(price)), coreerrors.ErrTransferRejected)
		require.ErrorIs(t, te.ApproveNFT(bob, tokenID, treasury), coreerrors.ErrTransferRejected)

		require.Equal(t, "10000", te.DistributorStats().PoolBalance.String())
		require.Zero(t, te.DistributorStats().TotalStreamed.Sign())
		require.Equal(t, "1000", te.Ledger().BalanceOf(bob).String())
		require.Equal(t, "5000", te.Ledger().BalanceOf(treasury).String())
		require.Zero(t, te.Ledger().BalanceOf(alice).Sign())

		require.NoError(t, te.TransferNFT(bob, tokenID, big.NewInt(price)))
		require.Equal(t, big.NewInt(1000-price).String(), te.Ledger().BalanceOf(bob).String())
		require.Equal(t, big.NewInt(price).String(), te.Ledger().BalanceOf(alice).String())
		_, approved := te.NFTApproval(tokenID)
		require.False(t, approved)
		requireBalancesMatchCirculating(t, te.Engine)
	}
}

func TestSaveAndLoad(t *testing.T) {
	params := testParams(t, 1_000_000_000)
	te := newTestEngine(t, params)
	_, err := te.OpenPosition(updater, stream.StreamYield, alice, big.NewInt(1_000), 45*24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, te.RegisterPrincipal(updater, bob, big.NewInt(2)))
	_, err = te.MintNFT(admin, alice)
	require.NoError(t, err)
	te.advance(time.Hour)
	_, err = te.ClaimStream(alice, stream.StreamYield)
	require.NoError(t, err)
	require.NoError(t, te.GrantRole(admin, bob, access.RoleListing))
	require.NoError(t, te.Pause(admin))

	mgr := state.NewManager(storage.NewMemDB())
	require.NoError(t, te.Save(mgr))

	restored := newTestEngine(t, testParams(t, 1_000_000_000))
	restored.now = te.now.Add(time.Minute)
	te.advance(time.Minute)
	found, err := restored.Load(mgr)
	require.NoError(t, err)
	require.True(t, found)

	require.Equal(t, te.SupplyStats().Circulating.String(), restored.SupplyStats().Circulating.String())
	want, _ := te.Pending(stream.StreamYield, alice)
	got, _ := restored.Pending(stream.StreamYield, alice)
	require.Equal(t, want.String(), got.String())
	require.Equal(t, te.DistributorSummary(bob).Pending.String(), restored.DistributorSummary(bob).Pending.String())
	require.True(t, restored.Paused())
	require.True(t, restored.Roles().HasRole(bob, access.RoleListing))
	owner, ok := restored.NFTOwner(1)
	require.True(t, ok)
	require.Equal(t, alice, owner)

	empty := newTestEngine(t, params)
	found, err = empty.Load(state.NewManager(storage.NewMemDB()))
	require.NoError(t, err)
	require.False(t, found)
}

func TestRestoreIsAllOrNothing(t *testing.T) {
	source := newTestEngine(t, testParams(t, 1_000_000_000))
	require.NoError(t, source.Burn(bob, big.NewInt(400)))
	require.NoError(t, source.GrantRole(admin, bob, access.RoleListing))
	snap := source.Snapshot()
	// The NFT part is corrupt; every earlier part is valid.
	snap.NFT.Tokens = append(snap.NFT.Tokens, nft.Token{ID: 7, Owner: alice})

	target := newTestEngine(t, testParams(t, 1_000_000_000))
	id, err := target.OpenPosition(updater, stream.StreamYield, alice, big.NewInt(5), time.Hour)
	require.NoError(t, err)
	tokenID, err := target.MintNFT(admin, alice)
	require.NoError(t, err)

	require.Error(t, target.Restore(snap))

	stats := target.SupplyStats()
	require.Equal(t, "16600", stats.Circulating.String())
	require.Zero(t, stats.Burned.Sign())
	require.Equal(t, "1000", target.Ledger().BalanceOf(bob).String())
	require.False(t, target.Roles().HasRole(bob, access.RoleListing))
	summary, err := target.StreamSummary(stream.StreamYield, alice)
	require.NoError(t, err)
	require.Len(t, summary.Positions, 1)
	require.Equal(t, id, summary.Positions[0].ID)
	owner, ok := target.NFTOwner(tokenID)
	require.True(t, ok)
	require.Equal(t, alice, owner)
	requireBalancesMatchCirculating(t, target.Engine)
}

func TestPhaseInfo(t *testing.T) {
	te := newTestEngine(t, testParams(t, 1_000_000_000))
	info := te.Phase()
	require.True(t, info.Active)
	require.Equal(t, 0, info.Index)
	require.Equal(t, "10", info.Rate.String())

	te.advance(31 * 24 * time.Hour)
	info = te.Phase()
	require.Equal(t, 1, info.Index)
	require.Equal(t, "5", info.Rate.String())

	te.advance(60 * 24 * time.Hour)
	info = te.Phase()
	require.False(t, info.Active)
	require.Zero(t, info.Rate.Sign())
}
