package stream

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	coreerrors "capsupply/core/errors"
	"capsupply/core/events"
	"capsupply/core/rewards"
	"capsupply/native/supply"
)

var (
	genesis = time.Unix(1_700_000_000, 0).UTC()
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fixture struct {
	now      time.Time
	ledger   *supply.Ledger
	engine   *Engine
	recorder *events.Recorder
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T, capAmount int64, params Params, rates ...int64) *fixture {
	t.Helper()
	table := make([]*big.Int, len(rates))
	for i, r := range rates {
		table[i] = big.NewInt(r)
	}
	schedule, err := rewards.NewSchedule(genesis, 365*day, table)
	require.NoError(t, err)
	ledger, err := supply.NewLedger(big.NewInt(capAmount))
	require.NoError(t, err)

	f := &fixture{now: genesis, ledger: ledger, recorder: &events.Recorder{}}
	engine, err := NewEngine(params, schedule, ledger,
		WithClock(func() time.Time { return f.now }),
		WithEmitter(f.recorder))
	require.NoError(t, err)
	f.engine = engine
	return f
}

func unitParams() Params {
	p := YieldParams()
	p.SizeUnit = big.NewInt(1)
	return p
}

func TestPendingRewardMediumTier(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, unitParams(), 2)

	id, err := f.engine.OpenPosition(alice, big.NewInt(1_000), 45*day)
	require.NoError(t, err)
	pos, ok := f.engine.Position(id)
	require.True(t, ok)
	require.Equal(t, uint32(15_000), pos.MultiplierBps)

	require.Zero(t, f.engine.PendingReward(alice).Sign(), "nothing accrues at the opening instant")

	f.advance(time.Hour)
	// 1000 * R(2) * T(3600) * 1.5
	require.Equal(t, big.NewInt(10_800_000), f.engine.PendingReward(alice))
	require.Equal(t, f.engine.PendingReward(alice), f.engine.PendingReward(alice), "reads must not mutate state")
}

func TestClaimForfeitsRoundingRemainder(t *testing.T) {
	params := unitParams()
	params.SizeUnit = big.NewInt(4)
	stepwise := newFixture(t, 1_000_000, params, 1)
	single := newFixture(t, 1_000_000, params, 1)
	for _, f := range []*fixture{stepwise, single} {
		_, err := f.engine.OpenPosition(alice, big.NewInt(1), day)
		require.NoError(t, err)
	}

	// 6 rate-seconds over a size unit of 4 pays 1 and drops the remaining 2/4.
	for i := 0; i < 2; i++ {
		stepwise.advance(6 * time.Second)
		claimed, err := stepwise.engine.Claim(alice)
		require.NoError(t, err)
		require.Equal(t, "1", claimed.String())
	}

	single.advance(12 * time.Second)
	claimed, err := single.engine.Claim(alice)
	require.NoError(t, err)
	require.Equal(t, "3", claimed.String())
	require.Equal(t, "2", stepwise.ledger.TotalIssued().String())
}

func TestClaimRejectedByCapLeavesCheckpoints(t *testing.T) {
	params := unitParams()
	f := newFixture(t, 5_000, params, 1)

	id, err := f.engine.OpenPosition(alice, big.NewInt(10), day)
	require.NoError(t, err)
	f.advance(100 * time.Second)
	require.Equal(t, big.NewInt(1_000), f.engine.PendingReward(alice))

	// Leave exactly one unit too little headroom.
	require.NoError(t, f.ledger.Mint(bob, big.NewInt(4_001)))
	require.Equal(t, big.NewInt(999), f.ledger.RemainingHeadroom())

	before, _ := f.engine.Position(id)
	_, err = f.engine.Claim(alice)
	require.ErrorIs(t, err, coreerrors.ErrCapExceeded)

	after, _ := f.engine.Position(id)
	require.Equal(t, before.Checkpoint, after.Checkpoint)
	require.Zero(t, after.Claimed.Sign())
	require.Equal(t, big.NewInt(1_000), f.engine.PendingReward(alice))
	require.Len(t, f.recorder.OfType(events.TypeStreamCapHit), 1)
	require.Equal(t, big.NewInt(4_001), f.ledger.CirculatingSupply())

	require.NoError(t, f.ledger.Burn(bob, big.NewInt(1)))
	claimed, err := f.engine.Claim(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000), claimed)
	require.Equal(t, big.NewInt(1_000), f.ledger.BalanceOf(alice))
	require.Zero(t, f.ledger.RemainingHeadroom().Sign())

	after, _ = f.engine.Position(id)
	require.Equal(t, uint64(genesis.Unix())+100, after.Checkpoint)
	require.Zero(t, f.engine.PendingReward(alice).Sign())
}

func TestEarlyExitPenalisesStakeOnly(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, unitParams(), 1)

	id, err := f.engine.OpenPosition(alice, big.NewInt(1_000), 45*day)
	require.NoError(t, err)
	f.advance(10 * day)

	expected := big.NewInt(1_000 * 864_000 * 3 / 2)
	require.Equal(t, expected, f.engine.PendingReward(alice))

	withdrawal, err := f.engine.ClosePosition(alice, id)
	require.NoError(t, err)
	require.True(t, withdrawal.Early)
	require.Equal(t, big.NewInt(500), withdrawal.Returned)
	require.Equal(t, big.NewInt(500), withdrawal.Penalty)
	require.Equal(t, expected, withdrawal.Accrued)

	// Closed positions stop accruing but keep what they settled.
	f.advance(5 * day)
	require.Equal(t, expected, f.engine.PendingReward(alice))

	claimed, err := f.engine.Claim(alice)
	require.NoError(t, err)
	require.Equal(t, expected, claimed)

	_, err = f.engine.Claim(alice)
	require.ErrorIs(t, err, coreerrors.ErrNothingToClaim)
}

func TestClosePositionAfterDurationReturnsFullStake(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, unitParams(), 1)
	id, err := f.engine.OpenPosition(alice, big.NewInt(1_000), 30*day)
	require.NoError(t, err)
	f.advance(30 * day)

	withdrawal, err := f.engine.ClosePosition(alice, id)
	require.NoError(t, err)
	require.False(t, withdrawal.Early)
	require.Equal(t, big.NewInt(1_000), withdrawal.Returned)
	require.Zero(t, withdrawal.Penalty.Sign())
}

func TestClosePositionRejectsInvalid(t *testing.T) {
	f := newFixture(t, 1_000_000, unitParams(), 1)
	id, err := f.engine.OpenPosition(alice, big.NewInt(10), day)
	require.NoError(t, err)

	_, err = f.engine.ClosePosition(bob, id)
	require.ErrorIs(t, err, coreerrors.ErrInvalidPosition)
	_, err = f.engine.ClosePosition(alice, id+1)
	require.ErrorIs(t, err, coreerrors.ErrInvalidPosition)

	_, err = f.engine.ClosePosition(alice, id)
	require.NoError(t, err)
	_, err = f.engine.ClosePosition(alice, id)
	require.ErrorIs(t, err, coreerrors.ErrInvalidPosition)
}

func TestOpenPositionValidation(t *testing.T) {
	f := newFixture(t, 1_000_000, unitParams(), 1)
	_, err := f.engine.OpenPosition(alice, big.NewInt(0), day)
	require.ErrorIs(t, err, coreerrors.ErrInvalidAmount)
	_, err = f.engine.OpenPosition(alice, big.NewInt(5), 0)
	require.ErrorIs(t, err, coreerrors.ErrInvalidDuration)
}

func TestClaimNothingPending(t *testing.T) {
	f := newFixture(t, 1_000_000, unitParams(), 1)
	_, err := f.engine.Claim(alice)
	require.ErrorIs(t, err, coreerrors.ErrNothingToClaim)

	_, err = f.engine.OpenPosition(alice, big.NewInt(5), day)
	require.NoError(t, err)
	_, err = f.engine.Claim(alice)
	require.ErrorIs(t, err, coreerrors.ErrNothingToClaim)
	require.Zero(t, f.ledger.TotalIssued().Sign())
}

func TestAccrualStopsAfterSchedule(t *testing.T) {
	f := newFixture(t, 1_000_000_000_000, unitParams(), 3, 1)
	_, err := f.engine.OpenPosition(alice, big.NewInt(1), day)
	require.NoError(t, err)

	f.advance(2 * 365 * day)
	atEnd := f.engine.PendingReward(alice)
	require.Equal(t, big.NewInt(4*365*86_400), atEnd)

	f.advance(100 * day)
	require.Equal(t, atEnd, f.engine.PendingReward(alice))
	require.Equal(t, atEnd, f.engine.Liability())
}

func TestMultiplierTiers(t *testing.T) {
	p := YieldParams()
	require.NoError(t, p.Validate())
	cases := []struct {
		duration time.Duration
		want     uint32
	}{
		{time.Second, 10_000},
		{29 * day, 10_000},
		{30 * day, 15_000},
		{89 * day, 15_000},
		{90 * day, 20_000},
		{180 * day, 30_000},
		{720 * day, 30_000},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, p.MultiplierFor(tc.duration), tc.duration.String())
	}

	bad := YieldParams()
	bad.Tiers = []Tier{{MinDuration: day, MultiplierBps: 10_000}}
	require.Error(t, bad.Validate())
	bad = YieldParams()
	bad.EarlyExitRetentionBps = 10_001
	require.Error(t, bad.Validate())
}

func TestNFTStreamDoesNotPenalise(t *testing.T) {
	f := newFixture(t, 1_000_000_000, NFTParams(), 1)
	id, err := f.engine.OpenPosition(alice, big.NewInt(3), 90*day)
	require.NoError(t, err)
	f.advance(day)

	withdrawal, err := f.engine.ClosePosition(alice, id)
	require.NoError(t, err)
	require.True(t, withdrawal.Early)
	require.Equal(t, big.NewInt(3), withdrawal.Returned)
	require.Equal(t, big.NewInt(3*86_400*2), withdrawal.Accrued)
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t, 1_000_000_000, unitParams(), 1)
	_, err := f.engine.OpenPosition(alice, big.NewInt(10), day)
	require.NoError(t, err)
	id, err := f.engine.OpenPosition(bob, big.NewInt(20), 40*day)
	require.NoError(t, err)
	f.advance(time.Hour)
	_, err = f.engine.Claim(alice)
	require.NoError(t, err)
	_, err = f.engine.ClosePosition(bob, id)
	require.NoError(t, err)

	snap := f.engine.Snapshot()
	g := newFixture(t, 1_000_000_000, unitParams(), 1)
	g.now = f.now
	require.NoError(t, g.engine.Restore(snap))
	require.Equal(t, f.engine.Totals(), g.engine.Totals())
	require.Equal(t, f.engine.PendingReward(bob), g.engine.PendingReward(bob))
	require.Equal(t, f.engine.Positions(alice), g.engine.Positions(alice))

	next, err := g.engine.OpenPosition(alice, big.NewInt(1), day)
	require.NoError(t, err)
	require.Equal(t, snap.NextID, next)

	snap.Name = StreamLiquidity
	require.Error(t, g.engine.Restore(snap))
}
