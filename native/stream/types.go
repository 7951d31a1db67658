package stream

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a single deposit or stake. The multiplier is frozen at open time
// and never recalculated.
type Position struct {
	ID            uint64
	Owner         common.Address
	Amount        *big.Int
	OpenedAt      uint64
	DurationSecs  uint64
	MultiplierBps uint32
	// Claimed is the cumulative reward minted against this position.
	Claimed *big.Int
	// Accrued holds reward settled at close time that has not been claimed yet.
	Accrued *big.Int
	// Checkpoint is the last instant reward was settled up to.
	Checkpoint uint64
	Active     bool
	ClosedAt   uint64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() Position {
	clone := *p
	clone.Amount = copyBigInt(p.Amount)
	clone.Claimed = copyBigInt(p.Claimed)
	clone.Accrued = copyBigInt(p.Accrued)
	return clone
}

// Duration returns the declared commitment length.
func (p *Position) Duration() time.Duration {
	return time.Duration(p.DurationSecs) * time.Second
}

// Withdrawal is what ClosePosition hands back to the activity reporter. The
// penalty only ever reduces the returned stake; rewards are unaffected.
type Withdrawal struct {
	PositionID uint64
	Returned   *big.Int
	Penalty    *big.Int
	Early      bool
	// Accrued is the reward settled into the position at close, still claimable.
	Accrued *big.Int
}

// Summary aggregates a principal's view of the stream.
type Summary struct {
	Stream       string
	Principal    common.Address
	ActiveAmount *big.Int
	Pending      *big.Int
	Claimed      *big.Int
	Positions    []Position
}

// Totals aggregates the whole stream.
type Totals struct {
	Stream          string
	ActiveAmount    *big.Int
	Claimed         *big.Int
	Positions       int
	ActivePositions int
	Principals      int
}

// Snapshot is the persisted form of a stream.
type Snapshot struct {
	Name         string
	NextID       uint64
	TotalClaimed *big.Int
	Positions    []Position
}

func copyBigInt(value *big.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(value)
}
