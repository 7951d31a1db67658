package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"capsupply/core/types"
)

const (
	// TypePositionOpened is emitted when the activity reporter records a deposit or stake.
	TypePositionOpened = "stream.position_opened"
	// TypePositionClosed is emitted when a position is withdrawn.
	TypePositionClosed = "stream.position_closed"
	// TypeStreamClaimed is emitted when pending stream rewards are minted.
	TypeStreamClaimed = "stream.claimed"
	// TypeStreamCapHit signals that the cap rejected a claim.
	TypeStreamCapHit = "stream.cap_hit"
)

// PositionOpened captures a newly recorded position.
type PositionOpened struct {
	Stream        string
	Principal     common.Address
	PositionID    uint64
	Amount        *big.Int
	DurationSecs  uint64
	MultiplierBps uint32
}

func (PositionOpened) EventType() string { return TypePositionOpened }

func (e PositionOpened) Event() *types.Event {
	return &types.Event{Type: TypePositionOpened, Attributes: map[string]string{
		"stream":        e.Stream,
		"principal":     formatAddress(e.Principal),
		"positionId":    formatUint(e.PositionID),
		"amount":        formatAmount(e.Amount),
		"duration":      formatUint(e.DurationSecs),
		"multiplierBps": strconv.FormatUint(uint64(e.MultiplierBps), 10),
	}}
}

// PositionClosed captures a withdrawal and any early-exit penalty applied to the stake.
type PositionClosed struct {
	Stream     string
	Principal  common.Address
	PositionID uint64
	Returned   *big.Int
	Penalty    *big.Int
	Early      bool
	Accrued    *big.Int
}

func (PositionClosed) EventType() string { return TypePositionClosed }

func (e PositionClosed) Event() *types.Event {
	return &types.Event{Type: TypePositionClosed, Attributes: map[string]string{
		"stream":     e.Stream,
		"principal":  formatAddress(e.Principal),
		"positionId": formatUint(e.PositionID),
		"returned":   formatAmount(e.Returned),
		"penalty":    formatAmount(e.Penalty),
		"early":      strconv.FormatBool(e.Early),
		"accrued":    formatAmount(e.Accrued),
	}}
}

// StreamClaimed captures a minted stream reward.
type StreamClaimed struct {
	Stream    string
	Principal common.Address
	Amount    *big.Int
	Positions int
}

func (StreamClaimed) EventType() string { return TypeStreamClaimed }

func (e StreamClaimed) Event() *types.Event {
	return &types.Event{Type: TypeStreamClaimed, Attributes: map[string]string{
		"stream":    e.Stream,
		"principal": formatAddress(e.Principal),
		"amount":    formatAmount(e.Amount),
		"positions": strconv.Itoa(e.Positions),
	}}
}

// StreamCapHit records a claim rejected by the ledger cap.
type StreamCapHit struct {
	Stream    string
	Principal common.Address
	Requested *big.Int
	Headroom  *big.Int
}

func (StreamCapHit) EventType() string { return TypeStreamCapHit }

func (e StreamCapHit) Event() *types.Event {
	return &types.Event{Type: TypeStreamCapHit, Attributes: map[string]string{
		"stream":    e.Stream,
		"principal": formatAddress(e.Principal),
		"requested": formatAmount(e.Requested),
		"headroom":  formatAmount(e.Headroom),
	}}
}
