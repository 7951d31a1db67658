package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"capsupply/core/types"
)

const (
	TypeDistributorRegistered = "distributor.registered"
	TypeDistributorActivity   = "distributor.activity"
	TypeDistributorClaimed    = "distributor.claimed"
	TypeDistributorFunded     = "distributor.funded"
)

// DistributorRegistered marks a principal joining the continuous distributor.
type DistributorRegistered struct {
	Principal common.Address
	Score     *big.Int
}

func (DistributorRegistered) EventType() string { return TypeDistributorRegistered }

func (e DistributorRegistered) Event() *types.Event {
	return &types.Event{Type: TypeDistributorRegistered, Attributes: map[string]string{
		"principal": formatAddress(e.Principal),
		"score":     formatAmount(e.Score),
	}}
}

// DistributorActivity captures a score change and the reward credited under the
// previous score.
type DistributorActivity struct {
	Principal common.Address
	OldScore  *big.Int
	NewScore  *big.Int
	Credited  *big.Int
}

func (DistributorActivity) EventType() string { return TypeDistributorActivity }

func (e DistributorActivity) Event() *types.Event {
	return &types.Event{Type: TypeDistributorActivity, Attributes: map[string]string{
		"principal": formatAddress(e.Principal),
		"oldScore":  formatAmount(e.OldScore),
		"newScore":  formatAmount(e.NewScore),
		"credited":  formatAmount(e.Credited),
	}}
}

// DistributorClaimed captures a pool payout.
type DistributorClaimed struct {
	Principal     common.Address
	Amount        *big.Int
	PoolRemaining *big.Int
}

func (DistributorClaimed) EventType() string { return TypeDistributorClaimed }

func (e DistributorClaimed) Event() *types.Event {
	return &types.Event{Type: TypeDistributorClaimed, Attributes: map[string]string{
		"principal":     formatAddress(e.Principal),
		"amount":        formatAmount(e.Amount),
		"poolRemaining": formatAmount(e.PoolRemaining),
	}}
}

// DistributorFunded captures a pool top-up.
type DistributorFunded struct {
	Amount  *big.Int
	Balance *big.Int
}

func (DistributorFunded) EventType() string { return TypeDistributorFunded }

func (e DistributorFunded) Event() *types.Event {
	return &types.Event{Type: TypeDistributorFunded, Attributes: map[string]string{
		"amount":  formatAmount(e.Amount),
		"balance": formatAmount(e.Balance),
	}}
}
