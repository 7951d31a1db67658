package supply

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "capsupply/core/errors"
)

// DistributorPoolAddress is the escrow account holding pre-funded distributor
// rewards. No key controls it; only EscrowPool moves funds out.
var DistributorPoolAddress = common.HexToAddress("0x00000000000000000000000000000000000d157b")

const (
	memoPoolFund   = "distributor.fund"
	memoPoolPayout = "distributor.payout"
)

// EscrowPool exposes a fixed ledger account as the distributor's funding pool.
// Payouts are transfers of tokens already in circulation, never mints.
type EscrowPool struct {
	ledger  *Ledger
	address common.Address
}

// NewEscrowPool binds the pool to the ledger account at address.
func NewEscrowPool(ledger *Ledger, address common.Address) *EscrowPool {
	return &EscrowPool{ledger: ledger, address: address}
}

// Address returns the escrow account.
func (p *EscrowPool) Address() common.Address { return p.address }

// Balance returns the escrow balance.
func (p *EscrowPool) Balance() *big.Int { return p.ledger.BalanceOf(p.address) }

// Deposit moves amount from the funder into escrow.
func (p *EscrowPool) Deposit(from common.Address, amount *big.Int) error {
	return p.ledger.Transfer(from, p.address, amount, memoPoolFund)
}

// Pay moves amount from escrow to the recipient.
func (p *EscrowPool) Pay(to common.Address, amount *big.Int) error {
	if err := p.ledger.Transfer(p.address, to, amount, memoPoolPayout); err != nil {
		if errors.Is(err, coreerrors.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", coreerrors.ErrInsufficientPool, err)
		}
		return err
	}
	return nil
}
