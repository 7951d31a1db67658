package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"capsupply/core/types"
)

const (
	TypeAccessRole       = "access.role"
	TypeAccessPause      = "access.pause"
	TypeListingFeeUpdate = "access.listing_fee"
	TypeNFTTransfer      = "nft.transfer"
	TypeNFTApproval      = "nft.approval"
)

// RoleChanged captures a grant or revoke.
type RoleChanged struct {
	Actor     common.Address
	Principal common.Address
	Role      string
	Granted   bool
}

func (RoleChanged) EventType() string { return TypeAccessRole }

func (e RoleChanged) Event() *types.Event {
	return &types.Event{Type: TypeAccessRole, Attributes: map[string]string{
		"actor":     formatAddress(e.Actor),
		"principal": formatAddress(e.Principal),
		"role":      e.Role,
		"granted":   strconv.FormatBool(e.Granted),
	}}
}

// PauseToggled captures the system-wide pause gate changing state.
type PauseToggled struct {
	Actor  common.Address
	Paused bool
}

func (PauseToggled) EventType() string { return TypeAccessPause }

func (e PauseToggled) Event() *types.Event {
	return &types.Event{Type: TypeAccessPause, Attributes: map[string]string{
		"actor":  formatAddress(e.Actor),
		"paused": strconv.FormatBool(e.Paused),
	}}
}

// ListingFeeUpdated captures governance changing the fixed listing fee.
type ListingFeeUpdated struct {
	Actor common.Address
	Fee   *big.Int
}

func (ListingFeeUpdated) EventType() string { return TypeListingFeeUpdate }

func (e ListingFeeUpdated) Event() *types.Event {
	return &types.Event{Type: TypeListingFeeUpdate, Attributes: map[string]string{
		"actor": formatAddress(e.Actor),
		"fee":   formatAmount(e.Fee),
	}}
}

// NFTTransferred captures an ownership change that passed the transfer guards.
type NFTTransferred struct {
	TokenID uint64
	From    common.Address
	To      common.Address
	Payment *big.Int
}

func (NFTTransferred) EventType() string { return TypeNFTTransfer }

func (e NFTTransferred) Event() *types.Event {
	return &types.Event{Type: TypeNFTTransfer, Attributes: map[string]string{
		"tokenId": formatUint(e.TokenID),
		"from":    formatAddress(e.From),
		"to":      formatAddress(e.To),
		"payment": formatAmount(e.Payment),
	}}
}

// NFTApproved captures an owner naming the recipient allowed to take a token.
type NFTApproved struct {
	TokenID uint64
	Owner   common.Address
	Buyer   common.Address
}

func (NFTApproved) EventType() string { return TypeNFTApproval }

func (e NFTApproved) Event() *types.Event {
	return &types.Event{Type: TypeNFTApproval, Attributes: map[string]string{
		"tokenId": formatUint(e.TokenID),
		"owner":   formatAddress(e.Owner),
		"buyer":   formatAddress(e.Buyer),
	}}
}
