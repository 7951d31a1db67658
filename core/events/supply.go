package events

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"capsupply/core/types"
)

const (
	// TypeSupplyMinted is emitted whenever the ledger mints against headroom.
	TypeSupplyMinted = "supply.minted"
	// TypeSupplyBurned is emitted for general burns.
	TypeSupplyBurned = "supply.burned"
	// TypeSupplyListingBurn is emitted for fixed-fee listing burns only.
	TypeSupplyListingBurn = "supply.listing_burn"
	// TypeSupplyTransfer records balance moves between principals.
	TypeSupplyTransfer = "supply.transfer"

	// SupplyReasonMint identifies mint driven supply increases.
	SupplyReasonMint = "mint"
	// SupplyReasonBurn identifies burn driven supply decreases.
	SupplyReasonBurn = "burn"
	// SupplyReasonListing identifies listing-fee burns.
	SupplyReasonListing = "listing"
)

// SupplyMinted captures a successful mint and the resulting supply figures.
type SupplyMinted struct {
	Principal   common.Address
	Amount      *big.Int
	Circulating *big.Int
	Headroom    *big.Int
}

func (SupplyMinted) EventType() string { return TypeSupplyMinted }

func (e SupplyMinted) Event() *types.Event {
	return &types.Event{Type: TypeSupplyMinted, Attributes: map[string]string{
		"principal":   formatAddress(e.Principal),
		"amount":      formatAmount(e.Amount),
		"circulating": formatAmount(e.Circulating),
		"headroom":    formatAmount(e.Headroom),
		"reason":      SupplyReasonMint,
	}}
}

// SupplyBurned captures a general burn.
type SupplyBurned struct {
	Principal   common.Address
	Amount      *big.Int
	TotalBurned *big.Int
	Headroom    *big.Int
}

func (SupplyBurned) EventType() string { return TypeSupplyBurned }

func (e SupplyBurned) Event() *types.Event {
	return &types.Event{Type: TypeSupplyBurned, Attributes: map[string]string{
		"principal":   formatAddress(e.Principal),
		"amount":      formatAmount(e.Amount),
		"totalBurned": formatAmount(e.TotalBurned),
		"headroom":    formatAmount(e.Headroom),
		"reason":      SupplyReasonBurn,
	}}
}

// ListingBurned is the auditable record of a fixed-fee listing burn.
type ListingBurned struct {
	Principal    common.Address
	Amount       *big.Int
	Tag          string
	TagDigest    [32]byte
	ListingCount uint64
}

func (ListingBurned) EventType() string { return TypeSupplyListingBurn }

func (e ListingBurned) Event() *types.Event {
	return &types.Event{Type: TypeSupplyListingBurn, Attributes: map[string]string{
		"principal":    formatAddress(e.Principal),
		"amount":       formatAmount(e.Amount),
		"tag":          strings.TrimSpace(e.Tag),
		"tagDigest":    "0x" + hex.EncodeToString(e.TagDigest[:]),
		"listingCount": formatUint(e.ListingCount),
		"reason":       SupplyReasonListing,
	}}
}

// SupplyTransfer records a ledger balance transfer.
type SupplyTransfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
	Memo   string
}

func (SupplyTransfer) EventType() string { return TypeSupplyTransfer }

func (e SupplyTransfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}
	if memo := strings.TrimSpace(e.Memo); memo != "" {
		attrs["memo"] = memo
	}
	return &types.Event{Type: TypeSupplyTransfer, Attributes: attrs}
}
