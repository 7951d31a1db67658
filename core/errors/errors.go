package errors

import (
	stderrors "errors"
	"net/http"
)

var (
	// ErrCapExceeded reports a mint that would push circulating supply past the cap.
	// Recoverable: retry after burns free headroom.
	ErrCapExceeded = stderrors.New("supply: cap exceeded")
	// ErrNothingToClaim is returned by stream claims with zero pending reward.
	ErrNothingToClaim = stderrors.New("stream: nothing to claim")
	// ErrNothingToStream is the distributor counterpart of ErrNothingToClaim.
	ErrNothingToStream = stderrors.New("distributor: nothing to stream")
	// ErrInsufficientPool reports a distributor pool that cannot cover the claim.
	ErrInsufficientPool = stderrors.New("distributor: insufficient pool")
	// ErrInvalidPosition covers unknown ids, foreign owners and inactive positions.
	ErrInvalidPosition = stderrors.New("stream: invalid position")
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = stderrors.New("access: unauthorized")
	// ErrPaused is returned by gated operations while the engine is paused.
	ErrPaused = stderrors.New("access: engine paused")

	ErrInvalidAmount       = stderrors.New("engine: amount must be positive")
	ErrInvalidDuration     = stderrors.New("stream: duration must be positive")
	ErrInsufficientBalance = stderrors.New("supply: insufficient balance")
	ErrListingFeeMismatch  = stderrors.New("supply: listing fee mismatch")
	ErrAlreadyRegistered   = stderrors.New("distributor: principal already registered")
	ErrNotRegistered       = stderrors.New("distributor: principal not registered")
	ErrUnknownStream       = stderrors.New("engine: unknown stream")
	ErrTransferRejected    = stderrors.New("nft: transfer rejected")
)

// Classification is the stable external rendering of an engine error.
type Classification struct {
	Reason string
	Status int
}

var classifications = []struct {
	err error
	Classification
}{
	{ErrCapExceeded, Classification{"cap_exceeded", http.StatusConflict}},
	{ErrNothingToClaim, Classification{"nothing_to_claim", http.StatusOK}},
	{ErrNothingToStream, Classification{"nothing_to_stream", http.StatusOK}},
	{ErrInsufficientPool, Classification{"insufficient_pool", http.StatusServiceUnavailable}},
	{ErrInvalidPosition, Classification{"invalid_position", http.StatusBadRequest}},
	{ErrUnauthorized, Classification{"unauthorized", http.StatusForbidden}},
	{ErrPaused, Classification{"paused", http.StatusServiceUnavailable}},
	{ErrInvalidAmount, Classification{"invalid_amount", http.StatusBadRequest}},
	{ErrInvalidDuration, Classification{"invalid_duration", http.StatusBadRequest}},
	{ErrInsufficientBalance, Classification{"insufficient_balance", http.StatusConflict}},
	{ErrListingFeeMismatch, Classification{"listing_fee_mismatch", http.StatusBadRequest}},
	{ErrAlreadyRegistered, Classification{"already_registered", http.StatusConflict}},
	{ErrNotRegistered, Classification{"not_registered", http.StatusNotFound}},
	{ErrUnknownStream, Classification{"unknown_stream", http.StatusNotFound}},
	{ErrTransferRejected, Classification{"transfer_rejected", http.StatusBadRequest}},
}

// Classify maps err onto a reason string and HTTP status. Unknown errors are
// reported as internal failures.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Reason: "ok", Status: http.StatusOK}
	}
	for _, entry := range classifications {
		if stderrors.Is(err, entry.err) {
			return entry.Classification
		}
	}
	return Classification{Reason: "internal", Status: http.StatusInternalServerError}
}

// IsNoop reports whether err only signals that there was nothing to pay out.
func IsNoop(err error) bool {
	return stderrors.Is(err, ErrNothingToClaim) || stderrors.Is(err, ErrNothingToStream)
}
