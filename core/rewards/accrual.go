package rewards

import "math/big"

const (
	// BasisPointsDenom is the denominator for multipliers and retention ratios.
	BasisPointsDenom = 10_000
	// MultiplierOne is a 1.0x duration multiplier expressed in basis points.
	MultiplierOne uint32 = BasisPointsDenom
)

var basisPointsDenomBig = big.NewInt(BasisPointsDenom)

// PositionReward converts rate-seconds into reward units for one position:
//
//	amount * rateSeconds * multiplierBps / (10_000 * sizeUnit)
//
// The division happens once at the end so rounding dust never exceeds one unit
// per position and always favours the cap.
func PositionReward(amount, rateSeconds *big.Int, multiplierBps uint32, sizeUnit *big.Int) *big.Int {
	if amount == nil || rateSeconds == nil || amount.Sign() <= 0 || rateSeconds.Sign() <= 0 || multiplierBps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, rateSeconds)
	out.Mul(out, new(big.Int).SetUint64(uint64(multiplierBps)))
	denom := new(big.Int).Set(basisPointsDenomBig)
	if sizeUnit != nil && sizeUnit.Sign() > 0 {
		denom.Mul(denom, sizeUnit)
	}
	return out.Quo(out, denom)
}

// ScoreReward converts rate-seconds into reward units for an activity score:
// score * rateSeconds / scoreUnit.
func ScoreReward(score, rateSeconds, scoreUnit *big.Int) *big.Int {
	if score == nil || rateSeconds == nil || score.Sign() <= 0 || rateSeconds.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(score, rateSeconds)
	if scoreUnit != nil && scoreUnit.Sign() > 0 {
		out.Quo(out, scoreUnit)
	}
	return out
}

// ApplyBps returns value * bps / 10_000, rounded down.
func ApplyBps(value *big.Int, bps uint32) *big.Int {
	if value == nil || value.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(value, new(big.Int).SetUint64(uint64(bps)))
	return out.Quo(out, basisPointsDenomBig)
}
