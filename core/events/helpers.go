package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

func formatAmount(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func formatAddress(addr common.Address) string {
	return addr.Hex()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
