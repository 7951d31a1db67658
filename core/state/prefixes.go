package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

var (
	stateVersionKey = []byte("state/version")
	savedAtKey      = []byte("state/saved-at")
	stateRootKey    = []byte("state/root")

	supplyCountersKey     = []byte("supply/counters")
	supplyBalancePrefix   = []byte("supply/balance/")
	streamPrefix          = []byte("stream/")
	distributorMetaKey    = []byte("distributor/meta")
	distributorAcctPrefix = []byte("distributor/account/")
	accessRolePrefix      = []byte("access/role/")
	accessPausedKey       = []byte("access/paused")
	nftMetaKey            = []byte("nft/meta")
	nftTokenPrefix        = []byte("nft/token/")
)

// ownedPrefixes lists every namespace the manager rewrites on Save.
var ownedPrefixes = [][]byte{
	[]byte("state/"),
	[]byte("supply/"),
	streamPrefix,
	[]byte("distributor/"),
	[]byte("access/"),
	[]byte("nft/"),
}

func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func supplyBalanceKey(addr common.Address) []byte {
	return join(supplyBalancePrefix, addr.Bytes())
}

func streamMetaKey(name string) []byte {
	return join(streamPrefix, []byte(name), []byte("/meta"))
}

// streamPositionKey orders positions by stream, principal, then id.
func streamPositionKey(name string, owner common.Address, id uint64) []byte {
	return join(streamPositionPrefix(name), owner.Bytes(), uint64Bytes(id))
}

func streamPositionPrefix(name string) []byte {
	return join(streamPrefix, []byte(name), []byte("/position/"))
}

func distributorAccountKey(addr common.Address) []byte {
	return join(distributorAcctPrefix, addr.Bytes())
}

func accessRoleKey(addr common.Address) []byte {
	return join(accessRolePrefix, addr.Bytes())
}

func nftTokenKey(id uint64) []byte {
	return join(nftTokenPrefix, uint64Bytes(id))
}
