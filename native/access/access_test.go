package access

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	coreerrors "capsupply/core/errors"
	"capsupply/core/events"
	nativecommon "capsupply/native/common"
)

var (
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	updater = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	mallory = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

func TestRegistryRequiresAdmin(t *testing.T) {
	_, err := NewRegistry(map[Role][]common.Address{RoleUpdater: {updater}})
	require.Error(t, err)
}

func TestGrantRevoke(t *testing.T) {
	reg, err := NewRegistry(map[Role][]common.Address{RoleAdmin: {admin}})
	require.NoError(t, err)
	rec := &events.Recorder{}
	reg.SetEmitter(rec)

	require.ErrorIs(t, reg.Require(updater, RoleUpdater), coreerrors.ErrUnauthorized)
	require.ErrorIs(t, reg.Grant(mallory, mallory, RoleAdmin), coreerrors.ErrUnauthorized)

	require.NoError(t, reg.Grant(admin, updater, RoleUpdater))
	require.NoError(t, reg.Require(updater, RoleUpdater))
	require.ErrorIs(t, reg.Require(updater, RoleListing), coreerrors.ErrUnauthorized)
	require.Equal(t, []common.Address{updater}, reg.Members(RoleUpdater))

	require.NoError(t, reg.Revoke(admin, updater, RoleUpdater))
	require.False(t, reg.HasRole(updater, RoleUpdater))
	require.Len(t, rec.OfType(events.TypeAccessRole), 2)
}

func TestLastAdminIsProtected(t *testing.T) {
	reg, err := NewRegistry(map[Role][]common.Address{RoleAdmin: {admin}})
	require.NoError(t, err)
	require.Error(t, reg.Revoke(admin, admin, RoleAdmin))

	require.NoError(t, reg.Grant(admin, updater, RoleAdmin))
	require.NoError(t, reg.Revoke(updater, admin, RoleAdmin))
	require.Error(t, reg.Revoke(updater, updater, RoleAdmin))
	require.Equal(t, []common.Address{updater}, reg.Members(RoleAdmin))
}

func TestRegistrySnapshotRestore(t *testing.T) {
	reg, err := NewRegistry(map[Role][]common.Address{RoleAdmin: {admin}, RoleUpdater: {admin, updater}})
	require.NoError(t, err)
	snap := reg.Snapshot()
	require.Len(t, snap, 2)

	other, err := NewRegistry(map[Role][]common.Address{RoleAdmin: {mallory}})
	require.NoError(t, err)
	require.NoError(t, other.Restore(snap))
	require.True(t, other.HasRole(admin, RoleAdmin|RoleUpdater))
	require.False(t, other.HasRole(mallory, RoleAdmin))
	require.Error(t, other.Restore([]Assignment{{Principal: updater, Roles: uint8(RoleUpdater)}}))
}

func TestParseRole(t *testing.T) {
	for _, role := range AllRoles() {
		parsed, err := ParseRole(" " + role.String())
		require.NoError(t, err)
		require.Equal(t, role, parsed)
	}
	_, err := ParseRole("root")
	require.Error(t, err)
}

func TestPauserGuard(t *testing.T) {
	p := NewPauser()
	rec := &events.Recorder{}
	p.SetEmitter(rec)
	require.NoError(t, nativecommon.Guard(p, "stream"))

	require.True(t, p.Set(admin, true))
	require.False(t, p.Set(admin, true))
	require.ErrorIs(t, nativecommon.Guard(p, "stream"), coreerrors.ErrPaused)
	require.ErrorIs(t, nativecommon.Guard(p, "nft"), coreerrors.ErrPaused)

	require.True(t, p.Set(admin, false))
	require.NoError(t, nativecommon.Guard(p, "stream"))
	require.Len(t, rec.OfType(events.TypeAccessPause), 2)
}
