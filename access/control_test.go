package access

import (
	"context"
	"testing"

	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/defistate/defistate-oracle-go/state/statetest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	superAdmin = common.HexToAddress("0x5a")
	admin      = common.HexToAddress("0xad")
	stranger   = common.HexToAddress("0xbe")
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("RejectsZeroSuperAdmin", func(t *testing.T) {
		db, _ := statetest.New(t)
		_, err := New(ctx, db, common.Address{}, nil)
		assert.ErrorIs(t, err, engine.ErrInvalidInput)
	})

	t.Run("RejectsZeroInitialAdmin", func(t *testing.T) {
		db, _ := statetest.New(t)
		_, err := New(ctx, db, superAdmin, []common.Address{{}})
		assert.ErrorIs(t, err, ErrZeroAddress)
	})

	t.Run("GrantsInitialRoles", func(t *testing.T) {
		db, rec := statetest.New(t)
		c, err := New(ctx, db, superAdmin, []common.Address{admin})
		require.NoError(t, err)

		ok, err := c.HasRole(ctx, SuperAdmin, superAdmin)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = c.HasRole(ctx, Admin, admin)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = c.HasRole(ctx, Admin, superAdmin)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.Equal(t, []state.Event{
			RoleGranted{Role: "super-admin", Account: superAdmin, Sender: superAdmin},
			RoleGranted{Role: "admin", Account: admin, Sender: superAdmin},
		}, rec.Events())
	})

	t.Run("ReopeningIsIdempotent", func(t *testing.T) {
		db, rec := statetest.New(t)
		_, err := New(ctx, db, superAdmin, []common.Address{admin})
		require.NoError(t, err)
		rec.Reset()
		_, err = New(ctx, db, superAdmin, []common.Address{admin})
		require.NoError(t, err)
		assert.Empty(t, rec.Events())
	})
}

func TestRoleManagement(t *testing.T) {
	ctx := context.Background()
	db, _ := statetest.New(t)
	c, err := New(ctx, db, superAdmin, []common.Address{admin})
	require.NoError(t, err)

	t.Run("SuperAdminIsAdminOfAdmins", func(t *testing.T) {
		assert.Equal(t, SuperAdmin, AdminOf(Admin))
		assert.Equal(t, SuperAdmin, AdminOf(SuperAdmin))
	})

	t.Run("AdminCannotGrant", func(t *testing.T) {
		err := c.GrantRole(WithCaller(ctx, admin), Admin, stranger)
		assert.ErrorIs(t, err, engine.ErrAccessDenied)
	})

	t.Run("SuperAdminGrantsAndRevokes", func(t *testing.T) {
		asSuper := WithCaller(ctx, superAdmin)
		require.NoError(t, c.GrantRole(asSuper, Admin, stranger))
		members, err := c.Members(ctx, Admin)
		require.NoError(t, err)
		assert.True(t, members.Contains(admin, stranger))
		assert.Equal(t, 2, members.Cardinality())

		require.NoError(t, c.RevokeRole(asSuper, Admin, stranger))
		ok, err := c.HasRole(ctx, Admin, stranger)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("GrantToZeroAddressFails", func(t *testing.T) {
		err := c.GrantRole(WithCaller(ctx, superAdmin), Admin, common.Address{})
		assert.ErrorIs(t, err, ErrZeroAddress)
	})

	t.Run("Require", func(t *testing.T) {
		assert.NoError(t, c.Require(WithCaller(ctx, admin), Admin))
		assert.ErrorIs(t, c.Require(WithCaller(ctx, stranger), Admin), engine.ErrAccessDenied)
		assert.ErrorIs(t, c.Require(ctx, Admin), engine.ErrAccessDenied)
	})

	t.Run("RenounceRole", func(t *testing.T) {
		asSuper := WithCaller(ctx, superAdmin)
		require.NoError(t, c.GrantRole(asSuper, Admin, stranger))
		require.NoError(t, c.RenounceRole(WithCaller(ctx, stranger), Admin))
		ok, err := c.HasRole(ctx, Admin, stranger)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
