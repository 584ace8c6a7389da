// Package access implements the two-tier role model shared by every
// privileged oracle operation.
package access

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/ethereum/go-ethereum/common"
)

// Role names a membership set.
type Role string

const (
	// SuperAdmin manages the membership of both roles.
	SuperAdmin Role = "super-admin"
	// Admin may perform every configuration mutation.
	Admin Role = "admin"
)

// ErrZeroAddress is returned when a zero address is given a role.
var ErrZeroAddress = fmt.Errorf("%w: zero address", engine.ErrInvalidInput)

var roles = state.NewBucket("access-roles")

type callerKey struct{}

// WithCaller attaches the identity of the account performing a call.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller attached by WithCaller, or the zero address.
func CallerFrom(ctx context.Context) common.Address {
	caller, _ := ctx.Value(callerKey{}).(common.Address)
	return caller
}

// RoleGranted is emitted when an account joins a role.
type RoleGranted struct {
	Role    string
	Account common.Address
	Sender  common.Address
}

func (RoleGranted) EventName() string { return "RoleGranted" }

// RoleRevoked is emitted when an account leaves a role.
type RoleRevoked struct {
	Role    string
	Account common.Address
	Sender  common.Address
}

func (RoleRevoked) EventName() string { return "RoleRevoked" }

// Control stores role membership in the shared state DB.
type Control struct {
	db *state.DB
}

// New returns a Control and grants the initial roles. Re-opening an
// existing store keeps its membership and only adds missing grants.
func New(ctx context.Context, db *state.DB, superAdmin common.Address, initialAdmins []common.Address) (*Control, error) {
	if db == nil {
		return nil, errors.New("config: DB cannot be nil")
	}
	if superAdmin == (common.Address{}) {
		return nil, fmt.Errorf("super admin: %w", ErrZeroAddress)
	}
	for _, admin := range initialAdmins {
		if admin == (common.Address{}) {
			return nil, fmt.Errorf("initial admin: %w", ErrZeroAddress)
		}
	}

	c := &Control{db: db}
	err := db.Update(ctx, func(ctx context.Context) error {
		if err := c.grant(ctx, SuperAdmin, superAdmin, superAdmin); err != nil {
			return err
		}
		for _, admin := range initialAdmins {
			if err := c.grant(ctx, Admin, admin, superAdmin); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AdminOf returns the role whose members manage role.
func AdminOf(Role) Role {
	return SuperAdmin
}

func roleKey(role Role, account common.Address) []byte {
	key := make([]byte, 0, len(role)+1+common.AddressLength)
	key = append(key, string(role)...)
	key = append(key, '/')
	return append(key, account.Bytes()...)
}

// HasRole reports whether account is a member of role.
func (c *Control) HasRole(ctx context.Context, role Role, account common.Address) (bool, error) {
	var ok bool
	err := c.db.View(ctx, func(ctx context.Context) error {
		var err error
		ok, err = roles.Has(ctx, roleKey(role, account))
		return err
	})
	return ok, err
}

// Require fails with engine.ErrAccessDenied unless the caller in ctx holds role.
func (c *Control) Require(ctx context.Context, role Role) error {
	caller := CallerFrom(ctx)
	ok, err := c.HasRole(ctx, role, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is missing role %s", engine.ErrAccessDenied, caller.Hex(), role)
	}
	return nil
}

// GrantRole adds account to role. The caller must hold AdminOf(role).
func (c *Control) GrantRole(ctx context.Context, role Role, account common.Address) error {
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	return c.db.Update(ctx, func(ctx context.Context) error {
		if err := c.Require(ctx, AdminOf(role)); err != nil {
			return err
		}
		return c.grant(ctx, role, account, CallerFrom(ctx))
	})
}

// RevokeRole removes account from role. The caller must hold AdminOf(role).
func (c *Control) RevokeRole(ctx context.Context, role Role, account common.Address) error {
	return c.db.Update(ctx, func(ctx context.Context) error {
		if err := c.Require(ctx, AdminOf(role)); err != nil {
			return err
		}
		return c.revoke(ctx, role, account, CallerFrom(ctx))
	})
}

// RenounceRole removes the caller from role.
func (c *Control) RenounceRole(ctx context.Context, role Role) error {
	caller := CallerFrom(ctx)
	return c.db.Update(ctx, func(ctx context.Context) error {
		return c.revoke(ctx, role, caller, caller)
	})
}

// Members returns the accounts holding role.
func (c *Control) Members(ctx context.Context, role Role) (mapset.Set[common.Address], error) {
	members := mapset.NewThreadUnsafeSet[common.Address]()
	err := c.db.View(ctx, func(ctx context.Context) error {
		prefix := append([]byte(role), '/')
		keys, err := roles.Keys(ctx, prefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			members.Add(common.BytesToAddress(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (c *Control) grant(ctx context.Context, role Role, account, sender common.Address) error {
	key := roleKey(role, account)
	ok, err := roles.Has(ctx, key)
	if err != nil || ok {
		return err
	}
	if err := roles.Put(ctx, key, true); err != nil {
		return err
	}
	return state.Emit(ctx, RoleGranted{Role: string(role), Account: account, Sender: sender})
}

func (c *Control) revoke(ctx context.Context, role Role, account, sender common.Address) error {
	key := roleKey(role, account)
	ok, err := roles.Has(ctx, key)
	if err != nil || !ok {
		return err
	}
	if err := roles.Delete(ctx, key); err != nil {
		return err
	}
	return state.Emit(ctx, RoleRevoked{Role: string(role), Account: account, Sender: sender})
}
