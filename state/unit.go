package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// ErrNoUnit is returned when state is accessed outside DB.Update or DB.View.
	ErrNoUnit = errors.New("state: no unit of work in context")
	// ErrReadOnly is returned when a view tries to write.
	ErrReadOnly = errors.New("state: unit of work is read-only")
)

type unitKey struct{}

type write struct {
	value   []byte
	deleted bool
}

// unit is one level of a unit of work. The top-level unit has no parent;
// savepoints read through their parents and share the meter.
type unit struct {
	id       uuid.UUID
	db       *DB
	parent   *unit
	readOnly bool
	writes   map[string]write
	events   []Event
	hooks    []func(context.Context) error
	meter    *Meter
}

func newUnit(db *DB, readOnly bool, budget uint64) *unit {
	return &unit{
		id:       uuid.New(),
		db:       db,
		readOnly: readOnly,
		writes:   make(map[string]write),
		meter:    NewMeter(budget),
	}
}

func (u *unit) child(readOnly bool) *unit {
	return &unit{
		id:       u.id,
		db:       u.db,
		parent:   u,
		readOnly: u.readOnly || readOnly,
		writes:   make(map[string]write),
		meter:    u.meter,
	}
}

// merge folds a successful savepoint into its parent.
func (u *unit) merge() {
	p := u.parent
	for k, w := range u.writes {
		p.writes[k] = w
	}
	p.events = append(p.events, u.events...)
	p.hooks = append(p.hooks, u.hooks...)
}

func (u *unit) get(key []byte) ([]byte, bool, error) {
	k := string(key)
	for cur := u; cur != nil; cur = cur.parent {
		if w, ok := cur.writes[k]; ok {
			if w.deleted {
				return nil, false, nil
			}
			return w.value, true, nil
		}
	}

	value, err := u.db.ldb.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: get: %w", err)
	}
	return value, true, nil
}

func (u *unit) put(key, value []byte) error {
	if u.readOnly {
		return ErrReadOnly
	}
	u.writes[string(key)] = write{value: bytes.Clone(value)}
	return nil
}

func (u *unit) delete(key []byte) error {
	if u.readOnly {
		return ErrReadOnly
	}
	u.writes[string(key)] = write{deleted: true}
	return nil
}

// keys lists every live key under prefix, merging the store with all
// overlays from the top-level unit down to u.
func (u *unit) keys(prefix []byte) ([][]byte, error) {
	live := make(map[string]struct{})

	it := u.db.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	for it.Next() {
		live[string(it.Key())] = struct{}{}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("state: iterate: %w", err)
	}

	var chain []*unit
	for cur := u; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	p := string(prefix)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, w := range chain[i].writes {
			if !strings.HasPrefix(k, p) {
				continue
			}
			if w.deleted {
				delete(live, k)
			} else {
				live[k] = struct{}{}
			}
		}
	}

	sorted := make([]string, 0, len(live))
	for k := range live {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	out := make([][]byte, len(sorted))
	for i, k := range sorted {
		out[i] = []byte(k)
	}
	return out, nil
}

func withUnit(ctx context.Context, u *unit) context.Context {
	return context.WithValue(ctx, unitKey{}, u)
}

func unitFrom(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{}).(*unit)
	return u
}

func mustUnit(ctx context.Context) (*unit, error) {
	u := unitFrom(ctx)
	if u == nil {
		return nil, ErrNoUnit
	}
	return u, nil
}

// Emit buffers an event on the unit of work. It is published only if the
// top-level unit commits.
func Emit(ctx context.Context, ev Event) error {
	u, err := mustUnit(ctx)
	if err != nil {
		return err
	}
	if u.readOnly {
		return ErrReadOnly
	}
	u.events = append(u.events, ev)
	return nil
}

// AfterCommit registers a hook that runs once the top-level unit has
// committed. Effects on systems outside the store (for instance asking a
// pool to grow its observation buffer) go here so that a discarded unit
// leaves no trace. Hook errors are logged, not returned.
func AfterCommit(ctx context.Context, hook func(ctx context.Context) error) error {
	u, err := mustUnit(ctx)
	if err != nil {
		return err
	}
	if u.readOnly {
		return ErrReadOnly
	}
	u.hooks = append(u.hooks, hook)
	return nil
}
