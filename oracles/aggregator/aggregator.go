// Package aggregator routes every pair to the backend responsible for it.
//
// A pair is assigned to the first backend of the ordered list that can
// support it. Admins may pin a pair to a specific backend with
// ForceBackend; pinned pairs are only re-derived by admins or when the
// pinned backend stops supporting the pair.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultName = "aggregator"

// Logger is the logging surface of the aggregator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures an Aggregator.
type Config struct {
	Name   string
	DB     *state.DB
	Access *access.Control
	// Backends is the initial ordered backend list. It seeds the store the
	// first time it is opened; afterwards the stored list is kept and
	// Backends only makes the named backends resolvable.
	Backends   []engine.PriceOracle
	Logger     Logger
	Registerer prometheus.Registerer
}

func (c *Config) validate() error {
	if c.DB == nil {
		return errors.New("config: DB cannot be nil")
	}
	if c.Access == nil {
		return errors.New("config: Access cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer cannot be nil")
	}
	return nil
}

var (
	assignmentsBucket = state.NewBucket("aggregator-assignments")
	listBucket        = state.NewBucket("aggregator-list")

	listKey = []byte("backends")
)

// Assignment is the backend responsible for a pair. An empty Backend means
// the pair is unresolved.
type Assignment struct {
	Backend string `json:"backend"`
	Forced  bool   `json:"forced"`
}

type backendList struct {
	Names []string
}

// Aggregator is the routing engine.PriceOracle.
type Aggregator struct {
	name    string
	db      *state.DB
	access  *access.Control
	logger  Logger
	metrics *Metrics

	// catalog resolves backend names. It only grows; a name stays bound to
	// the first backend registered under it.
	mu      sync.RWMutex
	catalog map[string]engine.PriceOracle
}

var _ engine.PriceOracle = (*Aggregator)(nil)

// New creates an Aggregator and seeds the backend list if the store has none.
func New(ctx context.Context, cfg *Config) (*Aggregator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{
		name:    cfg.Name,
		db:      cfg.DB,
		access:  cfg.Access,
		logger:  cfg.Logger,
		catalog: make(map[string]engine.PriceOracle),
	}
	if a.name == "" {
		a.name = DefaultName
	}
	names, err := a.bind(cfg.Backends)
	if err != nil {
		return nil, err
	}
	a.metrics = NewMetrics(cfg.Registerer, a.name)

	err = a.db.Update(ctx, func(ctx context.Context) error {
		var stored backendList
		ok, err := listBucket.Get(ctx, listKey, &stored)
		if err != nil {
			return err
		}
		if ok {
			for _, name := range stored.Names {
				if _, found := a.resolve(name); !found {
					a.logger.Warn("stored backend is not configured", "backend", name)
				}
			}
			return nil
		}
		if len(names) == 0 {
			return nil
		}
		return a.writeList(ctx, names)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Aggregator) Name() string { return a.name }

// bind validates backends and adds them to the catalog.
func (a *Aggregator) bind(backends []engine.PriceOracle) ([]string, error) {
	names := make([]string, len(backends))
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(backends))
	for i, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("%w: backend %d is nil", engine.ErrInvalidInput, i)
		}
		name := b.Name()
		if name == "" {
			return nil, fmt.Errorf("%w: backend %d has no name", engine.ErrInvalidInput, i)
		}
		if !seen.Add(name) {
			return nil, fmt.Errorf("%w: duplicate backend %q", engine.ErrInvalidInput, name)
		}
		names[i] = name
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range backends {
		if bound, ok := a.catalog[b.Name()]; ok && bound != b {
			return nil, fmt.Errorf("%w: backend name %q is bound to another backend", engine.ErrInvalidInput, b.Name())
		}
	}
	for _, b := range backends {
		a.catalog[b.Name()] = b
	}
	return names, nil
}

func (a *Aggregator) resolve(name string) (engine.PriceOracle, bool) {
	if name == "" {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.catalog[name]
	return b, ok
}

func (a *Aggregator) writeList(ctx context.Context, names []string) error {
	if err := listBucket.Put(ctx, listKey, backendList{Names: names}); err != nil {
		return err
	}
	return state.Emit(ctx, BackendListUpdated{Backends: names})
}

// backends returns the resolvable backends of the stored list, in order.
func (a *Aggregator) backends(ctx context.Context) ([]engine.PriceOracle, error) {
	var stored backendList
	if _, err := listBucket.Get(ctx, listKey, &stored); err != nil {
		return nil, err
	}
	out := make([]engine.PriceOracle, 0, len(stored.Names))
	for _, name := range stored.Names {
		if b, ok := a.resolve(name); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (a *Aggregator) assignment(ctx context.Context, pair engine.Pair) (Assignment, error) {
	var out Assignment
	_, err := assignmentsBucket.Get(ctx, pair.Key(), &out)
	return out, err
}

func (a *Aggregator) assign(ctx context.Context, pair engine.Pair, backend string, forced bool) error {
	if err := assignmentsBucket.Put(ctx, pair.Key(), Assignment{Backend: backend, Forced: forced}); err != nil {
		return err
	}
	a.metrics.assignments.WithLabelValues(backend, fmt.Sprint(forced)).Inc()
	return state.Emit(ctx, BackendAssigned{Pair: pair, Backend: backend, Forced: forced})
}

// CanSupportPair reports whether any backend of the list supports the pair.
func (a *Aggregator) CanSupportPair(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	pair := engine.NewPair(tokenA, tokenB)
	var ok bool
	err := a.db.View(ctx, func(ctx context.Context) error {
		backends, err := a.backends(ctx)
		if err != nil {
			return err
		}
		for _, b := range backends {
			ok, err = b.CanSupportPair(ctx, pair.TokenA, pair.TokenB)
			if err != nil {
				return fmt.Errorf("backend %s: %w", b.Name(), err)
			}
			if ok {
				return nil
			}
		}
		return nil
	})
	return ok, err
}

// IsPairAlreadySupported reports whether the assigned backend still supports the pair.
func (a *Aggregator) IsPairAlreadySupported(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	pair := engine.NewPair(tokenA, tokenB)
	var ok bool
	err := a.db.View(ctx, func(ctx context.Context) error {
		var err error
		ok, err = a.stillSupported(ctx, pair)
		return err
	})
	return ok, err
}

func (a *Aggregator) stillSupported(ctx context.Context, pair engine.Pair) (bool, error) {
	assigned, err := a.assignment(ctx, pair)
	if err != nil {
		return false, err
	}
	b, ok := a.resolve(assigned.Backend)
	if !ok {
		return false, nil
	}
	return b.IsPairAlreadySupported(ctx, pair.TokenA, pair.TokenB)
}

// AddOrModifySupportForPair re-runs backend selection for the pair. A
// forced assignment is left untouched unless the caller is an admin.
func (a *Aggregator) AddOrModifySupportForPair(ctx context.Context, tokenA, tokenB common.Address, data []byte) error {
	pair := engine.NewPair(tokenA, tokenB)
	return a.db.Update(ctx, func(ctx context.Context) error {
		assigned, err := a.assignment(ctx, pair)
		if err != nil {
			return err
		}
		if assigned.Forced {
			admin, err := a.access.HasRole(ctx, access.Admin, access.CallerFrom(ctx))
			if err != nil {
				return err
			}
			if !admin {
				a.logger.Debug("keeping forced assignment", "pair", pair, "backend", assigned.Backend)
				return nil
			}
		}
		return a.selectBackend(ctx, pair, data)
	})
}

// AddSupportForPairIfNeeded runs backend selection unless the assigned
// backend, forced or not, still supports the pair.
func (a *Aggregator) AddSupportForPairIfNeeded(ctx context.Context, tokenA, tokenB common.Address, data []byte) error {
	pair := engine.NewPair(tokenA, tokenB)
	return a.db.Update(ctx, func(ctx context.Context) error {
		ok, err := a.stillSupported(ctx, pair)
		if err != nil || ok {
			return err
		}
		return a.selectBackend(ctx, pair, data)
	})
}

// selectBackend assigns the pair to the first backend of the list that can support it.
func (a *Aggregator) selectBackend(ctx context.Context, pair engine.Pair, data []byte) error {
	backends, err := a.backends(ctx)
	if err != nil {
		return err
	}
	for _, b := range backends {
		ok, err := b.CanSupportPair(ctx, pair.TokenA, pair.TokenB)
		if err != nil {
			return fmt.Errorf("backend %s: %w", b.Name(), err)
		}
		if !ok {
			continue
		}
		if err := b.AddOrModifySupportForPair(ctx, pair.TokenA, pair.TokenB, data); err != nil {
			return fmt.Errorf("backend %s: %w", b.Name(), err)
		}
		a.logger.Info("backend assigned", "pair", pair, "backend", b.Name())
		return a.assign(ctx, pair, b.Name(), false)
	}
	return engine.NewPairError(pair, engine.ErrUnsupported)
}

// Quote delegates to the assigned backend.
func (a *Aggregator) Quote(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, data []byte) (*big.Int, error) {
	pair := engine.NewPair(tokenIn, tokenOut)
	var out *big.Int
	err := a.db.View(ctx, func(ctx context.Context) error {
		assigned, err := a.assignment(ctx, pair)
		if err != nil {
			return err
		}
		b, ok := a.resolve(assigned.Backend)
		if !ok {
			a.metrics.quotes.WithLabelValues("", "unresolved").Inc()
			return engine.NewPairError(pair, engine.ErrUnresolved)
		}
		out, err = b.Quote(ctx, tokenIn, amountIn, tokenOut, data)
		if err != nil {
			a.metrics.quotes.WithLabelValues(b.Name(), "error").Inc()
			return err
		}
		a.metrics.quotes.WithLabelValues(b.Name(), "ok").Inc()
		return nil
	})
	return out, err
}
