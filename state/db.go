// Package state implements the transactional store every oracle component
// keeps its per-pair records in.
//
// Each call into a component runs as one unit of work: writes go to an
// overlay that is committed atomically when the call succeeds and discarded
// when it fails, including when the execution budget runs out. Calls made
// from inside a unit of work (a wrapper calling the aggregator calling a
// backend) reuse it through the context as nested savepoints.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/defistate/defistate-oracle-go/state"

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the dependencies of a DB.
type Config struct {
	// Path is the leveldb directory. An empty path opens an in-memory store.
	Path string
	// DefaultBudget is the execution budget of a unit of work whose context
	// carries none (see WithBudget).
	DefaultBudget uint64
	// Sink receives the events of committed units. Defaults to a LogSink.
	Sink     EventSink
	Logger   Logger
	Registry prometheus.Registerer
}

func (c *Config) validate() error {
	if c.DefaultBudget == 0 {
		return errors.New("config: DefaultBudget is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	return nil
}

// DB is a leveldb backed store that hands out units of work.
type DB struct {
	// mu serialises top-level updates. Views share it.
	mu            sync.RWMutex
	ldb           *leveldb.DB
	sink          EventSink
	logger        Logger
	metrics       *Metrics
	tracer        trace.Tracer
	defaultBudget uint64
}

// Open opens the store described by cfg.
func Open(cfg *Config) (*DB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var (
		ldb *leveldb.DB
		err error
	)
	if cfg.Path == "" {
		ldb, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		ldb, err = leveldb.OpenFile(cfg.Path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("state: open store: %w", err)
	}

	sink := cfg.Sink
	if sink == nil {
		sink = NewLogSink(cfg.Logger)
	}

	return &DB{
		ldb:           ldb,
		sink:          sink,
		logger:        cfg.Logger,
		metrics:       NewMetrics(cfg.Registry),
		tracer:        otel.Tracer(tracerName),
		defaultBudget: cfg.DefaultBudget,
	}, nil
}

// Close releases the underlying store.
func (db *DB) Close() error {
	return db.ldb.Close()
}

// Update runs fn inside a writable unit of work. If ctx already carries a
// unit of this DB, fn runs in a savepoint of it that is folded into the
// parent on success and dropped on failure.
func (db *DB) Update(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.run(ctx, false, fn)
}

// View runs fn inside a read-only unit of work. Writes and events fail with
// ErrReadOnly.
func (db *DB) View(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.run(ctx, true, fn)
}

func (db *DB) run(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) error {
	if parent := unitFrom(ctx); parent != nil && parent.db == db {
		child := parent.child(readOnly)
		if err := fn(withUnit(ctx, child)); err != nil {
			return err
		}
		child.merge()
		return nil
	}
	return db.runTopLevel(ctx, readOnly, fn)
}

func (db *DB) runTopLevel(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) error {
	mode := "update"
	if readOnly {
		mode = "view"
	}

	budget, ok := budgetFrom(ctx)
	if !ok {
		budget = db.defaultBudget
	}
	u := newUnit(db, readOnly, budget)

	ctx, span := db.tracer.Start(ctx, "state."+mode, trace.WithAttributes(
		attribute.String("unit.id", u.id.String()),
		attribute.Int64("unit.budget", int64(budget)),
	))
	defer span.End()

	timer := prometheus.NewTimer(db.metrics.unitDuration.WithLabelValues(mode))
	defer timer.ObserveDuration()

	if readOnly {
		db.mu.RLock()
	} else {
		db.mu.Lock()
	}
	err := fn(withUnit(ctx, u))
	if err == nil && !readOnly {
		err = db.write(u)
	}
	if readOnly {
		db.mu.RUnlock()
	} else {
		db.mu.Unlock()
	}

	db.metrics.budgetUsed.WithLabelValues(mode).Observe(float64(u.meter.Used()))
	span.SetAttributes(attribute.Int64("unit.budget_used", int64(u.meter.Used())))

	if err != nil {
		db.metrics.units.WithLabelValues(mode, "aborted").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		db.logger.Debug("unit of work discarded", "unit", u.id, "mode", mode, "error", err)
		return err
	}
	db.metrics.units.WithLabelValues(mode, "committed").Inc()

	if len(u.events) > 0 {
		db.sink.Publish(ctx, u.id, u.events)
	}
	for _, hook := range u.hooks {
		if hookErr := hook(ctx); hookErr != nil {
			db.metrics.hookFailures.Inc()
			db.logger.Error("after-commit hook failed", "unit", u.id, "error", hookErr)
		}
	}
	return nil
}

// write applies the overlay of a top-level unit as one atomic batch.
func (db *DB) write(u *unit) error {
	if len(u.writes) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for key, w := range u.writes {
		if w.deleted {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), w.value)
		}
	}
	if err := db.ldb.Write(batch, nil); err != nil {
		return fmt.Errorf("state: commit unit %s: %w", u.id, err)
	}
	return nil
}

// UnitID returns the id of the unit of work carried by ctx.
func UnitID(ctx context.Context) (uuid.UUID, bool) {
	u := unitFrom(ctx)
	if u == nil {
		return uuid.Nil, false
	}
	return u.id, true
}
