// Package statetest builds in-memory stores for tests.
package statetest

import (
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/defistate-oracle-go/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// DefaultBudget is the budget of units opened without state.WithBudget.
const DefaultBudget = 30_000_000

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New opens an in-memory DB whose events are captured by the returned recorder.
func New(t testing.TB) (*state.DB, *state.Recorder) {
	t.Helper()
	rec := state.NewRecorder()
	db, err := state.Open(&state.Config{
		DefaultBudget: DefaultBudget,
		Sink:          rec,
		Logger:        Logger(),
		Registry:      prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, rec
}
