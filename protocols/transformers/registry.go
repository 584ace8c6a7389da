package transformers

import (
	"context"
	"sync"

	"github.com/defistate/defistate-oracle-go/oracles/transformer"
	"github.com/ethereum/go-ethereum/common"
)

// Registry maps dependent tokens to their transformer.
type Registry struct {
	mu          sync.RWMutex
	byDependent map[common.Address]transformer.Transformer
}

var _ transformer.Registry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{byDependent: make(map[common.Address]transformer.Transformer)}
}

// Register assigns t to every dependent, replacing previous assignments.
func (r *Registry) Register(t transformer.Transformer, dependents ...common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range dependents {
		r.byDependent[d] = t
	}
}

// Remove forgets the dependents.
func (r *Registry) Remove(dependents ...common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range dependents {
		delete(r.byDependent, d)
	}
}

// Transformers returns the transformer of each token, nil for tokens without one.
func (r *Registry) Transformers(_ context.Context, tokens []common.Address) ([]transformer.Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transformer.Transformer, len(tokens))
	for i, token := range tokens {
		out[i] = r.byDependent[token]
	}
	return out, nil
}
