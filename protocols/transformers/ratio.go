// Package transformers provides transformer implementations and a registry
// for the wrapper backend.
package transformers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/defistate-oracle-go/oracles/transformer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrUnknownDependent = errors.New("transformers: unknown dependent token")

type ratio struct {
	underlying common.Address
	num, den   *big.Int
}

// RatioTransformer converts a dependent token to a single underlying token
// at a fixed rate: one unit of dependent is worth rate units of underlying.
type RatioTransformer struct {
	mu     sync.RWMutex
	ratios map[common.Address]ratio
}

func NewRatioTransformer() *RatioTransformer {
	return &RatioTransformer{ratios: make(map[common.Address]ratio)}
}

// SetRatio sets the rate of dependent in underlying. The rate must be positive.
func (t *RatioTransformer) SetRatio(dependent, underlying common.Address, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("transformers: rate %s of %s must be positive", rate, dependent)
	}
	if dependent == underlying {
		return fmt.Errorf("transformers: %s cannot be its own underlying", dependent)
	}
	num := new(big.Int).Set(rate.Coefficient())
	den := big.NewInt(1)
	if exp := rate.Exponent(); exp >= 0 {
		num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	} else {
		den.Exp(big.NewInt(10), big.NewInt(int64(-exp)), nil)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ratios[dependent] = ratio{underlying: underlying, num: num, den: den}
	return nil
}

// Dependents lists the tokens the transformer knows.
func (t *RatioTransformer) Dependents() []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]common.Address, 0, len(t.ratios))
	for d := range t.ratios {
		out = append(out, d)
	}
	return out
}

func (t *RatioTransformer) get(dependent common.Address) (ratio, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.ratios[dependent]
	if !ok {
		return ratio{}, fmt.Errorf("%w: %s", ErrUnknownDependent, dependent)
	}
	return r, nil
}

func (t *RatioTransformer) Underlying(_ context.Context, dependent common.Address) ([]common.Address, error) {
	r, err := t.get(dependent)
	if err != nil {
		return nil, err
	}
	return []common.Address{r.underlying}, nil
}

// ToUnderlying returns amount * rate, rounded down.
func (t *RatioTransformer) ToUnderlying(_ context.Context, dependent common.Address, amount *big.Int) ([]transformer.UnderlyingAmount, error) {
	r, err := t.get(dependent)
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(amount, r.num)
	out.Quo(out, r.den)
	return []transformer.UnderlyingAmount{{Token: r.underlying, Amount: out}}, nil
}

// ToDependent returns amount / rate, rounded down.
func (t *RatioTransformer) ToDependent(_ context.Context, dependent common.Address, underlying []transformer.UnderlyingAmount) (*big.Int, error) {
	r, err := t.get(dependent)
	if err != nil {
		return nil, err
	}
	if len(underlying) != 1 || underlying[0].Token != r.underlying {
		return nil, fmt.Errorf("transformers: %s expects exactly one amount of %s", dependent, r.underlying)
	}
	out := new(big.Int).Mul(underlying[0].Amount, r.den)
	return out.Quo(out, r.num), nil
}
