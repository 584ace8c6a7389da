// Package enginetest provides a testify mock of engine.PriceOracle.
package enginetest

import (
	"context"
	"math/big"

	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
)

// MockOracle is a mock.Mock backed engine.PriceOracle. Contexts are not
// passed to the expectations.
type MockOracle struct {
	mock.Mock
	name string
}

var _ engine.PriceOracle = (*MockOracle)(nil)

func NewMockOracle(name string) *MockOracle {
	return &MockOracle{name: name}
}

func (m *MockOracle) Name() string { return m.name }

func (m *MockOracle) CanSupportPair(_ context.Context, tokenA, tokenB common.Address) (bool, error) {
	args := m.Called(tokenA, tokenB)
	return args.Bool(0), args.Error(1)
}

func (m *MockOracle) IsPairAlreadySupported(_ context.Context, tokenA, tokenB common.Address) (bool, error) {
	args := m.Called(tokenA, tokenB)
	return args.Bool(0), args.Error(1)
}

func (m *MockOracle) AddOrModifySupportForPair(_ context.Context, tokenA, tokenB common.Address, data []byte) error {
	return m.Called(tokenA, tokenB, data).Error(0)
}

func (m *MockOracle) AddSupportForPairIfNeeded(_ context.Context, tokenA, tokenB common.Address, data []byte) error {
	return m.Called(tokenA, tokenB, data).Error(0)
}

func (m *MockOracle) Quote(_ context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, data []byte) (*big.Int, error) {
	args := m.Called(tokenIn, amountIn, tokenOut, data)
	out, _ := args.Get(0).(*big.Int)
	return out, args.Error(1)
}

// Amount matches a *big.Int argument equal to want.
func Amount(want *big.Int) any {
	return mock.MatchedBy(func(got *big.Int) bool {
		return got != nil && got.Cmp(want) == 0
	})
}
