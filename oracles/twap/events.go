package twap

import (
	"time"

	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

// SupportUpdated is emitted when a pair's pool set is replaced.
type SupportUpdated struct {
	Pair  engine.Pair
	Pools []common.Address
}

type PeriodChanged struct {
	Period time.Duration
}

type CardinalityPerMinuteChanged struct {
	CardinalityPerMinute uint64
}

type GasPerCardinalityChanged struct {
	Gas uint64
}

type GasCostToSupportPoolChanged struct {
	Gas uint64
}

// DenylistChanged carries the pairs in canonical order.
type DenylistChanged struct {
	Pairs      []engine.Pair
	Denylisted []bool
}

type PoolDenylistChanged struct {
	Pools      []common.Address
	Denylisted []bool
}

func (SupportUpdated) EventName() string              { return "SupportUpdated" }
func (PeriodChanged) EventName() string               { return "PeriodChanged" }
func (CardinalityPerMinuteChanged) EventName() string { return "CardinalityPerMinuteChanged" }
func (GasPerCardinalityChanged) EventName() string    { return "GasPerCardinalityChanged" }
func (GasCostToSupportPoolChanged) EventName() string { return "GasCostToSupportPoolChanged" }
func (DenylistChanged) EventName() string             { return "DenylistChanged" }
func (PoolDenylistChanged) EventName() string         { return "PoolDenylistChanged" }
