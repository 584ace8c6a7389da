package pushfeed

import (
	"time"

	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

// PlanUpdated is emitted whenever a pair is classified. Plan is NoPlan when
// the pair lost support.
type PlanUpdated struct {
	Pair engine.Pair
	Plan Plan
}

type MappingsAdded struct {
	Tokens []common.Address
	Mapped []common.Address
}

type MaxDelayChanged struct {
	MaxDelay time.Duration
}

func (PlanUpdated) EventName() string     { return "PlanUpdated" }
func (MappingsAdded) EventName() string   { return "MappingsAdded" }
func (MaxDelayChanged) EventName() string { return "MaxDelayChanged" }
