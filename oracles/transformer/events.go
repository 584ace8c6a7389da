package transformer

import (
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

type DependentsWillAvoidMappingToUnderlying struct {
	Tokens []common.Address
}

type DependentsWillMapToUnderlying struct {
	Tokens []common.Address
}

// PairSpecificConfigSet carries the configs in canonical order.
type PairSpecificConfigSet struct {
	Configs []PairMappingConfig
}

type PairSpecificConfigCleared struct {
	Pairs []engine.Pair
}

func (DependentsWillAvoidMappingToUnderlying) EventName() string {
	return "DependentsWillAvoidMappingToUnderlying"
}

func (DependentsWillMapToUnderlying) EventName() string { return "DependentsWillMapToUnderlying" }
func (PairSpecificConfigSet) EventName() string         { return "PairSpecificConfigSet" }
func (PairSpecificConfigCleared) EventName() string     { return "PairSpecificConfigCleared" }
