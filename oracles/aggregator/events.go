package aggregator

import "github.com/defistate/defistate-oracle-go/engine"

// BackendAssigned is emitted whenever the assignment of a pair is written.
// Backend is empty when the assignment was cleared.
type BackendAssigned struct {
	Pair    engine.Pair
	Backend string
	Forced  bool
}

type BackendListUpdated struct {
	Backends []string
}

func (BackendAssigned) EventName() string    { return "BackendAssigned" }
func (BackendListUpdated) EventName() string { return "BackendListUpdated" }
