// Package testutils holds small test doubles shared across the consensus
// core's test suites, mirroring the teacher's internal/testutils layout.
package testutils

import "github.com/Galxe/gravity-sdk/consensus/types"

// ConstLeader always returns the same leader regardless of round; it exists
// so tests can take leader-selection non-determinism out of the scenario
// they actually want to exercise (equivocation, recovery, timeouts, ...).
type ConstLeader struct {
	Leader types.NodeID
	Nodes  []types.NodeID
}

func (c ConstLeader) GetLeaderForRound(uint64) types.NodeID { return c.Leader }
func (c ConstLeader) GetNodes() []types.NodeID              { return c.Nodes }
