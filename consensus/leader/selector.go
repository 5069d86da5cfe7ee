// Package leader implements the deterministic leader(round, epoch,
// validator_set) function (spec §4.3 "Leader rotation").
package leader

import (
	"fmt"

	"github.com/Galxe/gravity-sdk/consensus/types"
)

// Selector decides which validator proposes for a given round.
// consensus.Manager keeps the Selector it was constructed with; nothing in
// this module swaps it at an epoch boundary.
type Selector interface {
	GetLeaderForRound(round uint64) types.NodeID
	GetNodes() []types.NodeID
}

// RoundRobin rotates through nodes in a fixed order, one per round,
// starting the rotation at firstRound.
type RoundRobin struct {
	nodes      []types.NodeID
	firstRound uint64
}

// NewRoundRobin builds a round-robin selector over nodes, anchored so that
// nodes[0] leads at firstRound.
func NewRoundRobin(nodes []types.NodeID, firstRound uint64) (*RoundRobin, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("round robin leader selector: empty node list")
	}
	cp := make([]types.NodeID, len(nodes))
	copy(cp, nodes)
	return &RoundRobin{nodes: cp, firstRound: firstRound}, nil
}

func (r *RoundRobin) GetLeaderForRound(round uint64) types.NodeID {
	if len(r.nodes) == 0 {
		return ""
	}
	if round < r.firstRound {
		round = r.firstRound
	}
	idx := (round - r.firstRound) % uint64(len(r.nodes))
	return r.nodes[idx]
}

func (r *RoundRobin) GetNodes() []types.NodeID {
	cp := make([]types.NodeID, len(r.nodes))
	copy(cp, r.nodes)
	return cp
}

// Weighted rotates through nodes with probability proportional to voting
// power, using a deterministic round->node hash so every honest validator
// computes the same leader without communication.
type Weighted struct {
	nodes  []types.NodeID
	weight map[types.NodeID]uint64
	total  uint64
}

// NewWeighted builds a stake-weighted leader selector from a validator set.
func NewWeighted(vs *types.ValidatorSet) (*Weighted, error) {
	if vs == nil || vs.Size() == 0 {
		return nil, fmt.Errorf("weighted leader selector: empty validator set")
	}
	w := &Weighted{weight: make(map[types.NodeID]uint64, vs.Size())}
	for _, v := range vs.Validators {
		w.nodes = append(w.nodes, v.NodeID)
		w.weight[v.NodeID] = v.VotingPower
		w.total += v.VotingPower
	}
	return w, nil
}

// GetLeaderForRound picks a deterministic pseudo-random node weighted by
// voting power: hash(round) mod totalWeight selects a slot, walked in node
// order (stable iteration, since nodes is a fixed slice built at construction).
func (w *Weighted) GetLeaderForRound(round uint64) types.NodeID {
	if w.total == 0 {
		return ""
	}
	slot := roundHash(round) % w.total
	var acc uint64
	for _, n := range w.nodes {
		acc += w.weight[n]
		if slot < acc {
			return n
		}
	}
	return w.nodes[len(w.nodes)-1]
}

func (w *Weighted) GetNodes() []types.NodeID {
	cp := make([]types.NodeID, len(w.nodes))
	copy(cp, w.nodes)
	return cp
}

// roundHash is a cheap, deterministic avalanche mix (splitmix64 finalizer) so
// consecutive rounds don't cluster on the same leader.
func roundHash(round uint64) uint64 {
	z := round + 0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
