package types

import "fmt"

// ValidatorSet is the set of keyed identities whose signatures count toward
// 2f+1 quorums within an epoch (GLOSSARY: Validator set).
type ValidatorSet struct {
	Epoch      uint64
	Validators []*ValidatorInfo
	byID       map[NodeID]*ValidatorInfo
	total      uint64
}

// NewValidatorSet builds a lookup-indexed validator set for an epoch.
func NewValidatorSet(epoch uint64, validators []*ValidatorInfo) (*ValidatorSet, error) {
	if len(validators) == 0 {
		return nil, fmt.Errorf("validator set for epoch %d is empty", epoch)
	}
	byID := make(map[NodeID]*ValidatorInfo, len(validators))
	var total uint64
	for _, v := range validators {
		if v.VotingPower == 0 {
			return nil, fmt.Errorf("validator %s has zero voting power", v.NodeID)
		}
		if _, dup := byID[v.NodeID]; dup {
			return nil, fmt.Errorf("duplicate validator %s in set", v.NodeID)
		}
		byID[v.NodeID] = v
		total += v.VotingPower
	}
	return &ValidatorSet{Epoch: epoch, Validators: validators, byID: byID, total: total}, nil
}

func (vs *ValidatorSet) Contains(id NodeID) bool {
	if vs == nil {
		return false
	}
	_, ok := vs.byID[id]
	return ok
}

func (vs *ValidatorSet) VotingPower(id NodeID) uint64 {
	if vs == nil {
		return 0
	}
	if v, ok := vs.byID[id]; ok {
		return v.VotingPower
	}
	return 0
}

func (vs *ValidatorSet) TotalVotingPower() uint64 {
	if vs == nil {
		return 0
	}
	return vs.total
}

// QuorumThreshold returns the minimal voting power that constitutes a 2f+1
// (Byzantine) quorum: strictly more than two thirds of total voting power.
func (vs *ValidatorSet) QuorumThreshold() uint64 {
	if vs == nil {
		return 0
	}
	// 2f+1 out of 3f+1 total power, computed without float rounding:
	// smallest T such that 3T > 2*total  <=>  T = floor(2*total/3) + 1
	return (2*vs.total)/3 + 1
}

// HasQuorum reports whether the combined voting power of signers reaches the
// 2f+1 threshold for this validator set.
func (vs *ValidatorSet) HasQuorum(signers map[NodeID][]byte) bool {
	if vs == nil {
		return false
	}
	var power uint64
	for id := range signers {
		power += vs.VotingPower(id)
	}
	return power >= vs.QuorumThreshold()
}

func (vs *ValidatorSet) Size() int {
	if vs == nil {
		return 0
	}
	return len(vs.Validators)
}
