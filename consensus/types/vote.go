package types

// Vote is what a validator emits after Safety Rules agrees to vote for a
// proposed block. It carries the block vote and, when the voter's
// round-state-machine had just timed out, a piggy-backed timeout signature
// so the next round can form a TC without a second message round-trip.
type Vote struct {
	_                 struct{} `cbor:",toarray"`
	Author            NodeID
	VoteInfo          *RoundInfo
	LedgerCommitInfo  *LedgerCommitInfo
	LedgerCommitSig   []byte
	HighQc            *QuorumCert // voter's current highest QC, used to advance rounds without waiting on the leader
	TimeoutSignature  *TimeoutSignature
}

func (v *Vote) GetRound() uint64 {
	if v == nil || v.VoteInfo == nil {
		return 0
	}
	return v.VoteInfo.RoundNumber
}

// SyncInfo is the "where am I" probe attached to every consensus wire
// message; a peer comparing it against its own state is the universal
// trigger for Block Sync (see recovery package).
type SyncInfo struct {
	_             struct{} `cbor:",toarray"`
	HighQc        *QuorumCert
	HighCommitQc  *QuorumCert
	HighTc        *TimeoutCert
}

func (si *SyncInfo) HighQcRound() uint64 {
	if si == nil {
		return 0
	}
	return si.HighQc.GetRound()
}

func (si *SyncInfo) HighCommitQcRound() uint64 {
	if si == nil {
		return 0
	}
	return si.HighCommitQc.GetRound()
}

// ExecutionResult is the execution layer's attestation of a block's effect:
// the resulting state root and a monotonic count of all transactions
// executed up to and including this block. Once 2f+1 validators sign the
// same ExecutionResult it becomes the LedgerCommitInfo of that block's QC.
type ExecutionResult struct {
	_                    struct{} `cbor:",toarray"`
	BlockID              []byte
	BlockNumber          uint64
	StateRootHash        []byte
	CumulativeTxnCount   uint64
	ExecutionAttestation []byte // opaque randomness/attestation hook, e.g. hash-of-DKG-output; consensus core does not interpret it
}
