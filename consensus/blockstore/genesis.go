package blockstore

import (
	"crypto"
	"fmt"

	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

// NewGenesisBlock builds the bootstrap ExecutedBlock every Block Tree starts
// from: a self-certifying, self-committing block at round 0. Grounded on
// rootchain/consensus/storage/block_store.go's NewGenesisBlock, generalized
// away from the UnicityTree-specific commit-info fields.
func NewGenesisBlock(hashAlgo crypto.Hash) (*ExecutedBlock, error) {
	genesisBlock := &ctypes.BlockData{
		Version:   1,
		Author:    "genesis",
		Round:     ctypes.GenesisRound,
		Epoch:     ctypes.GenesisEpoch,
		Timestamp: 0,
		Payload:   &ctypes.Payload{},
		Qc:        nil,
	}

	commitRoundInfo := &ctypes.RoundInfo{
		Version:           1,
		RoundNumber:       genesisBlock.Round,
		Epoch:             genesisBlock.Epoch,
		Timestamp:         genesisBlock.Timestamp,
		ParentRoundNumber: 0,
		CurrentRootHash:   nil,
	}
	commitRoundInfoHash, err := commitRoundInfo.Hash(hashAlgo)
	if err != nil {
		return nil, fmt.Errorf("hashing genesis round info: %w", err)
	}

	// the round that commits the genesis block is the genesis round itself
	commitQc := &ctypes.QuorumCert{
		VoteInfo: commitRoundInfo,
		LedgerCommitInfo: &ctypes.LedgerCommitInfo{
			Version:      1,
			CommitRound:  commitRoundInfo.RoundNumber,
			Epoch:        commitRoundInfo.Epoch,
			Timestamp:    commitRoundInfo.Timestamp,
			Hash:         commitRoundInfo.CurrentRootHash,
			PreviousHash: commitRoundInfoHash,
		},
		Signatures: nil, // every validator runs the same bootstrap code, no signatures required
	}

	return &ExecutedBlock{
		BlockData: genesisBlock,
		HashAlgo:  hashAlgo,
		Qc:        commitQc,
		CommitQc:  commitQc,
		RootHash:  commitQc.LedgerCommitInfo.Hash,
	}, nil
}
