// Package blocksync holds the peer-assisted recovery wire protocol (spec
// §7): a node that has fallen behind asks a peer for a contiguous run of
// committed blocks and replays them.
//
// Grounded directly on network/protocol/replication's
// LedgerReplicationRequest/Response, generalized away from the teacher's
// shard/partition addressing (PartitionID/ShardID) since this spec has no
// shard concept, and from *types.Block (a UnicityCertificate-sealed shard
// block) to *blockstore.CommittedBlock (this spec's block + QC + commit QC).
package blocksync

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Galxe/gravity-sdk/consensus/blockstore"
)

type Status int

const (
	Ok Status = iota
	InvalidRequestParameters
	BlocksNotFound
	Unknown
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "OK"
	case BlocksNotFound:
		return "Blocks Not Found"
	case InvalidRequestParameters:
		return "Invalid Request Parameters"
	case Unknown:
		return "Unknown"
	}
	return "Unknown Status Code"
}

var (
	ErrRequestIsNil        = errors.New("block sync request is nil")
	ErrResponseIsNil       = errors.New("block sync response is nil")
	ErrResponseBlocksIsNil = errors.New("block sync response blocks is nil")
	ErrNodeIDIsMissing     = errors.New("node identifier is missing")
)

// Request asks a peer for every committed block from BeginRound onward, up
// to and including EndRound (0 meaning "as many as the peer has").
type Request struct {
	_          struct{} `cbor:",toarray"`
	UUID       uuid.UUID
	NodeID     string
	BeginRound uint64
	EndRound   uint64
}

func (r *Request) IsValid() error {
	if r == nil {
		return ErrRequestIsNil
	}
	if r.NodeID == "" {
		return ErrNodeIDIsMissing
	}
	if r.EndRound != 0 && r.EndRound < r.BeginRound {
		return fmt.Errorf("invalid block range request from %d to %d", r.BeginRound, r.EndRound)
	}
	return nil
}

// Response carries the requested run of committed blocks, oldest first.
type Response struct {
	_           struct{} `cbor:",toarray"`
	UUID        uuid.UUID
	Status      Status
	Message     string
	Blocks      []*blockstore.CommittedBlock
	FirstRound  uint64
	LastRound   uint64
}

func (r *Response) IsValid() error {
	if r == nil {
		return ErrResponseIsNil
	}
	if r.Status == Ok && r.Blocks == nil {
		return ErrResponseBlocksIsNil
	}
	return nil
}

func (r *Response) Pretty() string {
	count := len(r.Blocks)
	if r.Message != "" {
		return fmt.Sprintf("status: %s, message: %s, %d blocks, uuid: %s", r.Status, r.Message, count, r.UUID)
	}
	return fmt.Sprintf("status: %s, %d blocks (round #%d => #%d), uuid: %s", r.Status, count, r.FirstRound, r.LastRound, r.UUID)
}
