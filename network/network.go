// Package network defines the transport boundary the consensus core and
// recovery packages send/receive wire messages through, and the libp2p
// protocol IDs each message type is carried on.
//
// Grounded on the teacher's network package as referenced from
// internal/testutils/network/mock_network.go: a Send(ctx, msg,
// receivers...) fan-out call keyed by reflect.Type-to-protocol-ID
// registration, and a ReceivedChannel for inbound messages.
package network

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Protocol IDs for every consensus-core wire message. Mirrors the naming of
// the teacher's network.ProtocolRoot* constants, generalized from the
// teacher's rootchain-specific protocol set to this spec's message types.
const (
	ProtocolProposal  = "/gravity/consensus/proposal/1.0.0"
	ProtocolVote      = "/gravity/consensus/vote/1.0.0"
	ProtocolTimeout   = "/gravity/consensus/timeout/1.0.0"
	ProtocolBlockSyncReq  = "/gravity/blocksync/req/1.0.0"
	ProtocolBlockSyncResp = "/gravity/blocksync/resp/1.0.0"

	ProtocolBatch         = "/gravity/quorumstore/batch/1.0.0"
	ProtocolBatchAck      = "/gravity/quorumstore/batchack/1.0.0"
	ProtocolProofOfStore  = "/gravity/quorumstore/proofofstore/1.0.0"
)

// Network is the send/receive surface the round-state-machine, pipeline and
// recovery packages depend on. Implementations range from a libp2p host
// (production) to an in-memory fan-out (tests, single-process networks).
type Network interface {
	// Send delivers msg to every listed peer over the protocol registered
	// for msg's concrete type.
	Send(ctx context.Context, msg any, receivers ...peer.ID) error

	// ReceivedChannel is every inbound message this node has accepted,
	// regardless of which protocol carried it.
	ReceivedChannel() <-chan any
}
