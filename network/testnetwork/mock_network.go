// Package testnetwork provides an in-memory network.Network for tests and
// single-process development networks, adapted from the teacher's
// internal/testutils/network.MockNet: a reflect.Type-to-protocol-ID
// registry plus a recorded-sends map, stripped of the teacher's
// shard/partition-specific protocols (block proposals, tx forwarding,
// certification) in favor of this spec's consensus-core message set.
package testnetwork

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Galxe/gravity-sdk/network"
	"github.com/Galxe/gravity-sdk/network/protocol/blocksync"
	qswire "github.com/Galxe/gravity-sdk/network/protocol/quorumstore"
	"github.com/Galxe/gravity-sdk/network/protocol/rbft"
)

type PeerMessage struct {
	peer.ID
	Message any
}

// MockNet is a fully in-memory Network: Send records the message against
// the sender-inferred protocol instead of putting anything on a wire, and
// Receive/ReceivedChannel feed a buffered channel any test driver can poll.
type MockNet struct {
	mu           sync.Mutex
	err          error
	messageCh    chan any
	sentMessages map[string][]PeerMessage
	protocols    map[reflect.Type]string
}

func New() *MockNet {
	mn := &MockNet{
		messageCh:    make(chan any, 100),
		sentMessages: make(map[string][]PeerMessage),
		protocols:    make(map[reflect.Type]string),
	}
	for _, p := range []struct {
		msg any
		id  string
	}{
		{rbft.ProposalMsg{}, network.ProtocolProposal},
		{rbft.VoteMsg{}, network.ProtocolVote},
		{rbft.TimeoutMsg{}, network.ProtocolTimeout},
		{blocksync.Request{}, network.ProtocolBlockSyncReq},
		{blocksync.Response{}, network.ProtocolBlockSyncResp},
		{qswire.BatchMsg{}, network.ProtocolBatch},
		{qswire.BatchAckMsg{}, network.ProtocolBatchAck},
		{qswire.ProofOfStoreMsg{}, network.ProtocolProofOfStore},
	} {
		if err := mn.registerSendProtocol(p.msg, p.id); err != nil {
			panic(fmt.Errorf("registering protocol %q: %w", p.id, err))
		}
	}
	return mn
}

func (m *MockNet) Send(_ context.Context, msg any, receivers ...peer.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	protocolID, ok := m.protocols[reflect.TypeOf(msg)]
	if !ok {
		return fmt.Errorf("no protocol registered for data type %T", msg)
	}
	messages := m.sentMessages[protocolID]
	for _, r := range receivers {
		messages = append(messages, PeerMessage{ID: r, Message: msg})
	}
	m.sentMessages[protocolID] = messages
	return nil
}

func (m *MockNet) SetErrorState(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockNet) SentMessages(protocol string) []PeerMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentMessages[protocol]
}

func (m *MockNet) ResetSentMessages(protocol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages[protocol] = nil
}

func (m *MockNet) Receive(msg any) {
	m.messageCh <- msg
}

func (m *MockNet) ReceivedChannel() <-chan any {
	return m.messageCh
}

func (m *MockNet) registerSendProtocol(msgStruct any, protocolID string) error {
	if protocolID == "" {
		return errors.New("protocol ID must be assigned")
	}
	typ := reflect.TypeOf(msgStruct)
	if typ == nil || typ.Kind() != reflect.Struct {
		return fmt.Errorf("message data type must be struct, got %v", msgStruct)
	}
	if pid, ok := m.protocols[typ]; ok {
		return fmt.Errorf("data type %s has been already registered for protocol %s", typ, pid)
	}
	m.protocols[typ] = protocolID
	m.protocols[reflect.PointerTo(typ)] = protocolID
	return nil
}
