package testnetwork

import (
	"context"
	"errors"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/Galxe/gravity-sdk/network"
	"github.com/Galxe/gravity-sdk/network/protocol/rbft"
)

func TestMockNet_SendRecordsByProtocol(t *testing.T) {
	mn := New()
	p1 := peer.ID("p1")

	msg := &rbft.VoteMsg{}
	require.NoError(t, mn.Send(context.Background(), msg, p1))

	sent := mn.SentMessages(network.ProtocolVote)
	require.Len(t, sent, 1)
	require.Equal(t, p1, sent[0].ID)

	mn.ResetSentMessages(network.ProtocolVote)
	require.Empty(t, mn.SentMessages(network.ProtocolVote))
}

func TestMockNet_SendUnregisteredTypeFails(t *testing.T) {
	mn := New()
	err := mn.Send(context.Background(), "not a registered message")
	require.Error(t, err)
}

func TestMockNet_ReceiveDelivers(t *testing.T) {
	mn := New()
	mn.Receive(&rbft.TimeoutMsg{Author: "n1"})
	got := <-mn.ReceivedChannel()
	msg, ok := got.(*rbft.TimeoutMsg)
	require.True(t, ok)
	require.Equal(t, "n1", msg.Author)
}

func TestMockNet_SendErrorState(t *testing.T) {
	mn := New()
	boom := errors.New("network down")
	mn.SetErrorState(boom)
	require.ErrorIs(t, mn.Send(context.Background(), &rbft.VoteMsg{}), boom)
}
