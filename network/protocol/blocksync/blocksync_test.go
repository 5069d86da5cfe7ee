package blocksync

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Galxe/gravity-sdk/consensus/blockstore"
)

func TestRequest_IsValid(t *testing.T) {
	require.ErrorIs(t, (*Request)(nil).IsValid(), ErrRequestIsNil)

	r := &Request{NodeID: ""}
	require.ErrorIs(t, r.IsValid(), ErrNodeIDIsMissing)

	r = &Request{NodeID: "n1", BeginRound: 10, EndRound: 5}
	require.Error(t, r.IsValid())

	r = &Request{NodeID: "n1", BeginRound: 5, EndRound: 10}
	require.NoError(t, r.IsValid())
}

func TestResponse_IsValid(t *testing.T) {
	require.ErrorIs(t, (*Response)(nil).IsValid(), ErrResponseIsNil)

	r := &Response{UUID: uuid.New(), Status: Ok, Blocks: nil}
	require.ErrorIs(t, r.IsValid(), ErrResponseBlocksIsNil)

	r = &Response{UUID: uuid.New(), Status: Ok, Blocks: []*blockstore.CommittedBlock{}}
	require.NoError(t, r.IsValid())

	r = &Response{UUID: uuid.New(), Status: BlocksNotFound, Message: "no blocks for that range"}
	require.NoError(t, r.IsValid())
}

func TestResponse_Pretty(t *testing.T) {
	r := &Response{UUID: uuid.New(), Status: BlocksNotFound, Message: "no blocks"}
	require.Contains(t, r.Pretty(), "no blocks")

	r = &Response{UUID: uuid.New(), Status: Ok, FirstRound: 3, LastRound: 7, Blocks: []*blockstore.CommittedBlock{{}, {}}}
	require.Contains(t, r.Pretty(), "round #3 => #7")
}
