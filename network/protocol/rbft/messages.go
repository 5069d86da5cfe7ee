// Package rbft holds the wire messages the round-state-machine exchanges
// over the network (spec §6): proposals, votes and timeouts, each carrying
// SyncInfo so a peer can detect it has fallen behind without a separate
// probe round-trip.
//
// Grounded directly on network/protocol/abdrc's TimeoutMsg (Bytes/IsValid/
// Sign/Verify shape), generalized to also cover ProposalMsg and VoteMsg,
// which the teacher inlines elsewhere but which this pack does not carry a
// standalone file for.
package rbft

import (
	"crypto"
	"errors"
	"fmt"

	ccrypto "github.com/Galxe/gravity-sdk/consensus/crypto"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

var (
	ErrProposalMsgIsNil = errors.New("proposal message is nil")
	ErrVoteMsgIsNil     = errors.New("vote message is nil")
	ErrTimeoutMsgIsNil  = errors.New("timeout message is nil")
)

// ProposalMsg carries a leader's proposed block plus the SyncInfo it was
// built on top of, so a recipient can tell whether it needs to catch up
// before it can evaluate the proposal at all.
type ProposalMsg struct {
	_           struct{} `cbor:",toarray"`
	Block       *ctypes.BlockData
	LastRoundTC *ctypes.TimeoutCert // present iff Block.Round does not immediately follow Block.Qc's round
	SyncInfo    *ctypes.SyncInfo
	Signature   []byte
}

func (p *ProposalMsg) GetRound() uint64 {
	if p == nil {
		return 0
	}
	return p.Block.GetRound()
}

func (p *ProposalMsg) IsValid() error {
	if p == nil {
		return ErrProposalMsgIsNil
	}
	if p.Block == nil {
		return ctypes.ErrBlockIsNil
	}
	if p.Block.Qc == nil && p.Block.Round != ctypes.GenesisRound {
		return errors.New("proposal is missing parent quorum certificate")
	}
	if p.Block.GetParentRound()+1 != p.Block.Round && p.LastRoundTC == nil {
		return errors.New("proposal round does not follow parent round and carries no timeout certificate")
	}
	return nil
}

// Bytes is what a leader signs over a proposal: the block's own hash plus
// its author, so a forwarded proposal can't be re-attributed to a different
// leader in transit.
func (p *ProposalMsg) Bytes(hashAlgo crypto.Hash) ([]byte, error) {
	blockID, err := p.Block.Hash(hashAlgo)
	if err != nil {
		return nil, fmt.Errorf("hashing block: %w", err)
	}
	return append(blockID, []byte(p.Block.Author)...), nil
}

func (p *ProposalMsg) Sign(signer ccrypto.Signer) error {
	buf, err := p.Bytes(crypto.SHA256)
	if err != nil {
		return fmt.Errorf("building proposal signing bytes: %w", err)
	}
	sig, err := signer.SignBytes(buf)
	if err != nil {
		return fmt.Errorf("signing proposal: %w", err)
	}
	p.Signature = sig
	return nil
}

func (p *ProposalMsg) Verify(trustBase TrustBase) error {
	if err := p.IsValid(); err != nil {
		return fmt.Errorf("invalid proposal message: %w", err)
	}
	v, err := trustBase.Verifier(p.Block.Author)
	if err != nil {
		return fmt.Errorf("author '%s' is not part of the trust base: %w", p.Block.Author, err)
	}
	buf, err := p.Bytes(crypto.SHA256)
	if err != nil {
		return fmt.Errorf("building proposal signing bytes: %w", err)
	}
	if err := v.VerifyBytes(p.Signature, buf); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// VoteMsg carries a single validator's vote on a proposal, along with the
// SyncInfo reflecting the state that made the vote safe.
type VoteMsg struct {
	_        struct{} `cbor:",toarray"`
	Vote     *ctypes.Vote
	SyncInfo *ctypes.SyncInfo
}

func (v *VoteMsg) GetRound() uint64 {
	if v == nil {
		return 0
	}
	return v.Vote.GetRound()
}

func (v *VoteMsg) IsValid() error {
	if v == nil {
		return ErrVoteMsgIsNil
	}
	if v.Vote == nil {
		return errors.New("vote message is missing vote")
	}
	if v.Vote.Author == "" {
		return errors.New("vote is missing author")
	}
	if v.Vote.VoteInfo == nil {
		return errors.New("vote is missing vote info")
	}
	return nil
}

// TimeoutMsg carries a validator's timeout signature for a round that made
// no progress, plus the TC for the previous round if the validator's own
// HighQc is not already for that round (mirrors abdrc.TimeoutMsg exactly).
type TimeoutMsg struct {
	_         struct{} `cbor:",toarray"`
	Timeout   *ctypes.Timeout
	Author    ctypes.NodeID
	Signature []byte
	LastTC    *ctypes.TimeoutCert
	SyncInfo  *ctypes.SyncInfo
}

func NewTimeoutMsg(timeout *ctypes.Timeout, author ctypes.NodeID, lastTC *ctypes.TimeoutCert) *TimeoutMsg {
	return &TimeoutMsg{Timeout: timeout, Author: author, LastTC: lastTC}
}

func (t *TimeoutMsg) GetRound() uint64 {
	if t == nil {
		return 0
	}
	return t.Timeout.GetRound()
}

// Bytes is what gets signed: the round, epoch, HighQc round and author,
// matching abdrc.TimeoutMsg.Bytes' big-endian-uint64-triple-plus-author
// layout exactly so signatures stay interoperable with that wire format.
func (t *TimeoutMsg) Bytes() []byte {
	b := make([]byte, 0, 24+len(t.Author))
	b = appendUint64(b, t.Timeout.GetRound())
	b = appendUint64(b, t.Timeout.Epoch)
	b = appendUint64(b, t.Timeout.GetHqcRound())
	b = append(b, []byte(t.Author)...)
	return b
}

func appendUint64(b []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		b = append(b, byte(v>>(8*uint(i))))
	}
	return b
}

func (t *TimeoutMsg) IsValid() error {
	if t == nil {
		return ErrTimeoutMsgIsNil
	}
	if t.Timeout == nil {
		return errors.New("timeout message is missing timeout info")
	}
	if t.Timeout.HighQc == nil {
		return errors.New("timeout message is missing high QC")
	}
	if t.Author == "" {
		return errors.New("timeout message is missing author")
	}
	if t.Timeout.HighQc.GetRound()+1 != t.Timeout.Round && t.LastTC == nil {
		return errors.New("timeout is not for the round following its high QC and carries no last TC")
	}
	return nil
}

func (t *TimeoutMsg) Sign(signer ccrypto.Signer) error {
	if t.Author == "" {
		return fmt.Errorf("timeout validation failed, timeout message is missing author")
	}
	sig, err := signer.SignBytes(t.Bytes())
	if err != nil {
		return fmt.Errorf("signing timeout message: %w", err)
	}
	t.Signature = sig
	return nil
}

// TrustBase resolves a validator's current signature-verification key, as
// the validator set does not itself carry parsed Verifiers.
type TrustBase interface {
	Verifier(id ctypes.NodeID) (ccrypto.Verifier, error)
}

func (t *TimeoutMsg) Verify(trustBase TrustBase) error {
	if err := t.IsValid(); err != nil {
		return fmt.Errorf("invalid timeout message: %w", err)
	}
	v, err := trustBase.Verifier(t.Author)
	if err != nil {
		return fmt.Errorf("author '%s' is not part of the trust base: %w", t.Author, err)
	}
	if err := v.VerifyBytes(t.Signature, t.Bytes()); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	if t.LastTC != nil {
		if err := VerifyTC(t.LastTC, trustBase); err != nil {
			return fmt.Errorf("invalid last TC: %w", err)
		}
	}
	return nil
}

// VerifyTC checks every signature in tc against trustBase, requiring the
// combined signers to reconstruct the exact (round, epoch, hqcRound) triple
// each of them individually attested to.
func VerifyTC(tc *ctypes.TimeoutCert, trustBase TrustBase) error {
	if tc == nil || tc.Timeout == nil {
		return errors.New("timeout certificate is nil")
	}
	for id, sig := range tc.Signatures {
		v, err := trustBase.Verifier(id)
		if err != nil {
			return fmt.Errorf("author '%s' is not part of the trust base: %w", id, err)
		}
		bytesToVerify := bytesFromTimeoutVote(tc.Timeout, id, &sig)
		if err := v.VerifyBytes(sig.Signature, bytesToVerify); err != nil {
			return fmt.Errorf("timeout certificate signature verification failed: verify bytes failed: %w", err)
		}
	}
	return nil
}

// bytesFromTimeoutVote reconstructs what a single timeout-certificate
// signer actually signed: the round/epoch/author triple plus that signer's
// own reported HighQc round, mirroring abdrc's BytesFromTimeoutVote.
func bytesFromTimeoutVote(t *ctypes.Timeout, author ctypes.NodeID, vote *ctypes.TimeoutSignature) []byte {
	b := make([]byte, 0, 32+len(author))
	b = appendUint64(b, t.GetRound())
	b = appendUint64(b, t.Epoch)
	b = appendUint64(b, vote.HqcRound)
	b = append(b, []byte(author)...)
	return b
}
