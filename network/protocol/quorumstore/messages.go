// Package quorumstore holds the Quorum Store wire protocol (spec §4.4):
// batch dissemination, per-validator storage receipts, and the resulting
// availability proof, each carried independently of the round-state-
// machine's own proposal/vote/timeout messages.
//
// Grounded on network/protocol/rbft's message shape (struct-per-message,
// cbor toarray tags, a Bytes() signing layout, Sign/Verify pairs),
// generalized from the proposal/vote/timeout triple to the
// batch/receipt/proof triple spec §4.4 describes.
package quorumstore

import (
	"errors"
	"fmt"

	ccrypto "github.com/Galxe/gravity-sdk/consensus/crypto"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
	"github.com/Galxe/gravity-sdk/network/protocol/rbft"
	qstore "github.com/Galxe/gravity-sdk/quorumstore"
)

var (
	ErrBatchMsgIsNil    = errors.New("batch message is nil")
	ErrBatchAckMsgIsNil = errors.New("batch ack message is nil")
	ErrProofMsgIsNil    = errors.New("proof of store message is nil")
)

// BatchMsg disseminates a freshly-formed batch to the validator set so each
// recipient can buffer it and acknowledge storage (spec §4.4 step 1).
type BatchMsg struct {
	_         struct{} `cbor:",toarray"`
	Batch     *qstore.Batch
	Author    ctypes.NodeID
	Signature []byte
}

func (m *BatchMsg) IsValid() error {
	if m == nil {
		return ErrBatchMsgIsNil
	}
	if m.Batch == nil {
		return errors.New("batch message is missing batch")
	}
	if m.Author == "" {
		return errors.New("batch message is missing author")
	}
	return nil
}

// Bytes is what the disseminating author signs: the batch digest plus the
// claimed author, mirroring rbft.ProposalMsg.Bytes' blockID-plus-author
// layout.
func (m *BatchMsg) Bytes() []byte {
	return append(append([]byte{}, m.Batch.Digest...), []byte(m.Author)...)
}

func (m *BatchMsg) Sign(signer ccrypto.Signer) error {
	sig, err := signer.SignBytes(m.Bytes())
	if err != nil {
		return fmt.Errorf("signing batch message: %w", err)
	}
	m.Signature = sig
	return nil
}

func (m *BatchMsg) Verify(trustBase rbft.TrustBase) error {
	if err := m.IsValid(); err != nil {
		return fmt.Errorf("invalid batch message: %w", err)
	}
	v, err := trustBase.Verifier(m.Author)
	if err != nil {
		return fmt.Errorf("author '%s' is not part of the trust base: %w", m.Author, err)
	}
	if err := v.VerifyBytes(m.Signature, m.Bytes()); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// BatchAckMsg is a single validator's receipt acknowledging it has stored a
// batch (spec §4.4 step 2); once 2f+1 of these accumulate for one digest
// they become that batch's Proof of Availability.
type BatchAckMsg struct {
	_         struct{} `cbor:",toarray"`
	Digest    []byte
	Signer    ctypes.NodeID
	Signature []byte
}

func (m *BatchAckMsg) IsValid() error {
	if m == nil {
		return ErrBatchAckMsgIsNil
	}
	if len(m.Digest) == 0 {
		return errors.New("batch ack is missing digest")
	}
	if m.Signer == "" {
		return errors.New("batch ack is missing signer")
	}
	return nil
}

// Bytes is what a storing validator signs: just the digest it is
// acknowledging, the same layout AddReceipt's signature is later checked
// against inside a formed ProofOfAvailability.
func (m *BatchAckMsg) Bytes() []byte { return append([]byte{}, m.Digest...) }

func (m *BatchAckMsg) Sign(signer ccrypto.Signer) error {
	sig, err := signer.SignBytes(m.Bytes())
	if err != nil {
		return fmt.Errorf("signing batch ack: %w", err)
	}
	m.Signature = sig
	return nil
}

func (m *BatchAckMsg) Verify(trustBase rbft.TrustBase) error {
	if err := m.IsValid(); err != nil {
		return fmt.Errorf("invalid batch ack: %w", err)
	}
	v, err := trustBase.Verifier(m.Signer)
	if err != nil {
		return fmt.Errorf("signer '%s' is not part of the trust base: %w", m.Signer, err)
	}
	if err := v.VerifyBytes(m.Signature, m.Bytes()); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// ProofOfStoreMsg broadcasts a batch's newly-formed availability proof
// (spec §4.4 step 3) so every validator, not only the one that formed it,
// can reference the batch from a proposal it leads.
type ProofOfStoreMsg struct {
	_     struct{} `cbor:",toarray"`
	Proof *ctypes.ProofOfAvailability
}

func (m *ProofOfStoreMsg) IsValid() error {
	if m == nil {
		return ErrProofMsgIsNil
	}
	if m.Proof == nil {
		return errors.New("proof of store message is missing proof")
	}
	if len(m.Proof.Signatures) == 0 {
		return errors.New("proof of store message carries no signatures")
	}
	return nil
}

// VerifyProofOfStore checks every signature named in proof against
// trustBase, requiring each signer to have actually signed the batch
// digest it is vouching for. Mirrors rbft.VerifyTC's per-signer loop.
func VerifyProofOfStore(proof *ctypes.ProofOfAvailability, trustBase rbft.TrustBase) error {
	if proof == nil {
		return errors.New("proof of availability is nil")
	}
	for id, sig := range proof.Signatures {
		v, err := trustBase.Verifier(id)
		if err != nil {
			return fmt.Errorf("author '%s' is not part of the trust base: %w", id, err)
		}
		if err := v.VerifyBytes(sig, proof.BatchDigest); err != nil {
			return fmt.Errorf("proof of store signature verification failed: %w", err)
		}
	}
	return nil
}
