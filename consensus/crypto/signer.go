// Package crypto provides the Signer/Verifier capability consumed by Safety
// Rules and the Block Store for authenticating votes, proposals, timeouts
// and quorum certificates.
//
// The teacher repository gets this from its own alphabill-go-base/crypto
// module (a secp256k1 signer that isn't part of the third-party stack
// reachable from this pack). We keep the same Signer/Verifier split but back
// it with the standard library's ed25519 implementation, since no
// general-purpose third-party signature package is reachable from the
// example pack for this concern.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

type (
	Signer interface {
		SignBytes(data []byte) ([]byte, error)
		Verifier() (Verifier, error)
	}

	Verifier interface {
		VerifyBytes(sig, data []byte) error
		MarshalPublicKey() ([]byte, error)
	}

	inMemoryEd25519Signer struct {
		priv ed25519.PrivateKey
	}

	ed25519Verifier struct {
		pub ed25519.PublicKey
	}
)

var (
	ErrSignerIsNil       = errors.New("signer is nil")
	ErrVerifierIsNil     = errors.New("verifier is nil")
	ErrInvalidPubKeySize = errors.New("invalid public key size")
)

// NewInMemorySigner generates a fresh ed25519 key pair held in memory. It is
// the default used by tests and by nodes that keep Safety Rules in-process.
func NewInMemorySigner() (Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return &inMemoryEd25519Signer{priv: priv}, nil
}

// NewSignerFromKey wraps a previously persisted private key, e.g. loaded
// from a keystore file outside this package's scope.
func NewSignerFromKey(priv ed25519.PrivateKey) (Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size %d", len(priv))
	}
	return &inMemoryEd25519Signer{priv: priv}, nil
}

func (s *inMemoryEd25519Signer) SignBytes(data []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrSignerIsNil
	}
	return ed25519.Sign(s.priv, data), nil
}

func (s *inMemoryEd25519Signer) Verifier() (Verifier, error) {
	if s == nil {
		return nil, ErrSignerIsNil
	}
	pub, ok := s.priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("unexpected public key type")
	}
	return &ed25519Verifier{pub: pub}, nil
}

// NewVerifierFromPublicKey constructs a Verifier from a raw ed25519 public
// key, as carried in ValidatorInfo.PubKey.
func NewVerifierFromPublicKey(pub []byte) (Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKeySize
	}
	return &ed25519Verifier{pub: ed25519.PublicKey(pub)}, nil
}

func (v *ed25519Verifier) VerifyBytes(sig, data []byte) error {
	if v == nil {
		return ErrVerifierIsNil
	}
	if !ed25519.Verify(v.pub, data, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

func (v *ed25519Verifier) MarshalPublicKey() ([]byte, error) {
	if v == nil {
		return nil, ErrVerifierIsNil
	}
	return []byte(v.pub), nil
}
