package rbft

import (
	"fmt"

	ccrypto "github.com/Galxe/gravity-sdk/consensus/crypto"
	ctypes "github.com/Galxe/gravity-sdk/consensus/types"
)

// StaticTrustBase is a TrustBase over a fixed node-id-to-verifier mapping,
// grounded on the teacher's testtb.NewTrustBaseFromVerifiers test fixture,
// generalized into the non-test default since this pack carries no
// production trust-base library of its own.
type StaticTrustBase struct {
	verifiers map[ctypes.NodeID]ccrypto.Verifier
}

func NewStaticTrustBase(verifiers map[ctypes.NodeID]ccrypto.Verifier) *StaticTrustBase {
	return &StaticTrustBase{verifiers: verifiers}
}

func (tb *StaticTrustBase) Verifier(id ctypes.NodeID) (ccrypto.Verifier, error) {
	v, ok := tb.verifiers[id]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", id)
	}
	return v, nil
}
