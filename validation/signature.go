// Package validation implements the trust anchor of the sale protocol: it
// recovers compact ECDSA signatures to addresses and checks them against the
// authority configured at construction. Everything downstream of a passing
// Verify assumes the authority correctly scored the bids; that correctness is
// outside this module.
package validation

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/cloudx-io/sealedsale/core"
)

// compactSigLen is header byte + r (32) + s (32).
const compactSigLen = 65

// AddressOf derives the account address for a public key: the last 20 bytes
// of keccak256 over the uncompressed point, prefix byte stripped.
func AddressOf(pub *secp256k1.PublicKey) core.Address {
	h := core.Keccak256(pub.SerializeUncompressed()[1:])
	var a core.Address
	copy(a[:], h[12:])
	return a
}

// RecoverAddress recovers the signer address from a compact signature over
// the given digest. Failures surface as core.ErrInvalidSignature.
func RecoverAddress(digest [32]byte, sig []byte) (core.Address, error) {
	if len(sig) != compactSigLen {
		return core.Address{}, fmt.Errorf("%w: signature is %d bytes, want %d", core.ErrInvalidSignature, len(sig), compactSigLen)
	}
	pub, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return core.Address{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	return AddressOf(pub), nil
}

// Verifier checks signatures against a single authority address fixed at
// construction. It holds no other state and never mutates anything.
type Verifier struct {
	authority core.Address
}

// NewVerifier creates a verifier bound to the given authority address.
func NewVerifier(authority core.Address) *Verifier {
	return &Verifier{authority: authority}
}

// Authority returns the configured authority address.
func (v *Verifier) Authority() core.Address {
	return v.authority
}

// Verify recovers the signer of sig over digest and compares it against the
// authority. A recovery failure and a mismatched signer are the same error:
// the artifact is not trusted.
func (v *Verifier) Verify(digest [32]byte, sig []byte) error {
	signer, err := RecoverAddress(digest, sig)
	if err != nil {
		return err
	}
	if signer != v.authority {
		return fmt.Errorf("%w: recovered %s, want %s", core.ErrInvalidSignature, signer, v.authority)
	}
	return nil
}
