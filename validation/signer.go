package validation

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/cloudx-io/sealedsale/core"
)

// Signer is the producer side of the signature scheme: a secp256k1 key whose
// compact signatures RecoverAddress maps back to Address(). The off-chain
// authority signs results and batches with one of these; bidders sign payment
// permits the same way.
type Signer struct {
	key *secp256k1.PrivateKey
}

// NewSigner wraps an existing private key.
func NewSigner(key *secp256k1.PrivateKey) *Signer {
	return &Signer{key: key}
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// SignerFromBytes derives a signer from 32 raw key bytes.
func SignerFromBytes(b []byte) *Signer {
	return &Signer{key: secp256k1.PrivKeyFromBytes(b)}
}

// Address returns the account address recovered from this signer's signatures.
func (s *Signer) Address() core.Address {
	return AddressOf(s.key.PubKey())
}

// Sign produces a 65-byte compact signature over the digest.
func (s *Signer) Sign(digest [32]byte) []byte {
	return ecdsa.SignCompact(s.key, digest[:], false)
}
