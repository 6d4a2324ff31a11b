package core

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of the given chunks with Keccak-256.
func Keccak256(chunks ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ResultDigest is the digest the authority signs to finalize a sale:
// keccak256(instance ‖ saleID ‖ result). Binding the ledger instance and the
// sale id prevents replaying a signed result against a different sale or a
// different deployment.
func ResultDigest(instance Address, saleID uint64, result []byte) [32]byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], saleID)
	return Keccak256(instance[:], id[:], result)
}

// BatchDigest is the digest the authority signs over a settlement batch:
// keccak256(instance ‖ saleID ‖ packed entries). The full ordered entry list
// is packed in, so the signature commits to exact winners and amounts, not
// just a count.
func BatchDigest(instance Address, saleID uint64, entries []SettlementEntry) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(instance[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], saleID)
	h.Write(buf[:])

	for _, e := range entries {
		h.Write(e.Winner[:])
		binary.BigEndian.PutUint64(buf[:], e.AssetAmount)
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], e.PaymentAmount)
		h.Write(buf[:])
		// Length-prefix the variable-size authorization so adjacent entries
		// cannot be reinterpreted across boundaries.
		binary.BigEndian.PutUint64(buf[:], uint64(len(e.PaymentAuthorization)))
		h.Write(buf[:])
		h.Write(e.PaymentAuthorization)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
