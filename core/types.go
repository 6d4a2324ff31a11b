package core

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Address is a 20-byte account identity, derived from a secp256k1 public key
// the same way on both ledgers so that a signature recovered on either side
// names the same party.
type Address [20]byte

// ParseAddress decodes a hex address, with or without a 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("invalid address length: got %d bytes, want %d", len(b), len(a))
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the all-zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText renders the address as 0x-prefixed hex for JSON transport.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalBinary renders the raw 20 bytes, used by the CBOR codec so signed
// payloads stay compact and canonical.
func (a Address) MarshalBinary() ([]byte, error) {
	return a[:], nil
}

func (a *Address) UnmarshalBinary(data []byte) error {
	if len(data) != len(a) {
		return fmt.Errorf("invalid address length: got %d bytes, want %d", len(data), len(a))
	}
	copy(a[:], data)
	return nil
}

// SaleStatus is the lifecycle state of a sale.
type SaleStatus string

const (
	// SaleStatusActive accepts bids: the deadline has not passed.
	SaleStatusActive SaleStatus = "active"
	// SaleStatusExpired is past deadline, awaiting finalize.
	SaleStatusExpired SaleStatus = "expired"
	// SaleStatusFinalized is terminal; allocations have been recorded.
	SaleStatusFinalized SaleStatus = "finalized"
)

// Sale is a single token sale record on the confidential ledger.
type Sale struct {
	ID       uint64    `json:"id"`
	Issuer   Address   `json:"issuer"`
	Supply   uint64    `json:"supply"`
	Deadline time.Time `json:"deadline"`

	// PolicyHash is an opaque commitment to the scoring policy, stored only
	// for public auditability. The ledger never interprets it.
	PolicyHash []byte `json:"policy_hash"`

	Finalized bool `json:"finalized"`
}

// Status derives the lifecycle state from the deadline and the finalized flag.
// Finalized is terminal; there is no transition out of it.
func (s *Sale) Status(now time.Time) SaleStatus {
	switch {
	case s.Finalized:
		return SaleStatusFinalized
	case now.Before(s.Deadline):
		return SaleStatusActive
	default:
		return SaleStatusExpired
	}
}

// Bid is a sealed bid stored against a sale. One bid per (sale, bidder);
// resubmission replaces the record entirely.
type Bid struct {
	SaleID uint64  `json:"sale_id"`
	Bidder Address `json:"bidder"`

	// EncryptedPayload is ciphertext readable only by the scoring authority.
	// Contents (price, quantity, pitch, locale) are opaque to the ledger.
	EncryptedPayload []byte `json:"encrypted_payload"`

	// MaxAuthorizedSpend bounds the payment pull the bidder has pre-authorized.
	MaxAuthorizedSpend uint64 `json:"max_authorized_spend"`

	// PaymentAuthorization is the permit-style signature enabling a delegated
	// payment pull at settlement time.
	PaymentAuthorization []byte `json:"payment_authorization"`

	// Claimed flips to true when an allocation is recorded for this bid.
	// It never flips back.
	Claimed bool `json:"claimed"`
}

// SettlementEntry is one winner's slice of a settlement batch: how much asset
// they receive, how much payment is pulled, and the permit that authorizes
// the pull.
type SettlementEntry struct {
	Winner               Address `json:"winner"`
	AssetAmount          uint64  `json:"asset_amount"`
	PaymentAmount        uint64  `json:"payment_amount"`
	PaymentAuthorization []byte  `json:"payment_authorization"`
}
