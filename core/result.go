package core

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// AuthorityResult is the scoring authority's verdict for a sale: the uniform
// clearing price and the ordered winner list. It travels as canonical CBOR so
// the signed bytes are identical for producer and verifier.
type AuthorityResult struct {
	ClearingPrice uint64    `cbor:"clearing_price" json:"clearing_price"`
	Winners       []Address `cbor:"winners" json:"winners"`
}

var resultEncMode cbor.EncMode

func init() {
	var err error
	resultEncMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor canonical encode mode: %v", err))
	}
}

// Encode renders the result as canonical CBOR, the byte form the authority
// signs and Finalize verifies.
func (r AuthorityResult) Encode() ([]byte, error) {
	b, err := resultEncMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode authority result: %w", err)
	}
	return b, nil
}

// DecodeResult parses signed result bytes. A result with no winners is never
// produced by the authority and is rejected outright.
func DecodeResult(data []byte) (*AuthorityResult, error) {
	var r AuthorityResult
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	if len(r.Winners) == 0 {
		return nil, fmt.Errorf("%w: empty winner list", ErrInvalidResult)
	}
	return &r, nil
}
