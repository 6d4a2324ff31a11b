// Package authority carries the collaborator side of the protocol that the
// core contracts with: producing signed results for finalize, and compiling
// signed settlement batches from recorded allocations. How the authority
// decrypts and scores bids is its own business and lives elsewhere.
package authority

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/sealedsale/core"
	"github.com/cloudx-io/sealedsale/validation"
)

// SignResult encodes a result and signs it for one sale on one ledger
// instance. The returned bytes and signature are what Finalize expects.
func SignResult(signer *validation.Signer, ledgerInstance core.Address, saleID uint64, result core.AuthorityResult) ([]byte, []byte, error) {
	resultBytes, err := result.Encode()
	if err != nil {
		return nil, nil, err
	}
	sig := signer.Sign(core.ResultDigest(ledgerInstance, saleID, resultBytes))
	return resultBytes, sig, nil
}

// Allocation is one winner's recorded asset amount, as read from the ledger's
// TokensAllocated events.
type Allocation struct {
	Winner core.Address
	Amount uint64
}

// BuildEntries compiles an ordered settlement list from allocations and the
// clearing price, attaching each winner's fresh payment permit. The price is
// in payment units per asset unit and may be fractional; each payment amount
// is the allocation times the price, truncated to whole payment units.
func BuildEntries(allocs []Allocation, clearingPrice decimal.Decimal, permits map[core.Address][]byte) ([]core.SettlementEntry, error) {
	if clearingPrice.IsNegative() {
		return nil, fmt.Errorf("negative clearing price %s", clearingPrice)
	}

	entries := make([]core.SettlementEntry, 0, len(allocs))
	for _, a := range allocs {
		payment := decimal.NewFromUint64(a.Amount).Mul(clearingPrice).Floor()
		if payment.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
			return nil, fmt.Errorf("payment for %s overflows: %s", a.Winner, payment)
		}
		entries = append(entries, core.SettlementEntry{
			Winner:               a.Winner,
			AssetAmount:          a.Amount,
			PaymentAmount:        payment.BigInt().Uint64(),
			PaymentAuthorization: append([]byte(nil), permits[a.Winner]...),
		})
	}
	return entries, nil
}

// SignBatch signs a compiled entry list for one sale on one settlement engine
// instance, yielding the batch signature BatchSettle verifies.
func SignBatch(signer *validation.Signer, engineInstance core.Address, saleID uint64, entries []core.SettlementEntry) []byte {
	return signer.Sign(core.BatchDigest(engineInstance, saleID, entries))
}
