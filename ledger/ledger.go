// Package ledger owns sale records and sealed bid storage on the confidential
// side of the protocol. It never reads bid ciphertexts; it stores them, hands
// them to the scoring authority through views, and records the authority's
// signed verdict at finalize time.
package ledger

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cloudx-io/sealedsale/core"
	"github.com/cloudx-io/sealedsale/validation"
)

type bidKey struct {
	saleID uint64
	bidder core.Address
}

// SaleLedger serializes every operation behind one mutex, mirroring a ledger
// that executes transactions one at a time in total order. The finalized flag
// therefore guards against sequential replay, not concurrent races.
type SaleLedger struct {
	instance core.Address
	verifier *validation.Verifier
	clock    core.Clock
	events   *core.EventLog

	mu         sync.Mutex
	nextSaleID uint64
	sales      map[uint64]*core.Sale
	bids       map[bidKey]*core.Bid
}

// NewSaleLedger creates a ledger bound to an instance address (its deployment
// identity, part of every signed digest) and the authority allowed to
// finalize sales. A nil clock selects the wall clock.
func NewSaleLedger(instance, authority core.Address, clock core.Clock) *SaleLedger {
	if clock == nil {
		clock = core.DefaultClock
	}
	return &SaleLedger{
		instance:   instance,
		verifier:   validation.NewVerifier(authority),
		clock:      clock,
		events:     core.NewEventLog(clock),
		nextSaleID: 1,
		sales:      make(map[uint64]*core.Sale),
		bids:       make(map[bidKey]*core.Bid),
	}
}

// Instance returns the ledger's deployment identity.
func (l *SaleLedger) Instance() core.Address {
	return l.instance
}

// Events returns the ledger's journal.
func (l *SaleLedger) Events() *core.EventLog {
	return l.events
}

// CreateSale registers a new sale and returns its id. Sale ids are assigned
// from a monotonic counter and never reused.
func (l *SaleLedger) CreateSale(issuer core.Address, supply uint64, deadline time.Time, policyHash []byte) (uint64, error) {
	if supply == 0 {
		return 0, core.ErrZeroSupply
	}
	if !deadline.After(l.clock.Now()) {
		return 0, fmt.Errorf("%w: deadline %s", core.ErrPastDeadline, deadline.UTC().Format(time.RFC3339))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextSaleID
	l.nextSaleID++

	l.sales[id] = &core.Sale{
		ID:         id,
		Issuer:     issuer,
		Supply:     supply,
		Deadline:   deadline,
		PolicyHash: append([]byte(nil), policyHash...),
	}

	l.events.Append(&core.SaleCreated{SaleID: id, Issuer: issuer, Supply: supply})
	log.Printf("INFO: Sale %d created by %s, supply=%d, deadline=%s", id, issuer, supply, deadline.UTC().Format(time.RFC3339))
	return id, nil
}

// SubmitBid stores a sealed bid for the caller. A bidder's prior bid for the
// same sale is replaced entirely; the ledger keeps no history.
func (l *SaleLedger) SubmitBid(saleID uint64, bidder core.Address, encryptedPayload []byte, maxSpend uint64, paymentAuthorization []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sale, ok := l.sales[saleID]
	if !ok {
		return fmt.Errorf("%w: sale %d", core.ErrSaleNotFound, saleID)
	}
	if !l.clock.Now().Before(sale.Deadline) {
		return fmt.Errorf("%w: sale %d", core.ErrBiddingClosed, saleID)
	}

	l.bids[bidKey{saleID, bidder}] = &core.Bid{
		SaleID:               saleID,
		Bidder:               bidder,
		EncryptedPayload:     append([]byte(nil), encryptedPayload...),
		MaxAuthorizedSpend:   maxSpend,
		PaymentAuthorization: append([]byte(nil), paymentAuthorization...),
	}

	// Identity only: the payload never reaches the journal.
	l.events.Append(&core.BidSubmitted{SaleID: saleID, Bidder: bidder})
	log.Printf("INFO: Bid submitted for sale %d by %s (%d bytes sealed)", saleID, bidder, len(encryptedPayload))
	return nil
}

// Finalize records the authority's signed result: it marks every winner's bid
// claimed, decrements supply by the uniform per-winner amount, and sets the
// terminal finalized flag. The call leaves no partial state: signature,
// decode, and per-winner checks all pass before the first mutation.
func (l *SaleLedger) Finalize(saleID uint64, result []byte, authoritySig []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sale, ok := l.sales[saleID]
	if !ok {
		return fmt.Errorf("%w: sale %d", core.ErrSaleNotFound, saleID)
	}
	if sale.Finalized {
		return fmt.Errorf("%w: sale %d", core.ErrAlreadyFinalized, saleID)
	}
	if l.clock.Now().Before(sale.Deadline) {
		return fmt.Errorf("%w: sale %d closes at %s", core.ErrTooEarly, saleID, sale.Deadline.UTC().Format(time.RFC3339))
	}

	digest := core.ResultDigest(l.instance, saleID, result)
	if err := l.verifier.Verify(digest, authoritySig); err != nil {
		return err
	}

	decoded, err := core.DecodeResult(result)
	if err != nil {
		return err
	}

	// Integer division: the remainder is never allocated to anyone.
	amountPerWinner := sale.Supply / uint64(len(decoded.Winners))

	// Validate every winner before touching state.
	winnerBids := make([]*core.Bid, 0, len(decoded.Winners))
	seen := make(map[core.Address]bool, len(decoded.Winners))
	for _, winner := range decoded.Winners {
		bid, ok := l.bids[bidKey{saleID, winner}]
		if !ok {
			return fmt.Errorf("%w: winner %s has no recorded bid", core.ErrInvalidResult, winner)
		}
		if bid.Claimed || seen[winner] {
			return fmt.Errorf("%w: winner %s", core.ErrAlreadyClaimed, winner)
		}
		seen[winner] = true
		winnerBids = append(winnerBids, bid)
	}
	// Cannot trip given the division above; kept as a defensive guard on the
	// supply invariant.
	if amountPerWinner*uint64(len(decoded.Winners)) > sale.Supply {
		return fmt.Errorf("%w: sale %d", core.ErrInsufficientSupply, saleID)
	}

	for i, winner := range decoded.Winners {
		winnerBids[i].Claimed = true
		sale.Supply -= amountPerWinner
		l.events.Append(&core.TokensAllocated{SaleID: saleID, Winner: winner, Amount: amountPerWinner})
	}

	sale.Finalized = true
	l.events.Append(&core.SaleFinalized{
		SaleID:          saleID,
		ClearingPrice:   decoded.ClearingPrice,
		AmountPerWinner: amountPerWinner,
		WinnerCount:     len(decoded.Winners),
	})
	log.Printf("INFO: Sale %d finalized: %d winners, %d tokens each, clearing price %d",
		saleID, len(decoded.Winners), amountPerWinner, decoded.ClearingPrice)
	return nil
}

// Sale returns a copy of the sale record.
func (l *SaleLedger) Sale(saleID uint64) (core.Sale, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sale, ok := l.sales[saleID]
	if !ok {
		return core.Sale{}, fmt.Errorf("%w: sale %d", core.ErrSaleNotFound, saleID)
	}
	out := *sale
	out.PolicyHash = append([]byte(nil), sale.PolicyHash...)
	return out, nil
}

// BidOf returns a copy of the bidder's stored bid for a sale.
func (l *SaleLedger) BidOf(saleID uint64, bidder core.Address) (core.Bid, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sales[saleID]; !ok {
		return core.Bid{}, fmt.Errorf("%w: sale %d", core.ErrSaleNotFound, saleID)
	}
	bid, ok := l.bids[bidKey{saleID, bidder}]
	if !ok {
		return core.Bid{}, fmt.Errorf("%w: sale %d, bidder %s", core.ErrBidNotFound, saleID, bidder)
	}
	out := *bid
	out.EncryptedPayload = append([]byte(nil), bid.EncryptedPayload...)
	out.PaymentAuthorization = append([]byte(nil), bid.PaymentAuthorization...)
	return out, nil
}

// Status reports the sale's lifecycle state at the ledger's current time.
func (l *SaleLedger) Status(saleID uint64) (core.SaleStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sale, ok := l.sales[saleID]
	if !ok {
		return "", fmt.Errorf("%w: sale %d", core.ErrSaleNotFound, saleID)
	}
	return sale.Status(l.clock.Now()), nil
}
