// Package settlement executes signed settlement batches on the public ledger
// pair: for each winner it applies the payment permit, pulls payment to the
// issuer, and delivers the asset allocation. One entry failing must not block
// the rest of the batch, and a failed entry must move nothing.
package settlement

import (
	"fmt"
	"log"
	"sync"

	"github.com/cloudx-io/sealedsale/core"
	"github.com/cloudx-io/sealedsale/validation"
)

// AssetLedger is the token holding the sellable asset. The issuer pre-approves
// the engine, which delivers allocations with TransferFrom.
type AssetLedger interface {
	Instance() core.Address
	BalanceOf(a core.Address) uint64
	Allowance(owner, spender core.Address) uint64
	TransferFrom(spender, from, to core.Address, amount uint64) error
}

// PaymentLedger is the token payment is pulled in. Winners authorize the pull
// with permit signatures collected off-chain.
type PaymentLedger interface {
	AssetLedger
	Permit(owner, spender core.Address, value uint64, sig []byte) error
}

// BatchParams is a signed settlement batch compiled by the authority (or any
// relayer: the signature, not the caller, is the security boundary). The two
// contract fields name the tokens the batch expects to move on; the engine
// rejects a batch naming tokens other than the ones it was deployed against.
type BatchParams struct {
	SaleID          uint64                 `json:"sale_id"`
	Issuer          core.Address           `json:"issuer"`
	AssetContract   core.Address           `json:"asset_contract"`
	PaymentContract core.Address           `json:"payment_contract"`
	Entries         []core.SettlementEntry `json:"entries"`
	Signature       []byte                 `json:"signature"`
}

// EntryFailure describes one entry that did not settle.
type EntryFailure struct {
	Winner      core.Address `json:"winner"`
	AssetAmount uint64       `json:"asset_amount"`
	Reason      string       `json:"reason"`
}

// BatchReport aggregates the outcome of one batch.
type BatchReport struct {
	SaleID       uint64         `json:"sale_id"`
	SuccessCount int            `json:"success_count"`
	TotalAsset   uint64         `json:"total_asset"`
	TotalPayment uint64         `json:"total_payment"`
	Failures     []EntryFailure `json:"failures,omitempty"`
}

// Engine settles batches against one asset ledger and one payment ledger,
// wired at construction the way a settlement contract is deployed against
// fixed token addresses.
type Engine struct {
	instance core.Address
	verifier *validation.Verifier
	asset    AssetLedger
	payment  PaymentLedger
	events   *core.EventLog

	mu        sync.Mutex
	processed map[uint64]bool
}

// NewEngine creates an engine bound to its instance address, the authority
// whose batch signatures it accepts, and the two token ledgers it moves value
// on. A nil clock selects the wall clock for journal timestamps.
func NewEngine(instance, authority core.Address, asset AssetLedger, payment PaymentLedger, clock core.Clock) *Engine {
	return &Engine{
		instance:  instance,
		verifier:  validation.NewVerifier(authority),
		asset:     asset,
		payment:   payment,
		events:    core.NewEventLog(clock),
		processed: make(map[uint64]bool),
	}
}

// Instance returns the engine's deployment identity. Winners' payment permits
// must name it as spender.
func (e *Engine) Instance() core.Address {
	return e.instance
}

// Events returns the engine's journal.
func (e *Engine) Events() *core.EventLog {
	return e.events
}

// Processed reports whether a sale has already been batch-settled.
func (e *Engine) Processed(saleID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processed[saleID]
}

// BatchSettle verifies the batch signature and attempts every entry
// independently. The sale is marked processed immediately after verification,
// before any entry runs: the at-most-once guarantee must hold even if every
// entry fails, and a sale can never be resubmitted.
func (e *Engine) BatchSettle(params BatchParams) (*BatchReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.processed[params.SaleID] {
		return nil, fmt.Errorf("%w: sale %d", core.ErrAlreadyProcessed, params.SaleID)
	}
	if len(params.Entries) == 0 {
		return nil, fmt.Errorf("%w: sale %d", core.ErrEmptyBatch, params.SaleID)
	}
	if params.AssetContract != e.asset.Instance() {
		return nil, fmt.Errorf("%w: asset %s, engine settles on %s", core.ErrContractMismatch, params.AssetContract, e.asset.Instance())
	}
	if params.PaymentContract != e.payment.Instance() {
		return nil, fmt.Errorf("%w: payment %s, engine settles on %s", core.ErrContractMismatch, params.PaymentContract, e.payment.Instance())
	}

	digest := core.BatchDigest(e.instance, params.SaleID, params.Entries)
	if err := e.verifier.Verify(digest, params.Signature); err != nil {
		return nil, err
	}

	e.processed[params.SaleID] = true

	report := &BatchReport{SaleID: params.SaleID}
	for _, entry := range params.Entries {
		if err := e.settleEntry(params.Issuer, entry); err != nil {
			log.Printf("INFO: Settlement entry failed for sale %d, winner %s: %v", params.SaleID, entry.Winner, err)
			report.Failures = append(report.Failures, EntryFailure{
				Winner:      entry.Winner,
				AssetAmount: entry.AssetAmount,
				Reason:      err.Error(),
			})
			e.events.Append(&core.SettlementFailed{
				SaleID:      params.SaleID,
				Winner:      entry.Winner,
				AssetAmount: entry.AssetAmount,
				Reason:      err.Error(),
			})
			continue
		}
		report.SuccessCount++
		report.TotalAsset += entry.AssetAmount
		report.TotalPayment += entry.PaymentAmount
	}

	e.events.Append(&core.BatchSettled{
		SaleID:       params.SaleID,
		SuccessCount: report.SuccessCount,
		TotalAsset:   report.TotalAsset,
		TotalPayment: report.TotalPayment,
	})
	log.Printf("INFO: Batch settled for sale %d: %d/%d entries, asset=%d, payment=%d",
		params.SaleID, report.SuccessCount, len(params.Entries), report.TotalAsset, report.TotalPayment)
	return report, nil
}

// settleEntry runs one winner's three-step settlement: permit, payment pull,
// asset delivery. Both transfers are validated before either executes, so any
// failure (bad permit, balance, allowance) leaves balances untouched. A permit
// applied before a later check fails leaves only an unused allowance to the
// engine, which nothing can spend outside this call.
func (e *Engine) settleEntry(issuer core.Address, entry core.SettlementEntry) error {
	if err := e.payment.Permit(entry.Winner, e.instance, entry.PaymentAmount, entry.PaymentAuthorization); err != nil {
		return fmt.Errorf("payment authorization: %w", err)
	}

	if bal := e.payment.BalanceOf(entry.Winner); bal < entry.PaymentAmount {
		return fmt.Errorf("payment balance: winner %s has %d of %d", entry.Winner, bal, entry.PaymentAmount)
	}
	if allowed := e.payment.Allowance(entry.Winner, e.instance); allowed < entry.PaymentAmount {
		return fmt.Errorf("payment allowance: %d of %d authorized", allowed, entry.PaymentAmount)
	}
	if bal := e.asset.BalanceOf(issuer); bal < entry.AssetAmount {
		return fmt.Errorf("asset balance: issuer %s has %d of %d", issuer, bal, entry.AssetAmount)
	}
	if allowed := e.asset.Allowance(issuer, e.instance); allowed < entry.AssetAmount {
		return fmt.Errorf("asset allowance: %d of %d approved", allowed, entry.AssetAmount)
	}

	// Both transfers are covered by the checks above and the engine holds its
	// lock for the whole batch, so neither can fail here.
	if err := e.payment.TransferFrom(e.instance, entry.Winner, issuer, entry.PaymentAmount); err != nil {
		return fmt.Errorf("payment pull: %w", err)
	}
	if err := e.asset.TransferFrom(e.instance, issuer, entry.Winner, entry.AssetAmount); err != nil {
		return fmt.Errorf("asset delivery: %w", err)
	}
	return nil
}
