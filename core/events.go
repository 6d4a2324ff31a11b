package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventMeta is stamped onto every journal record at append time.
type EventMeta struct {
	EventID string    `json:"event_id"`
	At      time.Time `json:"at"`
}

func (m *EventMeta) meta() *EventMeta { return m }

// Event is a record appended to a component's journal. All concrete events
// embed EventMeta and are appended as pointers.
type Event interface {
	meta() *EventMeta
}

// SaleCreated records a new sale. Emitted by CreateSale.
type SaleCreated struct {
	EventMeta
	SaleID uint64  `json:"sale_id"`
	Issuer Address `json:"issuer"`
	Supply uint64  `json:"supply"`
}

// BidSubmitted records a bid by identity only. The encrypted payload is
// deliberately absent: the journal must never leak bid contents.
type BidSubmitted struct {
	EventMeta
	SaleID uint64  `json:"sale_id"`
	Bidder Address `json:"bidder"`
}

// TokensAllocated records one winner's allocation during finalize.
type TokensAllocated struct {
	EventMeta
	SaleID uint64  `json:"sale_id"`
	Winner Address `json:"winner"`
	Amount uint64  `json:"amount"`
}

// SaleFinalized records the terminal transition of a sale.
type SaleFinalized struct {
	EventMeta
	SaleID          uint64 `json:"sale_id"`
	ClearingPrice   uint64 `json:"clearing_price"`
	AmountPerWinner uint64 `json:"amount_per_winner"`
	WinnerCount     int    `json:"winner_count"`
}

// SettlementFailed records a single batch entry that could not settle.
// The rest of the batch is unaffected.
type SettlementFailed struct {
	EventMeta
	SaleID      uint64  `json:"sale_id"`
	Winner      Address `json:"winner"`
	AssetAmount uint64  `json:"asset_amount"`
	Reason      string  `json:"reason"`
}

// BatchSettled is the aggregate record emitted after every entry of a batch
// has been attempted.
type BatchSettled struct {
	EventMeta
	SaleID       uint64 `json:"sale_id"`
	SuccessCount int    `json:"success_count"`
	TotalAsset   uint64 `json:"total_asset"`
	TotalPayment uint64 `json:"total_payment"`
}

// EventLog is an append-only journal. Each component (sale ledger, settlement
// engine) owns one; monitors read it through Events.
type EventLog struct {
	clock Clock

	mu     sync.Mutex
	events []Event
}

// NewEventLog creates an empty journal. A nil clock selects the wall clock.
func NewEventLog(clock Clock) *EventLog {
	if clock == nil {
		clock = DefaultClock
	}
	return &EventLog{clock: clock}
}

// Append stamps the event with a fresh id and timestamp and appends it.
func (l *EventLog) Append(e Event) {
	m := e.meta()
	m.EventID = uuid.NewString()
	m.At = l.clock.Now()

	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

// Events returns a snapshot of the journal in append order.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
