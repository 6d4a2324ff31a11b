// Package saleapi defines the JSON request/response types the sale service
// speaks. Byte fields ride as base64 (encoding/json default for []byte);
// addresses as 0x-prefixed hex.
package saleapi

import (
	"github.com/cloudx-io/sealedsale/core"
	"github.com/cloudx-io/sealedsale/settlement"
)

// Request type tags. Every request carries one in its "type" field.
const (
	TypePing        = "ping"
	TypeCreateSale  = "create_sale"
	TypeSubmitBid   = "submit_bid"
	TypeFinalize    = "finalize"
	TypeBidOf       = "bid_of"
	TypeBatchSettle = "batch_settle"
)

// BaseRequest is decoded first to route on the request type.
type BaseRequest struct {
	Type string `json:"type"`
}

type CreateSaleRequest struct {
	Type       string       `json:"type"`
	Issuer     core.Address `json:"issuer"`
	Supply     uint64       `json:"supply"`
	Deadline   int64        `json:"deadline"` // unix seconds
	PolicyHash []byte       `json:"policy_hash,omitempty"`
}

type CreateSaleResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	SaleID  uint64 `json:"sale_id,omitempty"`
}

type SubmitBidRequest struct {
	Type               string       `json:"type"`
	SaleID             uint64       `json:"sale_id"`
	Bidder             core.Address `json:"bidder"`
	EncryptedPayload   []byte       `json:"encrypted_payload"`
	MaxAuthorizedSpend uint64       `json:"max_authorized_spend"`
	PaymentAuth        []byte       `json:"payment_authorization"`
}

type FinalizeRequest struct {
	Type      string `json:"type"`
	SaleID    uint64 `json:"sale_id"`
	Result    []byte `json:"result"`
	Signature []byte `json:"signature"`
}

type BidOfRequest struct {
	Type   string       `json:"type"`
	SaleID uint64       `json:"sale_id"`
	Bidder core.Address `json:"bidder"`
}

type BidOfResponse struct {
	Type    string    `json:"type"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Bid     *core.Bid `json:"bid,omitempty"`
}

type BatchSettleRequest struct {
	Type   string                 `json:"type"`
	Params settlement.BatchParams `json:"params"`
}

type BatchSettleResponse struct {
	Type    string                  `json:"type"`
	Success bool                    `json:"success"`
	Message string                  `json:"message,omitempty"`
	Report  *settlement.BatchReport `json:"report,omitempty"`
}

// StatusResponse answers requests with no richer payload (submit_bid,
// finalize, errors of any kind).
type StatusResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
