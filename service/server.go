// Package service exposes the sale ledger and settlement engine over a
// connection-per-request JSON protocol. The production listener is vsock (the
// confidential ledger runs inside an enclave and talks to its host through
// it); tests inject any net.Listener.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/sealedsale/ledger"
	"github.com/cloudx-io/sealedsale/saleapi"
	"github.com/cloudx-io/sealedsale/settlement"
)

const readTimeout = 30 * time.Second

// Server routes sale requests to a ledger and an engine. Either may be nil
// when a deployment hosts only one side of the protocol.
type Server struct {
	port   uint32
	ledger *ledger.SaleLedger
	engine *settlement.Engine
}

// NewServer creates a server listening on the given vsock port.
func NewServer(port uint32, l *ledger.SaleLedger, e *settlement.Engine) *Server {
	return &Server{port: port, ledger: l, engine: e}
}

// Start listens on vsock and serves until the listener fails.
func (s *Server) Start() error {
	listener, err := vsock.Listen(s.port, nil)
	if err != nil {
		return fmt.Errorf("failed to create vsock listener: %w", err)
	}
	log.Printf("INFO: Sale service listening on vsock port %d", s.port)
	return s.Serve(listener)
}

// Serve accepts connections from the given listener with a bounded worker
// pool. Pool size comes from SALE_MAX_WORKERS; connections beyond it are
// rejected immediately rather than queued.
func (s *Server) Serve(listener net.Listener) error {
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	maxWorkers, err := getRequiredEnvInt("SALE_MAX_WORKERS")
	if err != nil {
		return fmt.Errorf("failed to get max workers config: %w", err)
	}
	semaphore := make(chan struct{}, maxWorkers)
	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", maxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	response := s.Handle(buf.Bytes())

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

// Handle decodes one raw request and returns the response value. Split from
// the connection plumbing so routing is testable without sockets.
func (s *Server) Handle(raw []byte) any {
	var base saleapi.BaseRequest
	if err := json.Unmarshal(raw, &base); err != nil {
		log.Printf("ERROR: Failed to decode base request: %v", err)
		return saleapi.StatusResponse{Type: "error", Message: fmt.Sprintf("failed to decode request: %v", err)}
	}

	log.Printf("INFO: Received request type: %s", base.Type)

	switch base.Type {
	case saleapi.TypePing:
		return map[string]any{
			"type":      "pong",
			"message":   "sale service is healthy",
			"timestamp": time.Now().Unix(),
		}
	case saleapi.TypeCreateSale:
		return s.handleCreateSale(raw)
	case saleapi.TypeSubmitBid:
		return s.handleSubmitBid(raw)
	case saleapi.TypeFinalize:
		return s.handleFinalize(raw)
	case saleapi.TypeBidOf:
		return s.handleBidOf(raw)
	case saleapi.TypeBatchSettle:
		return s.handleBatchSettle(raw)
	default:
		return saleapi.StatusResponse{Type: "error", Message: fmt.Sprintf("unknown request type: %s", base.Type)}
	}
}

func (s *Server) handleCreateSale(raw []byte) any {
	if s.ledger == nil {
		return saleapi.CreateSaleResponse{Type: "create_sale_response", Message: "sale ledger not hosted here"}
	}
	var req saleapi.CreateSaleRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return saleapi.CreateSaleResponse{Type: "create_sale_response", Message: fmt.Sprintf("failed to decode create_sale request: %v", err)}
	}
	saleID, err := s.ledger.CreateSale(req.Issuer, req.Supply, time.Unix(req.Deadline, 0), req.PolicyHash)
	if err != nil {
		return saleapi.CreateSaleResponse{Type: "create_sale_response", Message: err.Error()}
	}
	return saleapi.CreateSaleResponse{Type: "create_sale_response", Success: true, SaleID: saleID}
}

func (s *Server) handleSubmitBid(raw []byte) any {
	if s.ledger == nil {
		return saleapi.StatusResponse{Type: "submit_bid_response", Message: "sale ledger not hosted here"}
	}
	var req saleapi.SubmitBidRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return saleapi.StatusResponse{Type: "submit_bid_response", Message: fmt.Sprintf("failed to decode submit_bid request: %v", err)}
	}
	if err := s.ledger.SubmitBid(req.SaleID, req.Bidder, req.EncryptedPayload, req.MaxAuthorizedSpend, req.PaymentAuth); err != nil {
		return saleapi.StatusResponse{Type: "submit_bid_response", Message: err.Error()}
	}
	return saleapi.StatusResponse{Type: "submit_bid_response", Success: true}
}

func (s *Server) handleFinalize(raw []byte) any {
	if s.ledger == nil {
		return saleapi.StatusResponse{Type: "finalize_response", Message: "sale ledger not hosted here"}
	}
	var req saleapi.FinalizeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return saleapi.StatusResponse{Type: "finalize_response", Message: fmt.Sprintf("failed to decode finalize request: %v", err)}
	}
	if err := s.ledger.Finalize(req.SaleID, req.Result, req.Signature); err != nil {
		return saleapi.StatusResponse{Type: "finalize_response", Message: err.Error()}
	}
	return saleapi.StatusResponse{Type: "finalize_response", Success: true}
}

func (s *Server) handleBidOf(raw []byte) any {
	if s.ledger == nil {
		return saleapi.BidOfResponse{Type: "bid_of_response", Message: "sale ledger not hosted here"}
	}
	var req saleapi.BidOfRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return saleapi.BidOfResponse{Type: "bid_of_response", Message: fmt.Sprintf("failed to decode bid_of request: %v", err)}
	}
	bid, err := s.ledger.BidOf(req.SaleID, req.Bidder)
	if err != nil {
		return saleapi.BidOfResponse{Type: "bid_of_response", Message: err.Error()}
	}
	return saleapi.BidOfResponse{Type: "bid_of_response", Success: true, Bid: &bid}
}

func (s *Server) handleBatchSettle(raw []byte) any {
	if s.engine == nil {
		return saleapi.BatchSettleResponse{Type: "batch_settle_response", Message: "settlement engine not hosted here"}
	}
	var req saleapi.BatchSettleRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return saleapi.BatchSettleResponse{Type: "batch_settle_response", Message: fmt.Sprintf("failed to decode batch_settle request: %v", err)}
	}
	report, err := s.engine.BatchSettle(req.Params)
	if err != nil {
		return saleapi.BatchSettleResponse{Type: "batch_settle_response", Message: err.Error()}
	}
	return saleapi.BatchSettleResponse{Type: "batch_settle_response", Success: true, Report: report}
}

// getRequiredEnvInt parses a required integer environment variable.
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}
	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}
