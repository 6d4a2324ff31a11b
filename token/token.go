// Package token provides in-memory fungible ledgers with the allowance and
// permit semantics the settlement engine drives. They stand in for the asset
// and payment contracts on the public chain; a chain-backed implementation
// can replace them behind the settlement interfaces.
package token

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudx-io/sealedsale/core"
	"github.com/cloudx-io/sealedsale/validation"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidPermit         = errors.New("invalid payment permit")
)

// Ledger tracks balances, spender allowances, and permit nonces for one
// token. The instance address is part of every permit digest so a permit for
// one token cannot be replayed against another.
type Ledger struct {
	instance core.Address

	mu         sync.Mutex
	balances   map[core.Address]uint64
	allowances map[core.Address]map[core.Address]uint64
	nonces     map[core.Address]uint64
}

// NewLedger creates an empty token ledger with the given instance identity.
func NewLedger(instance core.Address) *Ledger {
	return &Ledger{
		instance:   instance,
		balances:   make(map[core.Address]uint64),
		allowances: make(map[core.Address]map[core.Address]uint64),
		nonces:     make(map[core.Address]uint64),
	}
}

// Instance returns the token's identity used in permit digests.
func (l *Ledger) Instance() core.Address {
	return l.instance
}

// Mint credits new supply to an account.
func (l *Ledger) Mint(to core.Address, amount uint64) {
	l.mu.Lock()
	l.balances[to] += amount
	l.mu.Unlock()
}

// BalanceOf returns the account balance.
func (l *Ledger) BalanceOf(a core.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[a]
}

// Allowance returns what spender may still pull from owner.
func (l *Ledger) Allowance(owner, spender core.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[owner][spender]
}

// Nonce returns the next permit nonce expected for owner.
func (l *Ledger) Nonce(owner core.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonces[owner]
}

// Approve sets spender's allowance from owner. This is the direct-call path
// an issuer uses to pre-approve the settlement engine for asset delivery.
func (l *Ledger) Approve(owner, spender core.Address, amount uint64) {
	l.mu.Lock()
	l.setAllowance(owner, spender, amount)
	l.mu.Unlock()
}

// Transfer moves tokens between accounts.
func (l *Ledger) Transfer(from, to core.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(from, to, amount)
}

// TransferFrom moves tokens from an account against spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to core.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowances[from][spender]
	if allowed < amount {
		return fmt.Errorf("%w: spender %s has %d of %d from %s", ErrInsufficientAllowance, spender, allowed, amount, from)
	}
	if err := l.transfer(from, to, amount); err != nil {
		return err
	}
	l.setAllowance(from, spender, allowed-amount)
	return nil
}

// Permit grants spender a one-time allowance of value from owner, authorized
// by owner's signature over PermitDigest at owner's current nonce. The nonce
// advances on success, so a permit can never be applied twice.
func (l *Ledger) Permit(owner, spender core.Address, value uint64, sig []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	digest := PermitDigest(l.instance, owner, spender, value, l.nonces[owner])
	signer, err := validation.RecoverAddress(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPermit, err)
	}
	if signer != owner {
		return fmt.Errorf("%w: signed by %s, not owner %s", ErrInvalidPermit, signer, owner)
	}

	l.nonces[owner]++
	l.setAllowance(owner, spender, value)
	return nil
}

// transfer and setAllowance assume the caller holds l.mu.

func (l *Ledger) transfer(from, to core.Address, amount uint64) error {
	if l.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d of %d", ErrInsufficientBalance, from, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

func (l *Ledger) setAllowance(owner, spender core.Address, amount uint64) {
	m := l.allowances[owner]
	if m == nil {
		m = make(map[core.Address]uint64)
		l.allowances[owner] = m
	}
	m[spender] = amount
}

// PermitDigest binds a permit to one token instance, owner, spender, value,
// and nonce: keccak256(token ‖ owner ‖ spender ‖ value ‖ nonce).
func PermitDigest(token, owner, spender core.Address, value, nonce uint64) [32]byte {
	var v, n [8]byte
	binary.BigEndian.PutUint64(v[:], value)
	binary.BigEndian.PutUint64(n[:], nonce)
	return core.Keccak256(token[:], owner[:], spender[:], v[:], n[:])
}

// SignPermit produces the owner-side permit signature. In the full system the
// submission client does this when preparing a bid; here it also backs tests.
func SignPermit(owner *validation.Signer, token, spender core.Address, value, nonce uint64) []byte {
	return owner.Sign(PermitDigest(token, owner.Address(), spender, value, nonce))
}
