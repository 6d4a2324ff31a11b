package settlement

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/sealedsale/core"
	"github.com/cloudx-io/sealedsale/token"
	"github.com/cloudx-io/sealedsale/validation"
)

func addr(b byte) core.Address {
	var a core.Address
	for i := range a {
		a[i] = b
	}
	return a
}

type engineFixture struct {
	engine    *Engine
	asset     *token.Ledger
	payment   *token.Ledger
	authority *validation.Signer
	issuer    core.Address
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	authority, err := validation.GenerateSigner()
	assert.NoError(t, err)

	asset := token.NewLedger(addr(0xa0))
	payment := token.NewLedger(addr(0xb0))
	instance := addr(0xc0)
	return &engineFixture{
		engine:    NewEngine(instance, authority.Address(), asset, payment, nil),
		asset:     asset,
		payment:   payment,
		authority: authority,
		issuer:    addr(0x01),
	}
}

// fundIssuer mints the asset supply to the issuer and approves the engine.
func (f *engineFixture) fundIssuer(amount uint64) {
	f.asset.Mint(f.issuer, amount)
	f.asset.Approve(f.issuer, f.engine.Instance(), amount)
}

// fundWinner creates a signing winner with a payment balance and a valid
// permit for the given payment amount.
func (f *engineFixture) fundWinner(t *testing.T, balance, payment uint64) (*validation.Signer, core.SettlementEntry) {
	t.Helper()
	winner, err := validation.GenerateSigner()
	assert.NoError(t, err)
	f.payment.Mint(winner.Address(), balance)
	permit := token.SignPermit(winner, f.payment.Instance(), f.engine.Instance(), payment, f.payment.Nonce(winner.Address()))
	return winner, core.SettlementEntry{
		Winner:               winner.Address(),
		PaymentAmount:        payment,
		PaymentAuthorization: permit,
	}
}

func (f *engineFixture) sign(saleID uint64, entries []core.SettlementEntry) []byte {
	return f.authority.Sign(core.BatchDigest(f.engine.Instance(), saleID, entries))
}

// params assembles an authority-signed batch against the fixture's ledgers.
func (f *engineFixture) params(saleID uint64, entries []core.SettlementEntry) BatchParams {
	return BatchParams{
		SaleID:          saleID,
		Issuer:          f.issuer,
		AssetContract:   f.asset.Instance(),
		PaymentContract: f.payment.Instance(),
		Entries:         entries,
		Signature:       f.sign(saleID, entries),
	}
}

func TestBatchSettle_SingleEntry(t *testing.T) {
	f := newEngineFixture(t)
	f.fundIssuer(1000)
	_, entry := f.fundWinner(t, 5000, 4000)
	entry.AssetAmount = 1000

	report, err := f.engine.BatchSettle(f.params(1, []core.SettlementEntry{entry}))
	check.NoError(t, err)
	check.Equal(t, 1, report.SuccessCount)
	check.Equal(t, uint64(1000), report.TotalAsset)
	check.Equal(t, uint64(4000), report.TotalPayment)
	check.Equal(t, 0, len(report.Failures))

	check.Equal(t, uint64(1000), f.asset.BalanceOf(entry.Winner))
	check.Equal(t, uint64(0), f.asset.BalanceOf(f.issuer))
	check.Equal(t, uint64(4000), f.payment.BalanceOf(f.issuer))
	check.Equal(t, uint64(1000), f.payment.BalanceOf(entry.Winner))
	check.True(t, f.engine.Processed(1))
}

func TestBatchSettle_EmptyBatch(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.BatchSettle(f.params(1, nil))
	check.True(t, errors.Is(err, core.ErrEmptyBatch))
	check.False(t, f.engine.Processed(1))
}

func TestBatchSettle_RejectsWrongContracts(t *testing.T) {
	f := newEngineFixture(t)
	f.fundIssuer(1000)
	_, entry := f.fundWinner(t, 5000, 4000)
	entry.AssetAmount = 1000

	params := f.params(1, []core.SettlementEntry{entry})
	params.AssetContract = addr(0x77)
	_, err := f.engine.BatchSettle(params)
	check.True(t, errors.Is(err, core.ErrContractMismatch))

	params = f.params(1, []core.SettlementEntry{entry})
	params.PaymentContract = addr(0x77)
	_, err = f.engine.BatchSettle(params)
	check.True(t, errors.Is(err, core.ErrContractMismatch))
	check.False(t, f.engine.Processed(1))
}

func TestBatchSettle_RejectsBadSignature(t *testing.T) {
	f := newEngineFixture(t)
	f.fundIssuer(1000)
	_, entry := f.fundWinner(t, 5000, 4000)
	entry.AssetAmount = 1000

	imposter, err := validation.GenerateSigner()
	assert.NoError(t, err)
	params := f.params(1, []core.SettlementEntry{entry})
	params.Signature = imposter.Sign(core.BatchDigest(f.engine.Instance(), 1, params.Entries))

	_, err = f.engine.BatchSettle(params)
	check.True(t, errors.Is(err, core.ErrInvalidSignature))
	check.False(t, f.engine.Processed(1))
	check.Equal(t, uint64(0), f.asset.BalanceOf(entry.Winner))
}

func TestBatchSettle_RejectsTamperedEntries(t *testing.T) {
	f := newEngineFixture(t)
	f.fundIssuer(1000)
	_, entry := f.fundWinner(t, 5000, 4000)
	entry.AssetAmount = 500
	params := f.params(1, []core.SettlementEntry{entry})

	// Inflate the allocation after signing.
	params.Entries[0].AssetAmount = 1000
	_, err := f.engine.BatchSettle(params)
	check.True(t, errors.Is(err, core.ErrInvalidSignature))
}

func TestBatchSettle_SecondBatchRejected(t *testing.T) {
	f := newEngineFixture(t)
	f.fundIssuer(2000)
	_, entry := f.fundWinner(t, 5000, 4000)
	entry.AssetAmount = 1000
	params := f.params(1, []core.SettlementEntry{entry})

	_, err := f.engine.BatchSettle(params)
	check.NoError(t, err)

	_, err = f.engine.BatchSettle(params)
	check.True(t, errors.Is(err, core.ErrAlreadyProcessed))

	// The winner received exactly one allocation.
	check.Equal(t, uint64(1000), f.asset.BalanceOf(entry.Winner))
}

func TestBatchSettle_ProcessedEvenWhenAllEntriesFail(t *testing.T) {
	f := newEngineFixture(t)
	f.fundIssuer(1000)
	_, entry := f.fundWinner(t, 100, 4000) // can't cover the payment
	entry.AssetAmount = 1000

	report, err := f.engine.BatchSettle(f.params(1, []core.SettlementEntry{entry}))
	check.NoError(t, err)
	check.Equal(t, 0, report.SuccessCount)
	check.Equal(t, 1, len(report.Failures))
	check.True(t, f.engine.Processed(1))

	_, err = f.engine.BatchSettle(f.params(1, []core.SettlementEntry{entry}))
	check.True(t, errors.Is(err, core.ErrAlreadyProcessed))
}

func TestBatchSettle_FailedEntryMovesNothing(t *testing.T) {
	f := newEngineFixture(t)
	f.fundIssuer(1000)
	winner, entry := f.fundWinner(t, 5000, 4000)
	entry.AssetAmount = 1000
	// Corrupt the permit.
	entry.PaymentAuthorization = append([]byte(nil), entry.PaymentAuthorization...)
	entry.PaymentAuthorization[10] ^= 0xff

	report, err := f.engine.BatchSettle(f.params(1, []core.SettlementEntry{entry}))
	check.NoError(t, err)
	check.Equal(t, 0, report.SuccessCount)

	check.Equal(t, uint64(5000), f.payment.BalanceOf(winner.Address()))
	check.Equal(t, uint64(0), f.payment.BalanceOf(f.issuer))
	check.Equal(t, uint64(1000), f.asset.BalanceOf(f.issuer))
	check.Equal(t, uint64(0), f.asset.BalanceOf(winner.Address()))
}

func TestBatchSettle_FaultIsolation(t *testing.T) {
	// Three entries, the middle one underfunded. The other two settle and the
	// report and journal account for the failure.
	f := newEngineFixture(t)
	f.fundIssuer(3000)

	_, e1 := f.fundWinner(t, 5000, 4000)
	e1.AssetAmount = 1000
	_, e2 := f.fundWinner(t, 10, 4000)
	e2.AssetAmount = 1000
	_, e3 := f.fundWinner(t, 5000, 4000)
	e3.AssetAmount = 1000

	report, err := f.engine.BatchSettle(f.params(7, []core.SettlementEntry{e1, e2, e3}))
	check.NoError(t, err)
	check.Equal(t, 2, report.SuccessCount)
	check.Equal(t, uint64(2000), report.TotalAsset)
	check.Equal(t, uint64(8000), report.TotalPayment)
	check.Equal(t, 1, len(report.Failures))
	check.Equal(t, e2.Winner, report.Failures[0].Winner)

	check.Equal(t, uint64(1000), f.asset.BalanceOf(e1.Winner))
	check.Equal(t, uint64(0), f.asset.BalanceOf(e2.Winner))
	check.Equal(t, uint64(1000), f.asset.BalanceOf(e3.Winner))
	check.Equal(t, uint64(1000), f.asset.BalanceOf(f.issuer))
	check.Equal(t, uint64(8000), f.payment.BalanceOf(f.issuer))

	var failed []*core.SettlementFailed
	var settled []*core.BatchSettled
	for _, ev := range f.engine.Events().Events() {
		switch rec := ev.(type) {
		case *core.SettlementFailed:
			failed = append(failed, rec)
		case *core.BatchSettled:
			settled = append(settled, rec)
		}
	}
	check.Equal(t, 1, len(failed))
	check.Equal(t, e2.Winner, failed[0].Winner)
	check.Equal(t, 1, len(settled))
	check.Equal(t, 2, settled[0].SuccessCount)
}

func TestBatchSettle_IssuerAllowanceExhaustion(t *testing.T) {
	// Issuer approved less than the batch needs. The first entry drains the
	// allowance; the second fails on the issuer side with the winner untouched.
	f := newEngineFixture(t)
	f.asset.Mint(f.issuer, 2000)
	f.asset.Approve(f.issuer, f.engine.Instance(), 1000)

	_, e1 := f.fundWinner(t, 5000, 4000)
	e1.AssetAmount = 1000
	w2, e2 := f.fundWinner(t, 5000, 4000)
	e2.AssetAmount = 1000

	report, err := f.engine.BatchSettle(f.params(3, []core.SettlementEntry{e1, e2}))
	check.NoError(t, err)
	check.Equal(t, 1, report.SuccessCount)
	check.Equal(t, 1, len(report.Failures))
	check.Equal(t, uint64(5000), f.payment.BalanceOf(w2.Address()))
	check.Equal(t, uint64(0), f.asset.BalanceOf(w2.Address()))
}
