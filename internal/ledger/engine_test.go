package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hassad/fund-engine/internal/ledger"
	"github.com/hassad/fund-engine/internal/model"
	"github.com/hassad/fund-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEngine creates an engine over a fresh in-memory store.
func newTestEngine(t *testing.T) (*ledger.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return ledger.NewEngine(ms, nil), ms
}

// seedInvestor creates an investor and returns its ID.
func seedInvestor(t *testing.T, e *ledger.Engine) string {
	t.Helper()
	inv, err := e.CreateInvestor(context.Background(), ledger.CreateInvestorParams{Name: "Fatima"})
	if err != nil {
		t.Fatalf("failed to seed investor: %v", err)
	}
	return inv.ID
}

// --- Price setting ---

func TestCurrentUnitPrice_NotConfigured(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CurrentUnitPrice(context.Background())
	if !errors.Is(err, ledger.ErrPriceNotConfigured) {
		t.Errorf("expected ErrPriceNotConfigured, got %v", err)
	}
}

func TestSetUnitPrice_RoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if err := e.SetUnitPrice(ctx, d(125.5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	price, err := e.CurrentUnitPrice(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(d(125.5)) {
		t.Errorf("expected price 125.5, got %s", price)
	}
}

func TestSetUnitPrice_RejectsNonPositive(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, p := range []decimal.Decimal{d(0), d(-10)} {
		if err := e.SetUnitPrice(context.Background(), p); !errors.Is(err, ledger.ErrInvalidArgument) {
			t.Errorf("price %s: expected ErrInvalidArgument, got %v", p, err)
		}
	}
}

// --- Deposit ---

func TestDeposit_FromZero(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	txn, err := e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(50), PricePerUnit: d(20)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Type != model.TxBuy {
		t.Errorf("expected BUY, got %s", txn.Type)
	}
	if !txn.TotalAmount.Equal(d(1000)) {
		t.Errorf("expected total_amount 1000, got %s", txn.TotalAmount)
	}

	inv, _ := e.InvestorState(ctx, id)
	if !inv.TotalUnits.Equal(d(50)) || !inv.TotalInvestedCapital.Equal(d(1000)) {
		t.Errorf("expected units=50 capital=1000, got %s/%s",
			inv.TotalUnits, inv.TotalInvestedCapital)
	}
}

func TestDeposit_ValidatesInputs(t *testing.T) {
	e, _ := newTestEngine(t)
	id := seedInvestor(t, e)

	cases := []ledger.DepositParams{
		{InvestorID: id, Units: d(0), PricePerUnit: d(10)},
		{InvestorID: id, Units: d(-5), PricePerUnit: d(10)},
		{InvestorID: id, Units: d(5), PricePerUnit: d(0)},
		{InvestorID: id, Units: d(5), PricePerUnit: d(-1)},
	}
	for _, p := range cases {
		if _, err := e.Deposit(context.Background(), p); !errors.Is(err, ledger.ErrInvalidArgument) {
			t.Errorf("units=%s price=%s: expected ErrInvalidArgument, got %v",
				p.Units, p.PricePerUnit, err)
		}
	}
}

func TestDeposit_UnknownInvestor(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Deposit(context.Background(), ledger.DepositParams{
		InvestorID: "nope", Units: d(1), PricePerUnit: d(10),
	})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Liquidate ---

// The central correctness property: a partial liquidation removes cost at
// WAC, so the WAC of the remaining position is unchanged.
func TestLiquidate_PreservesWAC(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	// units=100, capital=1000, WAC=10.
	if _, err := e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(100), PricePerUnit: d(10)}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	txn, err := e.Liquidate(ctx, ledger.LiquidateParams{InvestorID: id, Units: d(40), CurrentPrice: d(15)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !txn.TotalAmount.Equal(d(600)) {
		t.Errorf("expected revenue 600, got %s", txn.TotalAmount)
	}
	if txn.WACAtTime == nil || !txn.WACAtTime.Equal(d(10)) {
		t.Errorf("expected wac_at_time 10, got %v", txn.WACAtTime)
	}
	if txn.RealizedProfit == nil || !txn.RealizedProfit.Equal(d(200)) {
		t.Errorf("expected realized_profit 200, got %v", txn.RealizedProfit)
	}

	inv, _ := e.InvestorState(ctx, id)
	if !inv.TotalUnits.Equal(d(60)) || !inv.TotalInvestedCapital.Equal(d(600)) {
		t.Errorf("expected units=60 capital=600, got %s/%s",
			inv.TotalUnits, inv.TotalInvestedCapital)
	}
	if !inv.WAC().Equal(d(10)) {
		t.Errorf("WAC should be unchanged at 10, got %s", inv.WAC())
	}
}

func TestLiquidate_RealizedLossStoredAsIs(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(10), PricePerUnit: d(20)})

	// Sell below cost: revenue 50, cogs 100, loss -50.
	txn, err := e.Liquidate(ctx, ledger.LiquidateParams{InvestorID: id, Units: d(5), CurrentPrice: d(10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.RealizedProfit == nil || !txn.RealizedProfit.Equal(d(-50)) {
		t.Errorf("expected realized_profit -50 (not clamped), got %v", txn.RealizedProfit)
	}
}

func TestLiquidate_InsufficientUnits(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(60), PricePerUnit: d(10)})

	_, err := e.Liquidate(ctx, ledger.LiquidateParams{InvestorID: id, Units: d(150), CurrentPrice: d(15)})
	if !errors.Is(err, ledger.ErrInsufficientUnits) {
		t.Fatalf("expected ErrInsufficientUnits, got %v", err)
	}

	// State must be untouched by the failed attempt.
	inv, _ := e.InvestorState(ctx, id)
	if !inv.TotalUnits.Equal(d(60)) || !inv.TotalInvestedCapital.Equal(d(600)) {
		t.Errorf("failed liquidation mutated state: %s/%s",
			inv.TotalUnits, inv.TotalInvestedCapital)
	}
	txns, _ := e.TransactionHistory(ctx, id)
	if len(txns) != 1 {
		t.Errorf("expected only the BUY in history, got %d entries", len(txns))
	}
}

func TestLiquidate_ZeroHoldings(t *testing.T) {
	e, _ := newTestEngine(t)
	id := seedInvestor(t, e)

	_, err := e.Liquidate(context.Background(), ledger.LiquidateParams{
		InvestorID: id, Units: d(1), CurrentPrice: d(10),
	})
	if !errors.Is(err, ledger.ErrInsufficientUnits) {
		t.Errorf("expected ErrInsufficientUnits for zero-unit investor, got %v", err)
	}
}

// --- Payout ---

func TestRecordPayout_LeavesAggregatesUntouched(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(10), PricePerUnit: d(100)})

	txn, err := e.RecordPayout(ctx, ledger.PayoutParams{InvestorID: id, Amount: d(300)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Type != model.TxPayout {
		t.Errorf("expected PAYOUT, got %s", txn.Type)
	}
	if txn.Units != nil || txn.PricePerUnit != nil || txn.WACAtTime != nil || txn.RealizedProfit != nil {
		t.Error("payout must not carry units, price, wac, or profit")
	}

	inv, _ := e.InvestorState(ctx, id)
	if !inv.TotalUnits.Equal(d(10)) || !inv.TotalInvestedCapital.Equal(d(1000)) {
		t.Errorf("payout mutated aggregates: %s/%s",
			inv.TotalUnits, inv.TotalInvestedCapital)
	}
}

func TestRecordPayout_Validates(t *testing.T) {
	e, _ := newTestEngine(t)
	id := seedInvestor(t, e)
	ctx := context.Background()

	if _, err := e.RecordPayout(ctx, ledger.PayoutParams{InvestorID: id, Amount: d(0)}); !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for zero amount, got %v", err)
	}
	if _, err := e.RecordPayout(ctx, ledger.PayoutParams{InvestorID: "nope", Amount: d(10)}); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown investor, got %v", err)
	}
}

// --- Replay consistency ---

// After any sequence of operations the aggregates must equal a replay of
// the transaction log: units = Σbuys − Σsells, capital = Σ(buy amounts) −
// Σ(sell units × wac-at-sell-time).
func TestAggregates_MatchLedgerReplay(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(100), PricePerUnit: d(10)})
	e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(50), PricePerUnit: d(16)})
	e.Liquidate(ctx, ledger.LiquidateParams{InvestorID: id, Units: d(30), CurrentPrice: d(20)})
	e.RecordPayout(ctx, ledger.PayoutParams{InvestorID: id, Amount: d(500)})
	e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(25), PricePerUnit: d(12)})
	e.Liquidate(ctx, ledger.LiquidateParams{InvestorID: id, Units: d(45), CurrentPrice: d(9)})

	txns, err := e.TransactionHistory(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	units := decimal.Zero
	capital := decimal.Zero
	for _, txn := range txns {
		switch txn.Type {
		case model.TxBuy:
			units = units.Add(*txn.Units)
			capital = capital.Add(txn.TotalAmount)
		case model.TxSell:
			units = units.Sub(*txn.Units)
			capital = capital.Sub(txn.Units.Mul(*txn.WACAtTime))
		}
	}

	inv, _ := e.InvestorState(ctx, id)
	if !inv.TotalUnits.Equal(units) {
		t.Errorf("units: aggregate %s != replay %s", inv.TotalUnits, units)
	}
	if !inv.TotalInvestedCapital.Equal(capital) {
		t.Errorf("capital: aggregate %s != replay %s", inv.TotalInvestedCapital, capital)
	}
}

// --- Concurrency ---

func TestDeposit_ConcurrentNoLostUpdates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Deposit(ctx, ledger.DepositParams{
				InvestorID: id, Units: d(1), PricePerUnit: d(10),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent deposit failed: %v", err)
		}
	}

	inv, _ := e.InvestorState(ctx, id)
	if !inv.TotalUnits.Equal(d(n)) {
		t.Errorf("expected exactly %d units, got %s", n, inv.TotalUnits)
	}
	if !inv.TotalInvestedCapital.Equal(d(n * 10)) {
		t.Errorf("expected capital %d, got %s", n*10, inv.TotalInvestedCapital)
	}
	txns, _ := e.TransactionHistory(ctx, id)
	if len(txns) != n {
		t.Errorf("expected %d transactions, got %d", n, len(txns))
	}
}

// --- Idempotency ---

func TestDeposit_IdempotencyKeyReplay(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	p := ledger.DepositParams{InvestorID: id, Units: d(10), PricePerUnit: d(10), IdempotencyKey: "dep-1"}
	first, err := e.Deposit(ctx, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.Deposit(ctx, p)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("replay returned a different transaction: %s vs %s", first.ID, second.ID)
	}
	inv, _ := e.InvestorState(ctx, id)
	if !inv.TotalUnits.Equal(d(10)) {
		t.Errorf("replay double-applied: units %s", inv.TotalUnits)
	}
}

func TestRecordPayout_IdempotencyKeyReplay(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	p := ledger.PayoutParams{InvestorID: id, Amount: d(300), IdempotencyKey: "pay-1"}
	first, err := e.RecordPayout(ctx, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.RecordPayout(ctx, p)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("replay returned a different transaction: %s vs %s", first.ID, second.ID)
	}
	txns, _ := e.TransactionHistory(ctx, id)
	if len(txns) != 1 {
		t.Errorf("expected 1 payout in history, got %d", len(txns))
	}
}

// --- Fund summary ---

func TestFundSummary(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.SetUnitPrice(ctx, d(12))
	a := seedInvestor(t, e)
	b := seedInvestor(t, e)

	e.Deposit(ctx, ledger.DepositParams{InvestorID: a, Units: d(100), PricePerUnit: d(10)})
	e.Deposit(ctx, ledger.DepositParams{InvestorID: b, Units: d(50), PricePerUnit: d(10)})
	e.Liquidate(ctx, ledger.LiquidateParams{InvestorID: a, Units: d(20), CurrentPrice: d(15)}) // revenue 300
	e.RecordPayout(ctx, ledger.PayoutParams{InvestorID: b, Amount: d(100)})

	sum, err := e.FundSummary(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sum.InvestorCount != 2 {
		t.Errorf("expected 2 investors, got %d", sum.InvestorCount)
	}
	// Capital: 1000 + 500 − cogs(20×10=200) = 1300.
	if !sum.TotalInvestedCapital.Equal(d(1300)) {
		t.Errorf("expected total capital 1300, got %s", sum.TotalInvestedCapital)
	}
	if !sum.TotalPayouts.Equal(d(100)) {
		t.Errorf("expected payouts 100, got %s", sum.TotalPayouts)
	}
	// Returned: SELL 300 + PAYOUT 100.
	if !sum.TotalCapitalReturned.Equal(d(400)) {
		t.Errorf("expected capital returned 400, got %s", sum.TotalCapitalReturned)
	}
	if !sum.PriceConfigured || !sum.UnitPrice.Equal(d(12)) {
		t.Errorf("expected configured price 12, got %s (configured=%v)",
			sum.UnitPrice, sum.PriceConfigured)
	}
}

func TestFundSummary_PriceNotConfigured(t *testing.T) {
	e, _ := newTestEngine(t)
	sum, err := e.FundSummary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.PriceConfigured {
		t.Error("expected PriceConfigured=false before initialization")
	}
}

// --- History ordering ---

func TestTransactionHistory_NewestFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := seedInvestor(t, e)

	e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(10), PricePerUnit: d(10)})
	e.Deposit(ctx, ledger.DepositParams{InvestorID: id, Units: d(20), PricePerUnit: d(10)})
	e.Liquidate(ctx, ledger.LiquidateParams{InvestorID: id, Units: d(5), CurrentPrice: d(11)})

	txns, err := e.TransactionHistory(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txns) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txns))
	}
	if txns[0].Type != model.TxSell {
		t.Errorf("expected newest transaction first, got %s", txns[0].Type)
	}
	for i := 1; i < len(txns); i++ {
		if txns[i].CreatedAt.After(txns[i-1].CreatedAt) {
			t.Errorf("history not in descending created_at order at index %d", i)
		}
	}
}

func TestTransactionHistory_UnknownInvestor(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.TransactionHistory(context.Background(), "nope")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
