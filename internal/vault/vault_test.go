package vault

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodix/omnivault/config"
	"github.com/custodix/omnivault/errs"
	"github.com/custodix/omnivault/internal/asset"
	"github.com/custodix/omnivault/internal/custody"
	"github.com/custodix/omnivault/internal/journal"
	"github.com/custodix/omnivault/internal/ledger"
	"github.com/custodix/omnivault/internal/venue/fake"
)

const adminID = "admin"

type fixture struct {
	vault     *Vault
	venue     *fake.Venue
	custodian *custody.Memory
	sink      *MemorySink
	journal   *journal.Memory
}

func newFixture(t *testing.T, mutate func(*config.Settings)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.AdminIdentity = adminID
	cfg.CapacityCap = decimal.NewFromInt(1000)
	cfg.WithdrawalLimit = decimal.NewFromInt(100)
	if mutate != nil {
		mutate(&cfg)
	}

	fakeVenue := fake.NewVenue("WETH")
	custodian := custody.NewMemory()
	sink := NewMemorySink()
	mem := journal.NewMemory()

	v, err := New(cfg, fakeVenue, custodian, WithSink(sink), WithJournal(mem))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{vault: v, venue: fakeVenue, custodian: custodian, sink: sink, journal: mem}
}

func (f *fixture) fundAndRate(t *testing.T, account string, sym asset.Symbol, amount, rate int64) {
	t.Helper()
	f.custodian.Fund(account, sym, decimal.NewFromInt(amount))
	if sym != "USDC" {
		f.venue.SetRate(sym, "USDC", decimal.NewFromInt(rate))
		if err := f.vault.RegisterAsset(context.Background(), adminID, sym, true); err != nil {
			t.Fatalf("RegisterAsset(%s) error = %v", sym, err)
		}
	}
}

func TestDepositSettlementAssetCreditsOneToOne(t *testing.T) {
	f := newFixture(t, nil)
	f.custodian.Fund("alice", "USDC", decimal.NewFromInt(500))

	balance, err := f.vault.Deposit(context.Background(), "alice", "USDC", decimal.NewFromInt(300))
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(300)) {
		t.Errorf("balance = %s, want 300", balance)
	}
	if got := f.custodian.VaultHolding("USDC"); !got.Equal(decimal.NewFromInt(300)) {
		t.Errorf("vault custody = %s, want 300", got)
	}
	if got := f.sink.OfKind("deposit_recorded"); len(got) != 1 {
		t.Errorf("expected 1 deposit event, got %d", len(got))
	}
	if got := f.sink.OfKind("swap_executed"); len(got) != 0 {
		t.Errorf("settlement deposit must not swap, got %d swap events", len(got))
	}
	if f.journal.Len() != 1 {
		t.Errorf("expected 1 journal entry, got %d", f.journal.Len())
	}
}

func TestDepositConvertibleSwapsAndCredits(t *testing.T) {
	f := newFixture(t, nil)
	f.fundAndRate(t, "alice", "DAI", 200, 1)

	balance, err := f.vault.Deposit(context.Background(), "alice", "DAI", decimal.NewFromInt(200))
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("balance = %s, want 200", balance)
	}
	swaps := f.sink.OfKind("swap_executed")
	if len(swaps) != 1 {
		t.Fatalf("expected 1 swap event, got %d", len(swaps))
	}
	swap := swaps[0].Event.(SwapExecuted)
	if swap.Route.String() != "DAI>USDC" {
		t.Errorf("unexpected route %s", swap.Route)
	}
	stats, ok := f.vault.AssetStats("DAI")
	if !ok || stats.DepositCount != 1 || !stats.TotalConverted.Equal(decimal.NewFromInt(200)) {
		t.Errorf("unexpected asset stats %+v ok=%v", stats, ok)
	}
}

func TestDepositNoConversionAssetCreditsAtPar(t *testing.T) {
	f := newFixture(t, nil)
	// A stable alternative to the settlement asset: accepted 1:1, no venue
	// involvement.
	if err := f.vault.RegisterAsset(context.Background(), adminID, "USDT", false); err != nil {
		t.Fatalf("RegisterAsset() error = %v", err)
	}
	f.custodian.Fund("alice", "USDT", decimal.NewFromInt(150))

	balance, err := f.vault.Deposit(context.Background(), "alice", "USDT", decimal.NewFromInt(150))
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("balance = %s, want 150", balance)
	}
	if got := f.custodian.VaultHolding("USDT"); !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("vault custody = %s, want 150 USDT", got)
	}
	if got := f.sink.OfKind("swap_executed"); len(got) != 0 {
		t.Errorf("par deposit must not swap, got %d swap events", len(got))
	}
	desc, ok := f.vault.AssetInfo("USDT")
	if !ok || desc.RequiresConversion {
		t.Errorf("unexpected descriptor %+v ok=%v", desc, ok)
	}

	est, err := f.vault.EstimateDepositOutput(context.Background(), "USDT", decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("EstimateDepositOutput() error = %v", err)
	}
	if !est.Expected.Equal(decimal.NewFromInt(40)) || !est.MinAcceptable.Equal(decimal.NewFromInt(40)) {
		t.Errorf("par estimate must be identity, got %+v", est)
	}
}

func TestDepositBridgedRoute(t *testing.T) {
	f := newFixture(t, nil)
	f.custodian.Fund("alice", "SHIB", decimal.NewFromInt(1_000_000))
	f.venue.SetRate("SHIB", "WETH", decimal.RequireFromString("0.0000001"))
	f.venue.SetRate("WETH", "USDC", decimal.NewFromInt(2000))
	if err := f.vault.RegisterAsset(context.Background(), adminID, "SHIB", true); err != nil {
		t.Fatalf("RegisterAsset() error = %v", err)
	}

	balance, err := f.vault.Deposit(context.Background(), "alice", "SHIB", decimal.NewFromInt(1_000_000))
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	// 1e6 * 1e-7 * 2000 = 200
	if !balance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("balance = %s, want 200", balance)
	}
	swap := f.sink.OfKind("swap_executed")[0].Event.(SwapExecuted)
	if swap.Route.String() != "SHIB>WETH>USDC" {
		t.Errorf("expected bridged route, got %s", swap.Route)
	}
}

func TestDepositSlippageViolationLeavesNoTrace(t *testing.T) {
	f := newFixture(t, nil)
	f.fundAndRate(t, "alice", "DAI", 100, 1)
	// Quote at 1.0 sets the floor to 99.5; execution at 0.994 settles 99.4.
	f.venue.SetExecutionRate("DAI", "USDC", decimal.RequireFromString("0.994"))

	_, err := f.vault.Deposit(context.Background(), "alice", "DAI", decimal.NewFromInt(100))
	if errs.ReasonOf(err) != errs.ReasonSlippageBoundViolated {
		t.Fatalf("expected slippage_bound_violated, got %v", err)
	}
	if got := f.vault.BalanceOf("alice"); !got.IsZero() {
		t.Errorf("failed deposit must not credit, balance = %s", got)
	}
	if got := f.custodian.Holding("alice", "DAI"); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("failed deposit must return custody, holding = %s", got)
	}
	if f.journal.Len() != 0 {
		t.Errorf("failed deposit must not journal, got %d entries", f.journal.Len())
	}
}

func TestDepositWithinSlippageToleranceSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.fundAndRate(t, "alice", "DAI", 100, 1)
	f.venue.SetExecutionRate("DAI", "USDC", decimal.RequireFromString("0.996"))

	balance, err := f.vault.Deposit(context.Background(), "alice", "DAI", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("99.6")) {
		t.Errorf("balance = %s, want 99.6", balance)
	}
}

func TestDepositDeadlineExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, nil)
	f.fundAndRate(t, "alice", "DAI", 100, 1)
	f.vault.clock = func() time.Time { return base }
	// The venue clock runs past the swap deadline.
	f.venue.WithClock(func() time.Time { return base.Add(6 * time.Minute) })

	_, err := f.vault.Deposit(context.Background(), "alice", "DAI", decimal.NewFromInt(100))
	if errs.ReasonOf(err) != errs.ReasonDeadlineExpired {
		t.Fatalf("expected deadline_expired, got %v", err)
	}
	if got := f.custodian.Holding("alice", "DAI"); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expired deposit must return custody, holding = %s", got)
	}
}

func TestDepositExceedsCapacity(t *testing.T) {
	f := newFixture(t, nil)
	f.custodian.Fund("alice", "USDC", decimal.NewFromInt(2000))

	if _, err := f.vault.Deposit(context.Background(), "alice", "USDC", decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("deposit at exact cap should succeed: %v", err)
	}
	_, err := f.vault.Deposit(context.Background(), "alice", "USDC", decimal.NewFromInt(1))
	if errs.ReasonOf(err) != errs.ReasonExceedsCapacity {
		t.Fatalf("expected exceeds_capacity, got %v", err)
	}
	if got := f.custodian.Holding("alice", "USDC"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("rejected deposit must not pull custody, holding = %s", got)
	}
}

func TestDepositConvertibleCapacityCheckedOnEstimate(t *testing.T) {
	f := newFixture(t, nil)
	f.fundAndRate(t, "alice", "DAI", 2000, 1)

	_, err := f.vault.Deposit(context.Background(), "alice", "DAI", decimal.NewFromInt(1500))
	if errs.ReasonOf(err) != errs.ReasonExceedsCapacity {
		t.Fatalf("expected exceeds_capacity, got %v", err)
	}
	if got := f.custodian.Holding("alice", "DAI"); !got.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("rejected deposit must not pull custody, holding = %s", got)
	}
}

func TestDepositUnsupportedAsset(t *testing.T) {
	f := newFixture(t, nil)
	f.custodian.Fund("alice", "DOGE", decimal.NewFromInt(100))

	_, err := f.vault.Deposit(context.Background(), "alice", "DOGE", decimal.NewFromInt(100))
	if errs.ReasonOf(err) != errs.ReasonAssetNotSupported {
		t.Fatalf("expected asset_not_supported, got %v", err)
	}
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.vault.Deposit(context.Background(), "", "USDC", decimal.NewFromInt(1))
	if errs.ReasonOf(err) != errs.ReasonZeroIdentity {
		t.Errorf("expected zero_identity, got %v", err)
	}
	_, err = f.vault.Deposit(context.Background(), "alice", "USDC", decimal.Zero)
	if errs.ReasonOf(err) != errs.ReasonZeroAmount {
		t.Errorf("expected zero_amount, got %v", err)
	}
}

func TestDepositNative(t *testing.T) {
	f := newFixture(t, nil)
	f.custodian.Fund("alice", "ETH", decimal.NewFromInt(2))
	f.venue.SetRate("ETH", "USDC", decimal.NewFromInt(100))
	if err := f.vault.RegisterNativeAssetSupport(context.Background(), adminID); err != nil {
		t.Fatalf("RegisterNativeAssetSupport() error = %v", err)
	}

	balance, err := f.vault.DepositNative(context.Background(), "alice", decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("DepositNative() error = %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("balance = %s, want 200", balance)
	}
}

func TestWithdrawHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	f.custodian.Fund("alice", "USDC", decimal.NewFromInt(100))
	if _, err := f.vault.Deposit(context.Background(), "alice", "USDC", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	remaining, err := f.vault.Withdraw(context.Background(), "alice", decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}
	if !remaining.Equal(decimal.NewFromInt(60)) {
		t.Errorf("remaining = %s, want 60", remaining)
	}
	if got := f.custodian.Holding("alice", "USDC"); !got.Equal(decimal.NewFromInt(40)) {
		t.Errorf("external holding = %s, want 40", got)
	}
	if got := f.sink.OfKind("withdrawal_recorded"); len(got) != 1 {
		t.Errorf("expected 1 withdrawal event, got %d", len(got))
	}
}

func TestWithdrawLimitBeforeBalance(t *testing.T) {
	f := newFixture(t, nil)
	f.custodian.Fund("alice", "USDC", decimal.NewFromInt(50))
	if _, err := f.vault.Deposit(context.Background(), "alice", "USDC", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	// 150 breaches both the limit (100) and the balance (50); the limit wins.
	_, err := f.vault.Withdraw(context.Background(), "alice", decimal.NewFromInt(150))
	if errs.ReasonOf(err) != errs.ReasonExceedsWithdrawalLimit {
		t.Fatalf("expected exceeds_withdrawal_limit, got %v", err)
	}
	_, err = f.vault.Withdraw(context.Background(), "alice", decimal.NewFromInt(60))
	if errs.ReasonOf(err) != errs.ReasonInsufficientBalance {
		t.Fatalf("expected insufficient_balance, got %v", err)
	}
	if got := f.vault.BalanceOf("alice"); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("failed withdrawals must not debit, balance = %s", got)
	}
}

func TestWithdrawCustodyFailureRestoresBalance(t *testing.T) {
	f := newFixture(t, nil)
	f.custodian.Fund("alice", "USDC", decimal.NewFromInt(100))
	if _, err := f.vault.Deposit(context.Background(), "alice", "USDC", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	f.custodian.FailNextOut = true
	_, err := f.vault.Withdraw(context.Background(), "alice", decimal.NewFromInt(30))
	if errs.ReasonOf(err) != errs.ReasonCustodyTransferFailed {
		t.Fatalf("expected custody_transfer_failed, got %v", err)
	}
	if got := f.vault.BalanceOf("alice"); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance must be restored after custody failure, got %s", got)
	}
	stats := f.vault.LedgerStats()
	if !stats.Aggregate.Equal(decimal.NewFromInt(100)) {
		t.Errorf("aggregate must be restored, got %s", stats.Aggregate)
	}
}

func TestReentrantCallRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.fundAndRate(t, "alice", "DAI", 100, 1)

	var hookErr error
	f.venue.ExecuteHook = func() {
		_, hookErr = f.vault.Withdraw(context.Background(), "alice", decimal.NewFromInt(1))
	}

	if _, err := f.vault.Deposit(context.Background(), "alice", "DAI", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("outer deposit should succeed: %v", err)
	}
	if errs.ReasonOf(hookErr) != errs.ReasonReentrantCall {
		t.Fatalf("expected reentrant_call from nested withdraw, got %v", hookErr)
	}
}

func TestAdminAuthorization(t *testing.T) {
	f := newFixture(t, nil)
	f.venue.SetRate("DAI", "USDC", decimal.NewFromInt(1))

	err := f.vault.RegisterAsset(context.Background(), "mallory", "DAI", true)
	if errs.ReasonOf(err) != errs.ReasonNotAuthorized {
		t.Fatalf("expected not_authorized, got %v", err)
	}
	if err := f.vault.RegisterAsset(context.Background(), adminID, "DAI", true); err != nil {
		t.Fatalf("admin registration error = %v", err)
	}
	err = f.vault.DeregisterAsset(context.Background(), "mallory", "DAI")
	if errs.ReasonOf(err) != errs.ReasonNotAuthorized {
		t.Fatalf("expected not_authorized, got %v", err)
	}
}

func TestAssetLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.venue.SetRate("DAI", "USDC", decimal.NewFromInt(1))

	if err := f.vault.RegisterAsset(ctx, adminID, "DAI", true); err != nil {
		t.Fatalf("RegisterAsset() error = %v", err)
	}
	err := f.vault.RegisterAsset(ctx, adminID, "DAI", true)
	if errs.ReasonOf(err) != errs.ReasonAlreadySupported {
		t.Fatalf("expected already_supported, got %v", err)
	}
	if err := f.vault.DeregisterAsset(ctx, adminID, "DAI"); err != nil {
		t.Fatalf("DeregisterAsset() error = %v", err)
	}
	err = f.vault.DeregisterAsset(ctx, adminID, "USDC")
	if errs.ReasonOf(err) != errs.ReasonCannotRemoveSettlementAsset {
		t.Fatalf("expected cannot_remove_settlement_asset, got %v", err)
	}
	f.custodian.Fund("alice", "DAI", decimal.NewFromInt(10))
	_, err = f.vault.Deposit(ctx, "alice", "DAI", decimal.NewFromInt(10))
	if errs.ReasonOf(err) != errs.ReasonAssetNotSupported {
		t.Fatalf("tombstoned asset must reject deposits, got %v", err)
	}
	if got := f.sink.OfKind("asset_deregistered"); len(got) != 1 {
		t.Errorf("expected 1 deregistration event, got %d", len(got))
	}
}

func TestEstimateDepositOutput(t *testing.T) {
	f := newFixture(t, nil)
	f.fundAndRate(t, "alice", "DAI", 100, 1)

	est, err := f.vault.EstimateDepositOutput(context.Background(), "DAI", decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("EstimateDepositOutput() error = %v", err)
	}
	if !est.Expected.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected = %s, want 100", est.Expected)
	}
	if !est.MinAcceptable.Equal(decimal.RequireFromString("99.5")) {
		t.Errorf("min acceptable = %s, want 99.5", est.MinAcceptable)
	}
	// Estimation is read-only.
	if got := f.vault.BalanceOf("alice"); !got.IsZero() {
		t.Errorf("estimate must not mutate, balance = %s", got)
	}
	if got := f.custodian.Holding("alice", "DAI"); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("estimate must not move custody, holding = %s", got)
	}
}

func TestEstimateSettlementIdentity(t *testing.T) {
	f := newFixture(t, nil)
	est, err := f.vault.EstimateDepositOutput(context.Background(), "USDC", decimal.NewFromInt(75))
	if err != nil {
		t.Fatalf("EstimateDepositOutput() error = %v", err)
	}
	if !est.Expected.Equal(decimal.NewFromInt(75)) || !est.MinAcceptable.Equal(decimal.NewFromInt(75)) {
		t.Errorf("settlement estimate must be identity, got %+v", est)
	}
}

func TestHistoryFromJournal(t *testing.T) {
	f := newFixture(t, nil)
	f.custodian.Fund("alice", "USDC", decimal.NewFromInt(100))
	if _, err := f.vault.Deposit(context.Background(), "alice", "USDC", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if _, err := f.vault.Withdraw(context.Background(), "alice", decimal.NewFromInt(25)); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	entries, err := f.vault.History(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Type != journal.EntryWithdrawal || entries[1].Type != journal.EntryDeposit {
		t.Errorf("entries out of order: %v then %v", entries[0].Type, entries[1].Type)
	}
	if entries[0].ID == "" {
		t.Error("journal entries must carry an ID")
	}
}

func TestAggregateMatchesSumOfBalances(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, account := range []ledger.Account{"alice", "bob", "carol"} {
		f.custodian.Fund(string(account), "USDC", decimal.NewFromInt(100))
		if _, err := f.vault.Deposit(ctx, account, "USDC", decimal.NewFromInt(100)); err != nil {
			t.Fatalf("Deposit(%s) error = %v", account, err)
		}
	}
	if _, err := f.vault.Withdraw(ctx, "bob", decimal.NewFromInt(30)); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	stats := f.vault.LedgerStats()
	if !stats.Aggregate.Equal(decimal.NewFromInt(270)) {
		t.Errorf("aggregate = %s, want 270", stats.Aggregate)
	}
	if stats.DepositCount != 3 || stats.WithdrawalCount != 1 {
		t.Errorf("unexpected counters %+v", stats)
	}
}

func TestLedgerStatsTracksSupportedAssetCount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.venue.SetRate("DAI", "USDC", decimal.NewFromInt(1))

	if got := f.vault.LedgerStats().SupportedAssetCount; got != 1 {
		t.Fatalf("initial supported asset count = %d, want 1", got)
	}
	if err := f.vault.RegisterAsset(ctx, adminID, "DAI", true); err != nil {
		t.Fatalf("RegisterAsset() error = %v", err)
	}
	if got := f.vault.LedgerStats().SupportedAssetCount; got != 2 {
		t.Errorf("supported asset count after register = %d, want 2", got)
	}
	if err := f.vault.DeregisterAsset(ctx, adminID, "DAI"); err != nil {
		t.Fatalf("DeregisterAsset() error = %v", err)
	}
	if got := f.vault.LedgerStats().SupportedAssetCount; got != 1 {
		t.Errorf("supported asset count after deregister = %d, want 1", got)
	}
}
