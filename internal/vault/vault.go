// Package vault orchestrates deposits and withdrawals over the asset
// registry, the settlement ledger, the exchange venue, and custody.
package vault

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/custodix/omnivault/config"
	"github.com/custodix/omnivault/errs"
	"github.com/custodix/omnivault/internal/asset"
	"github.com/custodix/omnivault/internal/custody"
	"github.com/custodix/omnivault/internal/journal"
	"github.com/custodix/omnivault/internal/ledger"
	"github.com/custodix/omnivault/internal/observability"
	"github.com/custodix/omnivault/internal/route"
	"github.com/custodix/omnivault/internal/slippage"
	"github.com/custodix/omnivault/internal/venue"
)

// Estimate is the read-only preview of a deposit's conversion.
type Estimate struct {
	Route         asset.Route
	Expected      decimal.Decimal
	MinAcceptable decimal.Decimal
}

// Stats is a point-in-time snapshot across the ledger and the registry.
type Stats struct {
	Aggregate           decimal.Decimal
	RemainingCapacity   decimal.Decimal
	SupportedAssetCount int
	DepositCount        uint64
	WithdrawalCount     uint64
}

// Vault is the single entry point for all state transitions. Mutating
// operations are strictly serialized: a second caller entering while one is
// in flight is rejected rather than queued, which also closes the door on
// reentrant callbacks from collaborators.
type Vault struct {
	settlement   asset.Symbol
	native       asset.Symbol
	admin        string
	swapDeadline time.Duration

	registry  *asset.Registry
	ledger    *ledger.Ledger
	resolver  *route.Resolver
	guard     slippage.Guard
	exchange  venue.Exchange
	custodian custody.Custodian
	journal   journal.Journal
	sink      Sink
	clock     func() time.Time

	inFlight atomic.Bool
}

// Option configures optional vault collaborators.
type Option func(*Vault)

// WithJournal attaches an audit journal. Appends happen after the ledger
// commit and never unwind the operation.
func WithJournal(j journal.Journal) Option {
	return func(v *Vault) { v.journal = j }
}

// WithSink attaches an event sink.
func WithSink(s Sink) Option {
	return func(v *Vault) { v.sink = s }
}

// WithClock overrides the vault clock, primarily for testing deadlines.
func WithClock(clock func() time.Time) Option {
	return func(v *Vault) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// New constructs a vault from immutable settings and its collaborators.
func New(cfg config.Settings, exchange venue.Exchange, custodian custody.Custodian, opts ...Option) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	settlement := asset.Normalize(cfg.SettlementAsset)
	v := &Vault{
		settlement:   settlement,
		native:       asset.Normalize(cfg.NativeAsset),
		admin:        cfg.AdminIdentity,
		swapDeadline: cfg.SwapDeadline,
		registry:     asset.NewRegistry(settlement, exchange),
		ledger:       ledger.New(cfg.CapacityCap, cfg.WithdrawalLimit),
		resolver:     route.NewResolver(exchange, settlement),
		guard:        slippage.NewGuard(cfg.SlippageBps, cfg.SettlementScale),
		exchange:     exchange,
		custodian:    custodian,
		clock:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Deposit pulls amountIn of assetIn from the account's custody, converts it
// to the settlement asset when needed, and credits the proceeds. The whole
// operation succeeds or leaves no trace.
func (v *Vault) Deposit(ctx context.Context, account ledger.Account, assetIn asset.Symbol, amountIn decimal.Decimal) (decimal.Decimal, error) {
	const op = "vault/deposit"
	if err := v.begin(op); err != nil {
		return decimal.Zero, err
	}
	defer v.end()
	return v.deposit(ctx, op, account, assetIn, amountIn)
}

// DepositNative accepts the chain's native unit. It is sugar for a deposit
// in the configured native asset.
func (v *Vault) DepositNative(ctx context.Context, account ledger.Account, amount decimal.Decimal) (decimal.Decimal, error) {
	const op = "vault/deposit_native"
	if err := v.begin(op); err != nil {
		return decimal.Zero, err
	}
	defer v.end()
	return v.deposit(ctx, op, account, v.native, amount)
}

func (v *Vault) deposit(ctx context.Context, op string, account ledger.Account, assetIn asset.Symbol, amountIn decimal.Decimal) (decimal.Decimal, error) {
	if account.IsZero() {
		return decimal.Zero, v.reject(errs.New(op, errs.CodeValidation, errs.ReasonZeroIdentity,
			errs.WithMessage("account identity required")))
	}
	if !amountIn.IsPositive() {
		return decimal.Zero, v.reject(errs.New(op, errs.CodeValidation, errs.ReasonZeroAmount,
			errs.WithField("amount", amountIn.String())))
	}
	desc, ok := v.registry.Describe(assetIn)
	if !ok || !desc.Supported {
		return decimal.Zero, v.reject(errs.New(op, errs.CodeState, errs.ReasonAssetNotSupported,
			errs.WithField("asset", assetIn.String())))
	}

	if !desc.RequiresConversion {
		return v.depositDirect(ctx, op, account, assetIn, amountIn)
	}
	return v.depositConvertible(ctx, op, account, assetIn, amountIn)
}

// depositDirect credits a no-conversion asset 1:1. This covers the
// settlement asset itself and any asset registered as settling at par.
func (v *Vault) depositDirect(ctx context.Context, op string, account ledger.Account, assetIn asset.Symbol, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := v.ledger.CheckCapacity(amount); err != nil {
		return decimal.Zero, v.reject(err)
	}
	if err := v.custodian.TransferIn(ctx, string(account), assetIn, amount); err != nil {
		return decimal.Zero, v.reject(wrapCustody(op, err))
	}
	balance, err := v.ledger.Credit(account, amount)
	if err != nil {
		v.compensateIn(ctx, account, assetIn, amount)
		return decimal.Zero, v.reject(err)
	}
	v.registry.RecordDeposit(assetIn, amount, amount)
	v.commitDeposit(ctx, account, assetIn, amount, amount, balance, nil)
	return balance, nil
}

// depositConvertible swaps assetIn into the settlement asset before the
// credit. Capacity is checked against the quote estimate before the custody
// pull, so a deposit the vault cannot hold is rejected while the funds are
// still with the depositor; a credit-time breach after execution returns the
// settlement proceeds to the account's custody.
func (v *Vault) depositConvertible(ctx context.Context, op string, account ledger.Account, assetIn asset.Symbol, amountIn decimal.Decimal) (decimal.Decimal, error) {
	swapRoute, err := v.resolver.Resolve(ctx, assetIn)
	if err != nil {
		return decimal.Zero, v.reject(err)
	}
	quote, err := v.exchange.Quote(ctx, swapRoute, amountIn)
	if err != nil {
		return decimal.Zero, v.reject(err)
	}
	minOut := v.guard.MinAcceptable(quote.Estimate)
	if err := v.ledger.CheckCapacity(quote.Estimate); err != nil {
		return decimal.Zero, v.reject(err)
	}

	if err := v.custodian.TransferIn(ctx, string(account), assetIn, amountIn); err != nil {
		return decimal.Zero, v.reject(wrapCustody(op, err))
	}
	outcome, err := v.exchange.Execute(ctx, venue.Swap{
		Route:        swapRoute,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Recipient:    "vault",
		Deadline:     v.clock().Add(v.swapDeadline),
	})
	if err != nil {
		v.compensateIn(ctx, account, assetIn, amountIn)
		return decimal.Zero, v.reject(err)
	}

	balance, err := v.ledger.Credit(account, outcome.AmountOut)
	if err != nil {
		v.compensateIn(ctx, account, v.settlement, outcome.AmountOut)
		return decimal.Zero, v.reject(err)
	}
	v.registry.RecordDeposit(assetIn, amountIn, outcome.AmountOut)
	swapped := &SwapExecuted{
		Account:       string(account),
		Route:         swapRoute,
		AmountIn:      amountIn,
		SettlementOut: outcome.AmountOut,
	}
	v.commitDeposit(ctx, account, assetIn, amountIn, outcome.AmountOut, balance, swapped)
	return balance, nil
}

// Withdraw debits the account and releases settlement funds from custody.
// The ledger is settled before custody moves; a custody failure restores the
// debit so the operation leaves no trace.
func (v *Vault) Withdraw(ctx context.Context, account ledger.Account, amount decimal.Decimal) (decimal.Decimal, error) {
	const op = "vault/withdraw"
	if err := v.begin(op); err != nil {
		return decimal.Zero, err
	}
	defer v.end()

	remaining, err := v.ledger.Debit(account, amount)
	if err != nil {
		return decimal.Zero, v.reject(err)
	}
	if err := v.custodian.TransferOut(ctx, string(account), v.settlement, amount); err != nil {
		if _, restoreErr := v.ledger.Credit(account, amount); restoreErr != nil {
			observability.Log().Error("withdrawal restore failed",
				observability.F("account", string(account)),
				observability.F("error", restoreErr.Error()))
		}
		return decimal.Zero, v.reject(wrapCustody(op, err))
	}

	now := v.clock()
	v.publish(newEnvelope(now, WithdrawalRecorded{
		Account:          string(account),
		Amount:           amount,
		RemainingBalance: remaining,
	}))
	v.appendJournal(ctx, journal.Entry{
		Type:       journal.EntryWithdrawal,
		Account:    string(account),
		Settlement: amount,
		Balance:    remaining,
		RecordedAt: now.UTC(),
	})
	observability.Telemetry().IncCounter(observability.MetricWithdrawals, 1, nil)
	v.gaugeAggregate()
	return remaining, nil
}

// EstimateDepositOutput previews the settlement proceeds of a deposit
// without moving anything. The same slippage bound applies, so the preview
// carries the floor an actual deposit would enforce.
func (v *Vault) EstimateDepositOutput(ctx context.Context, assetIn asset.Symbol, amountIn decimal.Decimal) (Estimate, error) {
	const op = "vault/estimate"
	if !amountIn.IsPositive() {
		return Estimate{}, errs.New(op, errs.CodeValidation, errs.ReasonZeroAmount,
			errs.WithField("amount", amountIn.String()))
	}
	if !v.registry.IsSupported(assetIn) {
		return Estimate{}, errs.New(op, errs.CodeState, errs.ReasonAssetNotSupported,
			errs.WithField("asset", assetIn.String()))
	}

	if desc, ok := v.registry.Describe(assetIn); ok && !desc.RequiresConversion {
		return Estimate{Expected: amountIn, MinAcceptable: amountIn}, nil
	}
	swapRoute, err := v.resolver.Resolve(ctx, assetIn)
	if err != nil {
		return Estimate{}, err
	}
	quote, err := v.exchange.Quote(ctx, swapRoute, amountIn)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{
		Route:         swapRoute,
		Expected:      quote.Estimate,
		MinAcceptable: v.guard.MinAcceptable(quote.Estimate),
	}, nil
}

// RegisterAsset enables deposits in sym. Only the admin identity may call
// it. requiresConversion marks assets that must be swapped into the
// settlement asset; assets registered without it are credited 1:1.
func (v *Vault) RegisterAsset(ctx context.Context, caller string, sym asset.Symbol, requiresConversion bool) error {
	const op = "vault/register_asset"
	if err := v.authorize(op, caller); err != nil {
		return err
	}
	if err := v.begin(op); err != nil {
		return err
	}
	defer v.end()

	if err := v.registry.Register(ctx, sym, requiresConversion); err != nil {
		return v.reject(err)
	}
	v.publish(newEnvelope(v.clock(), AssetRegistered{Asset: sym, RequiresConversion: requiresConversion}))
	return nil
}

// RegisterNativeAssetSupport enables deposits in the chain-native unit,
// converted unless the native asset is the settlement asset itself.
func (v *Vault) RegisterNativeAssetSupport(ctx context.Context, caller string) error {
	return v.RegisterAsset(ctx, caller, v.native, v.native != v.settlement)
}

// DeregisterAsset tombstones sym. Only the admin identity may call it.
func (v *Vault) DeregisterAsset(_ context.Context, caller string, sym asset.Symbol) error {
	const op = "vault/deregister_asset"
	if err := v.authorize(op, caller); err != nil {
		return err
	}
	if err := v.begin(op); err != nil {
		return err
	}
	defer v.end()

	if err := v.registry.Deregister(sym); err != nil {
		return v.reject(err)
	}
	v.publish(newEnvelope(v.clock(), AssetDeregistered{Asset: sym}))
	return nil
}

// BalanceOf returns the settlement balance for account.
func (v *Vault) BalanceOf(account ledger.Account) decimal.Decimal {
	return v.ledger.BalanceOf(account)
}

// LedgerStats returns ledger-wide counters together with the number of
// currently supported assets.
func (v *Vault) LedgerStats() Stats {
	snap := v.ledger.Snapshot()
	return Stats{
		Aggregate:           snap.Aggregate,
		RemainingCapacity:   snap.RemainingCapacity,
		SupportedAssetCount: v.registry.SupportedCount(),
		DepositCount:        snap.DepositCount,
		WithdrawalCount:     snap.WithdrawalCount,
	}
}

// AssetStats returns deposit statistics for sym.
func (v *Vault) AssetStats(sym asset.Symbol) (asset.Statistics, bool) {
	return v.registry.StatsFor(sym)
}

// AssetInfo returns the registration descriptor for sym.
func (v *Vault) AssetInfo(sym asset.Symbol) (asset.Descriptor, bool) {
	return v.registry.Describe(sym)
}

// SupportedAssets lists currently supported assets in registration order.
func (v *Vault) SupportedAssets() []asset.Symbol {
	return v.registry.ListSupported()
}

// SettlementAsset returns the asset every balance is denominated in.
func (v *Vault) SettlementAsset() asset.Symbol {
	return v.settlement
}

// History returns up to limit journal entries for account, newest first.
// Without a journal it reports nothing.
func (v *Vault) History(ctx context.Context, account ledger.Account, limit int) ([]journal.Entry, error) {
	if v.journal == nil {
		return nil, nil
	}
	return v.journal.Recent(ctx, string(account), limit)
}

func (v *Vault) begin(op string) error {
	if !v.inFlight.CompareAndSwap(false, true) {
		err := errs.New(op, errs.CodeState, errs.ReasonReentrantCall)
		observability.Telemetry().IncCounter(observability.MetricRejections, 1,
			map[string]string{"reason": string(errs.ReasonReentrantCall)})
		return err
	}
	return nil
}

func (v *Vault) end() {
	v.inFlight.Store(false)
}

func (v *Vault) authorize(op, caller string) error {
	if caller == "" || caller != v.admin {
		return v.reject(errs.New(op, errs.CodeAuthorization, errs.ReasonNotAuthorized,
			errs.WithField("caller", caller)))
	}
	return nil
}

func (v *Vault) commitDeposit(ctx context.Context, account ledger.Account, assetIn asset.Symbol, amountIn, settlementOut, balance decimal.Decimal, swapped *SwapExecuted) {
	now := v.clock()
	if swapped != nil {
		v.publish(newEnvelope(now, *swapped))
		observability.Telemetry().IncCounter(observability.MetricSwaps, 1,
			map[string]string{"route": swapped.Route.String()})
	}
	v.publish(newEnvelope(now, DepositRecorded{
		Account:            string(account),
		AssetIn:            assetIn,
		AmountIn:           amountIn,
		SettlementReceived: settlementOut,
		NewBalance:         balance,
	}))
	v.appendJournal(ctx, journal.Entry{
		Type:       journal.EntryDeposit,
		Account:    string(account),
		AssetIn:    assetIn.String(),
		AmountIn:   amountIn,
		Settlement: settlementOut,
		Balance:    balance,
		RecordedAt: now.UTC(),
	})
	observability.Telemetry().IncCounter(observability.MetricDeposits, 1,
		map[string]string{"asset": assetIn.String()})
	v.gaugeAggregate()
}

func (v *Vault) publish(env Envelope) {
	if v.sink != nil {
		v.sink.Publish(env)
	}
}

func (v *Vault) appendJournal(ctx context.Context, entry journal.Entry) {
	if v.journal == nil {
		return
	}
	entry.ID = uuid.NewString()
	if err := v.journal.Append(ctx, entry); err != nil {
		observability.Log().Error("journal append failed",
			observability.F("account", entry.Account),
			observability.F("type", string(entry.Type)),
			observability.F("error", err.Error()))
		observability.Telemetry().IncCounter(observability.MetricJournalFailures, 1, nil)
	}
}

// compensateIn returns funds pulled into custody by a deposit that failed
// after the pull. A failed compensation is logged; the custody discrepancy
// is then an operator concern.
func (v *Vault) compensateIn(ctx context.Context, account ledger.Account, sym asset.Symbol, amount decimal.Decimal) {
	if err := v.custodian.TransferOut(ctx, string(account), sym, amount); err != nil {
		observability.Log().Error("deposit compensation failed",
			observability.F("account", string(account)),
			observability.F("asset", sym.String()),
			observability.F("amount", amount.String()),
			observability.F("error", err.Error()))
	}
}

func (v *Vault) reject(err error) error {
	observability.Telemetry().IncCounter(observability.MetricRejections, 1,
		map[string]string{"reason": string(errs.ReasonOf(err))})
	return err
}

func (v *Vault) gaugeAggregate() {
	aggregate, _ := v.ledger.Aggregate().Float64()
	observability.Telemetry().SetGauge(observability.MetricAggregate, aggregate, nil)
}

func wrapCustody(op string, err error) error {
	if errs.ReasonOf(err) == errs.ReasonCustodyTransferFailed {
		return err
	}
	return errs.New(op, errs.CodeExternal, errs.ReasonCustodyTransferFailed, errs.WithCause(err))
}
