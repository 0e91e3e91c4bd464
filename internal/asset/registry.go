package asset

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodix/omnivault/errs"
)

// PoolQuerier is the subset of the exchange venue consulted when validating
// that a convertible asset has a liquidity path to the settlement asset.
type PoolQuerier interface {
	PoolExists(ctx context.Context, a, b Symbol) (bool, error)
	BridgeAsset(ctx context.Context) (Symbol, error)
}

// Descriptor holds the registration state of a single asset. Deregistration
// tombstones the entry; it is never removed from the ordered list.
type Descriptor struct {
	Symbol             Symbol
	Supported          bool
	RequiresConversion bool
	RegisteredAt       time.Time
}

// Statistics accumulates per-asset deposit figures. All fields are
// monotonically increasing and mutated only on successful deposits.
type Statistics struct {
	TotalDeposited decimal.Decimal
	DepositCount   uint64
	TotalConverted decimal.Decimal
}

// Registry owns asset descriptors and statistics. The ordered descriptor
// list is append-only so historical indices stay stable.
type Registry struct {
	mu          sync.RWMutex
	settlement  Symbol
	ordered     []Symbol
	descriptors map[Symbol]*Descriptor
	stats       map[Symbol]*Statistics
	pools       PoolQuerier
	clock       func() time.Time
}

// NewRegistry seeds a registry with the settlement asset, which is supported,
// needs no conversion, and can never be removed.
func NewRegistry(settlement Symbol, pools PoolQuerier) *Registry {
	r := &Registry{
		settlement:  settlement,
		ordered:     nil,
		descriptors: make(map[Symbol]*Descriptor),
		stats:       make(map[Symbol]*Statistics),
		pools:       pools,
		clock:       time.Now,
	}
	r.ordered = append(r.ordered, settlement)
	r.descriptors[settlement] = &Descriptor{
		Symbol:             settlement,
		Supported:          true,
		RequiresConversion: false,
		RegisteredAt:       r.clock().UTC(),
	}
	r.stats[settlement] = newStatistics()
	return r
}

// WithClock overrides the registry clock, primarily for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	r.clock = clock
	return r
}

// SettlementAsset returns the asset all balances are denominated in.
func (r *Registry) SettlementAsset() Symbol {
	return r.settlement
}

// Register adds an asset. Convertible assets must have a liquidity path to
// the settlement asset, either direct or through the venue's bridge asset.
func (r *Registry) Register(ctx context.Context, sym Symbol, requiresConversion bool) error {
	if sym.IsZero() {
		return errs.New("registry/register", errs.CodeValidation, errs.ReasonZeroIdentity,
			errs.WithMessage("asset identity required"))
	}

	r.mu.RLock()
	desc, exists := r.descriptors[sym]
	r.mu.RUnlock()
	if exists && desc.Supported {
		return errs.New("registry/register", errs.CodeState, errs.ReasonAlreadySupported,
			errs.WithField("asset", sym.String()))
	}

	if requiresConversion {
		if err := r.validateLiquidityPath(ctx, sym); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	desc, exists = r.descriptors[sym]
	if exists {
		if desc.Supported {
			return errs.New("registry/register", errs.CodeState, errs.ReasonAlreadySupported,
				errs.WithField("asset", sym.String()))
		}
		// Re-registration of a tombstoned asset keeps its index and history.
		desc.Supported = true
		desc.RequiresConversion = requiresConversion
		desc.RegisteredAt = r.clock().UTC()
		return nil
	}
	r.ordered = append(r.ordered, sym)
	r.descriptors[sym] = &Descriptor{
		Symbol:             sym,
		Supported:          true,
		RequiresConversion: requiresConversion,
		RegisteredAt:       r.clock().UTC(),
	}
	r.stats[sym] = newStatistics()
	return nil
}

// Deregister tombstones an asset. Balances and statistics are unaffected;
// only future deposits are blocked.
func (r *Registry) Deregister(sym Symbol) error {
	if sym == r.settlement {
		return errs.New("registry/deregister", errs.CodeState, errs.ReasonCannotRemoveSettlementAsset,
			errs.WithField("asset", sym.String()))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	desc, ok := r.descriptors[sym]
	if !ok || !desc.Supported {
		return errs.New("registry/deregister", errs.CodeState, errs.ReasonAssetNotSupported,
			errs.WithField("asset", sym.String()))
	}
	desc.Supported = false
	return nil
}

// Describe returns a copy of the descriptor for sym.
func (r *Registry) Describe(sym Symbol) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[sym]
	if !ok {
		return Descriptor{}, false
	}
	return *desc, true
}

// IsSupported reports whether deposits in sym are currently accepted.
func (r *Registry) IsSupported(sym Symbol) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.descriptors[sym]
	return ok && desc.Supported
}

// ListSupported returns the currently supported assets in stable
// registration order.
func (r *Registry) ListSupported() []Symbol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Symbol, 0, len(r.ordered))
	for _, sym := range r.ordered {
		if desc, ok := r.descriptors[sym]; ok && desc.Supported {
			out = append(out, sym)
		}
	}
	return out
}

// SupportedCount returns the number of currently supported assets.
func (r *Registry) SupportedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, desc := range r.descriptors {
		if desc.Supported {
			count++
		}
	}
	return count
}

// RecordDeposit accumulates statistics for a successful deposit of sym.
func (r *Registry) RecordDeposit(sym Symbol, amountIn, converted decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stats[sym]
	if !ok {
		st = newStatistics()
		r.stats[sym] = st
	}
	st.TotalDeposited = st.TotalDeposited.Add(amountIn)
	st.DepositCount++
	st.TotalConverted = st.TotalConverted.Add(converted)
}

// StatsFor returns a copy of the statistics for sym.
func (r *Registry) StatsFor(sym Symbol) (Statistics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stats[sym]
	if !ok {
		return Statistics{TotalDeposited: decimal.Zero, DepositCount: 0, TotalConverted: decimal.Zero}, false
	}
	return *st, true
}

func (r *Registry) validateLiquidityPath(ctx context.Context, sym Symbol) error {
	direct, err := r.pools.PoolExists(ctx, sym, r.settlement)
	if err != nil {
		return errs.New("registry/register", errs.CodeExternal, errs.ReasonNoLiquidityPath,
			errs.WithMessage("pool existence query failed"),
			errs.WithField("asset", sym.String()),
			errs.WithCause(err))
	}
	if direct {
		return nil
	}
	bridge, err := r.pools.BridgeAsset(ctx)
	if err != nil {
		return errs.New("registry/register", errs.CodeExternal, errs.ReasonNoLiquidityPath,
			errs.WithMessage("bridge asset query failed"),
			errs.WithField("asset", sym.String()),
			errs.WithCause(err))
	}
	bridged, err := r.pools.PoolExists(ctx, sym, bridge)
	if err != nil {
		return errs.New("registry/register", errs.CodeExternal, errs.ReasonNoLiquidityPath,
			errs.WithMessage("pool existence query failed"),
			errs.WithField("asset", sym.String()),
			errs.WithCause(err))
	}
	if bridged {
		return nil
	}
	return errs.New("registry/register", errs.CodeExternal, errs.ReasonNoLiquidityPath,
		errs.WithField("asset", sym.String()),
		errs.WithField("settlement_asset", r.settlement.String()))
}

func newStatistics() *Statistics {
	return &Statistics{
		TotalDeposited: decimal.Zero,
		DepositCount:   0,
		TotalConverted: decimal.Zero,
	}
}
