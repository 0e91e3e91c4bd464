// Package fake provides a deterministic in-memory venue used to verify the
// vault's invariants without a real exchange.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodix/omnivault/errs"
	"github.com/custodix/omnivault/internal/asset"
	"github.com/custodix/omnivault/internal/venue"
)

// Venue is a fixed-rate exchange double. Each pair carries one conversion
// rate; quotes and executions are deterministic. An optional execution rate
// override lets tests move the price between quote and execution.
type Venue struct {
	mu        sync.Mutex
	bridge    asset.Symbol
	rates     map[string]decimal.Decimal
	execRates map[string]decimal.Decimal
	clock     func() time.Time

	// ExecuteHook, when set, runs inside Execute before settlement. Tests
	// use it to simulate reentrant callbacks from the venue.
	ExecuteHook func()
}

// NewVenue constructs a fake venue with the given bridge asset.
func NewVenue(bridge asset.Symbol) *Venue {
	return &Venue{
		bridge:    bridge,
		rates:     make(map[string]decimal.Decimal),
		execRates: make(map[string]decimal.Decimal),
		clock:     time.Now,
	}
}

// WithClock overrides the venue clock, primarily for testing deadlines.
func (v *Venue) WithClock(clock func() time.Time) *Venue {
	v.mu.Lock()
	defer v.mu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	v.clock = clock
	return v
}

// SetRate installs a pool for the pair with the given conversion rate
// (amountOut = amountIn * rate). The reverse direction uses the inverse.
func (v *Venue) SetRate(a, b asset.Symbol, rate decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rates[pairKey(a, b)] = rate
	if !rate.IsZero() {
		v.rates[pairKey(b, a)] = decimal.NewFromInt(1).Div(rate)
	}
}

// SetExecutionRate overrides the rate used at execution time for the pair,
// simulating price movement between quote and swap.
func (v *Venue) SetExecutionRate(a, b asset.Symbol, rate decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.execRates[pairKey(a, b)] = rate
}

// DropPool removes the pool for the pair in both directions.
func (v *Venue) DropPool(a, b asset.Symbol) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.rates, pairKey(a, b))
	delete(v.rates, pairKey(b, a))
}

// Quote estimates the conversion along route at the configured rates.
func (v *Venue) Quote(_ context.Context, route asset.Route, amountIn decimal.Decimal) (venue.Quote, error) {
	if err := route.Validate(); err != nil {
		return venue.Quote{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	estimate, err := v.convertLocked(route, amountIn, false)
	if err != nil {
		return venue.Quote{}, err
	}
	return venue.Quote{
		Route:    route,
		AmountIn: amountIn,
		Estimate: estimate,
		QuotedAt: v.clock().UTC(),
	}, nil
}

// Execute settles the swap at the execution rates, enforcing the slippage
// bound and deadline the way a well-behaved venue must.
func (v *Venue) Execute(_ context.Context, swap venue.Swap) (venue.Outcome, error) {
	if err := swap.Route.Validate(); err != nil {
		return venue.Outcome{}, err
	}
	if hook := v.ExecuteHook; hook != nil {
		hook()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.clock().UTC()
	if !swap.Deadline.IsZero() && now.After(swap.Deadline) {
		return venue.Outcome{}, errs.New("fakevenue/execute", errs.CodeExternal, errs.ReasonDeadlineExpired,
			errs.WithField("deadline", swap.Deadline.UTC().Format(time.RFC3339)))
	}
	amountOut, err := v.convertLocked(swap.Route, swap.AmountIn, true)
	if err != nil {
		return venue.Outcome{}, err
	}
	if amountOut.LessThan(swap.MinAmountOut) {
		return venue.Outcome{}, errs.New("fakevenue/execute", errs.CodeExternal, errs.ReasonSlippageBoundViolated,
			errs.WithField("amount_out", amountOut.String()),
			errs.WithField("min_amount_out", swap.MinAmountOut.String()))
	}
	return venue.Outcome{AmountOut: amountOut, ExecutedAt: now}, nil
}

// PoolExists reports whether a rate is configured for the pair.
func (v *Venue) PoolExists(_ context.Context, a, b asset.Symbol) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.rates[pairKey(a, b)]
	return ok, nil
}

// BridgeAsset returns the configured bridge asset.
func (v *Venue) BridgeAsset(context.Context) (asset.Symbol, error) {
	return v.bridge, nil
}

func (v *Venue) convertLocked(route asset.Route, amountIn decimal.Decimal, execution bool) (decimal.Decimal, error) {
	amount := amountIn
	for i := 0; i < len(route)-1; i++ {
		key := pairKey(route[i], route[i+1])
		rate, ok := v.rates[key]
		if !ok {
			return decimal.Zero, errs.New("fakevenue/convert", errs.CodeExternal, errs.ReasonNoLiquidityPath,
				errs.WithField("pair", key))
		}
		if execution {
			if override, ok := v.execRates[key]; ok {
				rate = override
			}
		}
		amount = amount.Mul(rate)
	}
	return amount, nil
}

func pairKey(a, b asset.Symbol) string {
	return a.String() + "/" + b.String()
}
