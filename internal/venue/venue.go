// Package venue defines the exchange-venue boundary the vault delegates
// price discovery and swap execution to.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/custodix/omnivault/internal/asset"
)

// Quote is an ephemeral estimate for converting amountIn along a route.
// Quotes are produced fresh per operation and never persisted.
type Quote struct {
	Route    asset.Route
	AmountIn decimal.Decimal
	Estimate decimal.Decimal
	QuotedAt time.Time
}

// Swap describes a slippage-bounded execution request. The venue must fail
// the swap outright if the realized output would fall below MinAmountOut or
// the deadline has passed.
type Swap struct {
	Route        asset.Route
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
	Recipient    string
	Deadline     time.Time
}

// Outcome is the settled result of an executed swap.
type Outcome struct {
	AmountOut  decimal.Decimal
	ExecutedAt time.Time
}

// Exchange is the consumed capability surface of the external venue. The
// venue owns no ledger state; it is a stateless collaborator from the
// vault's perspective.
type Exchange interface {
	// Quote estimates the output of converting amountIn along route.
	Quote(ctx context.Context, route asset.Route, amountIn decimal.Decimal) (Quote, error)
	// Execute performs the swap, failing hard on slippage or deadline breach.
	Execute(ctx context.Context, swap Swap) (Outcome, error)
	// PoolExists reports whether a liquidity pool exists for the pair.
	PoolExists(ctx context.Context, a, b asset.Symbol) (bool, error)
	// BridgeAsset returns the designated intermediate hop asset.
	BridgeAsset(ctx context.Context) (asset.Symbol, error)
}
