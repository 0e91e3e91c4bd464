// Package route resolves liquidity paths between a deposited asset and the
// settlement asset.
package route

import (
	"context"

	"github.com/custodix/omnivault/errs"
	"github.com/custodix/omnivault/internal/asset"
)

// Pools is the venue capability the resolver consumes.
type Pools interface {
	PoolExists(ctx context.Context, a, b asset.Symbol) (bool, error)
	BridgeAsset(ctx context.Context) (asset.Symbol, error)
}

// Resolver computes swap routes against live venue liquidity. Resolution is
// performed fresh per operation; routes are never cached because pools can
// appear or vanish between operations.
type Resolver struct {
	pools      Pools
	settlement asset.Symbol
}

// NewResolver constructs a resolver targeting the given settlement asset.
func NewResolver(pools Pools, settlement asset.Symbol) *Resolver {
	return &Resolver{pools: pools, settlement: settlement}
}

// Resolve returns the route from in to the settlement asset. A direct pool
// wins over the bridge path; the bridge path is used only when the direct
// pool is absent and both bridge-side pools exist.
func (r *Resolver) Resolve(ctx context.Context, in asset.Symbol) (asset.Route, error) {
	if in.IsZero() {
		return nil, errs.New("route/resolve", errs.CodeValidation, errs.ReasonAssetNotSupported,
			errs.WithMessage("empty input asset"))
	}
	if in == r.settlement {
		return nil, errs.New("route/resolve", errs.CodeValidation, errs.ReasonAssetNotSupported,
			errs.WithMessage("settlement asset needs no route"),
			errs.WithField("asset", in.String()))
	}

	direct, err := r.pools.PoolExists(ctx, in, r.settlement)
	if err != nil {
		return nil, err
	}
	if direct {
		return asset.Direct(in, r.settlement), nil
	}

	bridge, err := r.pools.BridgeAsset(ctx)
	if err != nil {
		return nil, err
	}
	if bridge.IsZero() || bridge == in || bridge == r.settlement {
		return nil, noPath(in, r.settlement)
	}
	inToBridge, err := r.pools.PoolExists(ctx, in, bridge)
	if err != nil {
		return nil, err
	}
	if !inToBridge {
		return nil, noPath(in, r.settlement)
	}
	bridgeToOut, err := r.pools.PoolExists(ctx, bridge, r.settlement)
	if err != nil {
		return nil, err
	}
	if !bridgeToOut {
		return nil, noPath(in, r.settlement)
	}
	return asset.Bridged(in, bridge, r.settlement), nil
}

func noPath(in, out asset.Symbol) error {
	return errs.New("route/resolve", errs.CodeExternal, errs.ReasonNoLiquidityPath,
		errs.WithField("in", in.String()),
		errs.WithField("out", out.String()))
}
