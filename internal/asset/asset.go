// Package asset defines asset identities, conversion routes, and the
// supported-asset registry.
package asset

import (
	"strconv"
	"strings"

	"github.com/custodix/omnivault/errs"
)

// Symbol identifies a single asset (e.g. "USDC", "ETH").
type Symbol string

// Normalize canonicalises an asset identity for map lookups.
func Normalize(raw string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsZero reports whether the symbol is the empty identity.
func (s Symbol) IsZero() bool {
	return strings.TrimSpace(string(s)) == ""
}

func (s Symbol) String() string { return string(s) }

// Route is an ordered conversion path between two assets. A direct route has
// two hops; a bridged route has three with the bridge asset in the middle.
// No other length is ever produced.
type Route []Symbol

// Direct builds the two-hop route from in to out.
func Direct(in, out Symbol) Route {
	return Route{in, out}
}

// Bridged builds the three-hop route from in to out through bridge.
func Bridged(in, bridge, out Symbol) Route {
	return Route{in, bridge, out}
}

// In returns the route's input asset.
func (r Route) In() Symbol {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

// Out returns the route's output asset.
func (r Route) Out() Symbol {
	if len(r) == 0 {
		return ""
	}
	return r[len(r)-1]
}

// Validate checks route shape: 2 or 3 hops, no empty identities.
func (r Route) Validate() error {
	if len(r) != 2 && len(r) != 3 {
		return errs.New("asset/route", errs.CodeValidation, errs.ReasonUnknown,
			errs.WithMessage("route must have 2 or 3 hops"),
			errs.WithField("hops", strconv.Itoa(len(r))))
	}
	for _, hop := range r {
		if hop.IsZero() {
			return errs.New("asset/route", errs.CodeValidation, errs.ReasonZeroIdentity,
				errs.WithMessage("route contains empty asset identity"))
		}
	}
	return nil
}

func (r Route) String() string {
	parts := make([]string, 0, len(r))
	for _, hop := range r {
		parts = append(parts, string(hop))
	}
	return strings.Join(parts, ">")
}
