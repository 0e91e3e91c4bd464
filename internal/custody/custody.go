// Package custody abstracts physical asset movement in and out of the vault.
package custody

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/custodix/omnivault/errs"
	"github.com/custodix/omnivault/internal/asset"
)

// Custodian moves assets between external accounts and the vault's own
// holdings. Implementations must be atomic per call: a returned error means
// nothing moved.
type Custodian interface {
	// TransferIn pulls amount of sym from the account into the vault.
	TransferIn(ctx context.Context, account string, sym asset.Symbol, amount decimal.Decimal) error
	// TransferOut pushes amount of sym from the vault to the account.
	TransferOut(ctx context.Context, account string, sym asset.Symbol, amount decimal.Decimal) error
}

// Memory is an in-process custodian tracking per-account external holdings.
// It backs tests and local development; production deployments plug a real
// settlement rail behind the Custodian interface.
type Memory struct {
	mu       sync.Mutex
	holdings map[string]decimal.Decimal
	vault    map[asset.Symbol]decimal.Decimal

	// FailNextOut forces the next TransferOut to fail, for verifying that
	// ledger state is settled before custody release.
	FailNextOut bool
}

// NewMemory constructs an empty in-memory custodian.
func NewMemory() *Memory {
	return &Memory{
		holdings: make(map[string]decimal.Decimal),
		vault:    make(map[asset.Symbol]decimal.Decimal),
	}
}

// Fund seeds an external account with amount of sym.
func (m *Memory) Fund(account string, sym asset.Symbol, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := holdingKey(account, sym)
	m.holdings[key] = m.holdings[key].Add(amount)
}

// Holding reports the external balance of sym held by account.
func (m *Memory) Holding(account string, sym asset.Symbol) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdings[holdingKey(account, sym)]
}

// VaultHolding reports the amount of sym held by the vault itself.
func (m *Memory) VaultHolding(sym asset.Symbol) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vault[sym]
}

// TransferIn moves amount of sym from the account's external holding into
// the vault.
func (m *Memory) TransferIn(_ context.Context, account string, sym asset.Symbol, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := holdingKey(account, sym)
	if m.holdings[key].LessThan(amount) {
		return errs.New("custody/transfer_in", errs.CodeExternal, errs.ReasonCustodyTransferFailed,
			errs.WithMessage("external holding too small"),
			errs.WithField("account", account),
			errs.WithField("asset", sym.String()))
	}
	m.holdings[key] = m.holdings[key].Sub(amount)
	m.vault[sym] = m.vault[sym].Add(amount)
	return nil
}

// TransferOut moves amount of sym from the vault back to the account.
func (m *Memory) TransferOut(_ context.Context, account string, sym asset.Symbol, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNextOut {
		m.FailNextOut = false
		return errs.New("custody/transfer_out", errs.CodeExternal, errs.ReasonCustodyTransferFailed,
			errs.WithMessage("injected transfer failure"),
			errs.WithField("account", account))
	}
	if m.vault[sym].LessThan(amount) {
		return errs.New("custody/transfer_out", errs.CodeExternal, errs.ReasonCustodyTransferFailed,
			errs.WithMessage("vault holding too small"),
			errs.WithField("asset", sym.String()))
	}
	m.vault[sym] = m.vault[sym].Sub(amount)
	key := holdingKey(account, sym)
	m.holdings[key] = m.holdings[key].Add(amount)
	return nil
}

func holdingKey(account string, sym asset.Symbol) string {
	return account + "|" + sym.String()
}
