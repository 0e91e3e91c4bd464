// Package ledger implements the settlement-asset balance ledger: per-account
// balances, the aggregate, and the capacity and withdrawal guards.
package ledger

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/custodix/omnivault/errs"
)

// Account identifies a single depositor.
type Account string

// IsZero reports whether the account is the empty identity.
func (a Account) IsZero() bool { return a == "" }

// Stats is a point-in-time snapshot of ledger-wide counters.
type Stats struct {
	Aggregate         decimal.Decimal
	RemainingCapacity decimal.Decimal
	DepositCount      uint64
	WithdrawalCount   uint64
}

// Ledger owns account and aggregate balances exclusively. Both caps are
// immutable after construction. Credit and debit are all-or-nothing: a
// failed precondition leaves every balance untouched.
type Ledger struct {
	mu              sync.RWMutex
	balances        map[Account]decimal.Decimal
	aggregate       decimal.Decimal
	capacityCap     decimal.Decimal
	withdrawalLimit decimal.Decimal
	depositCount    uint64
	withdrawalCount uint64
}

// New constructs a ledger with the given immutable capacity cap and
// per-withdrawal limit.
func New(capacityCap, withdrawalLimit decimal.Decimal) *Ledger {
	return &Ledger{
		balances:        make(map[Account]decimal.Decimal),
		aggregate:       decimal.Zero,
		capacityCap:     capacityCap,
		withdrawalLimit: withdrawalLimit,
	}
}

// Credit atomically increments the account balance and the aggregate.
// Accounts are created implicitly on first credit.
func (l *Ledger) Credit(account Account, amount decimal.Decimal) (decimal.Decimal, error) {
	if account.IsZero() {
		return decimal.Zero, errs.New("ledger/credit", errs.CodeValidation, errs.ReasonZeroIdentity,
			errs.WithMessage("account identity required"))
	}
	if !amount.IsPositive() {
		return decimal.Zero, errs.New("ledger/credit", errs.CodeValidation, errs.ReasonZeroAmount,
			errs.WithField("amount", amount.String()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.aggregate.Add(amount)
	if next.GreaterThan(l.capacityCap) {
		return decimal.Zero, errs.New("ledger/credit", errs.CodeResourceLimit, errs.ReasonExceedsCapacity,
			errs.WithField("attempted", amount.String()),
			errs.WithField("available", l.capacityCap.Sub(l.aggregate).String()))
	}
	balance := l.balances[account].Add(amount)
	l.balances[account] = balance
	l.aggregate = next
	l.depositCount++
	return balance, nil
}

// Debit atomically decrements the account balance and the aggregate,
// enforcing the per-withdrawal limit before the balance check.
func (l *Ledger) Debit(account Account, amount decimal.Decimal) (decimal.Decimal, error) {
	if account.IsZero() {
		return decimal.Zero, errs.New("ledger/debit", errs.CodeValidation, errs.ReasonZeroIdentity,
			errs.WithMessage("account identity required"))
	}
	if !amount.IsPositive() {
		return decimal.Zero, errs.New("ledger/debit", errs.CodeValidation, errs.ReasonZeroAmount,
			errs.WithField("amount", amount.String()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.GreaterThan(l.withdrawalLimit) {
		return decimal.Zero, errs.New("ledger/debit", errs.CodeResourceLimit, errs.ReasonExceedsWithdrawalLimit,
			errs.WithField("requested", amount.String()),
			errs.WithField("max", l.withdrawalLimit.String()))
	}
	balance := l.balances[account]
	if balance.LessThan(amount) {
		return decimal.Zero, errs.New("ledger/debit", errs.CodeResourceLimit, errs.ReasonInsufficientBalance,
			errs.WithField("requested", amount.String()),
			errs.WithField("available", balance.String()))
	}
	balance = balance.Sub(amount)
	l.balances[account] = balance
	l.aggregate = l.aggregate.Sub(amount)
	l.withdrawalCount++
	return balance, nil
}

// BalanceOf returns the settlement balance for account. Unknown accounts
// report zero.
func (l *Ledger) BalanceOf(account Account) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// Aggregate returns the total settlement balance held by the ledger.
func (l *Ledger) Aggregate() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.aggregate
}

// CapacityCap returns the immutable aggregate ceiling.
func (l *Ledger) CapacityCap() decimal.Decimal { return l.capacityCap }

// WithdrawalLimit returns the immutable per-withdrawal ceiling.
func (l *Ledger) WithdrawalLimit() decimal.Decimal { return l.withdrawalLimit }

// CheckCapacity reports whether crediting amount would breach the cap.
func (l *Ledger) CheckCapacity(amount decimal.Decimal) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.aggregate.Add(amount).GreaterThan(l.capacityCap) {
		return errs.New("ledger/capacity", errs.CodeResourceLimit, errs.ReasonExceedsCapacity,
			errs.WithField("attempted", amount.String()),
			errs.WithField("available", l.capacityCap.Sub(l.aggregate).String()))
	}
	return nil
}

// CheckWithdrawalLimit reports whether amount exceeds the per-withdrawal
// ceiling, independent of any account balance.
func (l *Ledger) CheckWithdrawalLimit(amount decimal.Decimal) error {
	if amount.GreaterThan(l.withdrawalLimit) {
		return errs.New("ledger/withdrawal-limit", errs.CodeResourceLimit, errs.ReasonExceedsWithdrawalLimit,
			errs.WithField("requested", amount.String()),
			errs.WithField("max", l.withdrawalLimit.String()))
	}
	return nil
}

// Snapshot returns the current ledger-wide counters.
func (l *Ledger) Snapshot() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Aggregate:         l.aggregate,
		RemainingCapacity: l.capacityCap.Sub(l.aggregate),
		DepositCount:      l.depositCount,
		WithdrawalCount:   l.withdrawalCount,
	}
}

// SumBalances recomputes the aggregate from individual balances. It exists
// for invariant verification.
func (l *Ledger) SumBalances() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sum := decimal.Zero
	for _, balance := range l.balances {
		sum = sum.Add(balance)
	}
	return sum
}
