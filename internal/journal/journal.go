// Package journal persists an append-only record of committed vault
// operations for audit and reconciliation.
package journal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType discriminates journal records.
type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
)

// Entry is one committed operation. Amounts are denominated as recorded at
// commit time; AssetIn and AmountIn are zero-valued for withdrawals.
type Entry struct {
	ID         string
	Type       EntryType
	Account    string
	AssetIn    string
	AmountIn   decimal.Decimal
	Settlement decimal.Decimal
	Balance    decimal.Decimal
	RecordedAt time.Time
}

// Journal is the append-only persistence boundary. Append happens after the
// ledger commit; a failed append must not unwind the operation.
type Journal interface {
	Append(ctx context.Context, entry Entry) error
	// Recent returns up to limit entries for the account, newest first.
	Recent(ctx context.Context, account string, limit int) ([]Entry, error)
}
