// Package postgres persists the vault journal in PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodix/omnivault/internal/journal"
)

const (
	insertEntry = `
INSERT INTO journal_entries (id, entry_type, account, asset_in, amount_in, settlement, balance, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	selectRecent = `
SELECT id, entry_type, account, asset_in, amount_in, settlement, balance, recorded_at
FROM journal_entries
WHERE account = $1
ORDER BY recorded_at DESC, id DESC
LIMIT $2`
)

// Store is a journal backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Append inserts the entry.
func (s *Store) Append(ctx context.Context, entry journal.Entry) error {
	amountIn, err := toNumeric(entry.AmountIn)
	if err != nil {
		return fmt.Errorf("encode amount_in: %w", err)
	}
	settlement, err := toNumeric(entry.Settlement)
	if err != nil {
		return fmt.Errorf("encode settlement: %w", err)
	}
	balance, err := toNumeric(entry.Balance)
	if err != nil {
		return fmt.Errorf("encode balance: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertEntry,
		entry.ID, string(entry.Type), entry.Account, entry.AssetIn,
		amountIn, settlement, balance, entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for the account, newest first.
func (s *Store) Recent(ctx context.Context, account string, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, selectRecent, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var (
			entry     journal.Entry
			entryType string
		)
		var amountIn, settlement, balance numericValue
		if err := rows.Scan(&entry.ID, &entryType, &entry.Account, &entry.AssetIn,
			&amountIn, &settlement, &balance, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.Type = journal.EntryType(entryType)
		if entry.AmountIn, err = fromNumeric(amountIn); err != nil {
			return nil, fmt.Errorf("decode amount_in: %w", err)
		}
		if entry.Settlement, err = fromNumeric(settlement); err != nil {
			return nil, fmt.Errorf("decode settlement: %w", err)
		}
		if entry.Balance, err = fromNumeric(balance); err != nil {
			return nil, fmt.Errorf("decode balance: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return out, nil
}
