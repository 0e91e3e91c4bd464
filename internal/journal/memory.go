package journal

import (
	"context"
	"sync"
)

// Memory is an in-process journal for tests and single-node deployments.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemory constructs an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{}
}

// Append records the entry.
func (m *Memory) Append(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Recent returns up to limit entries for the account, newest first.
func (m *Memory) Recent(_ context.Context, account string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.entries[i].Account == account {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// Len reports the total number of recorded entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
