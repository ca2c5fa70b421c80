package copyledger

import (
	"context"
	"sync"

	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
)

// MemoryLedger is an in-memory Ledger.
// It is used in tests and dry runs, records do not survive the process.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]string
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: map[string]string{}}
}

func (l *MemoryLedger) key(repo owlconfig.Repository, tag string) string {
	return repo.String() + "\x00" + tag
}

func (l *MemoryLedger) FindBuildForCopy(_ context.Context, repo owlconfig.Repository, tag string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.records[l.key(repo, tag)], nil
}

func (l *MemoryLedger) RecordBuildForCopy(_ context.Context, repo owlconfig.Repository, tag, buildID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := l.key(repo, tag)
	if _, exists := l.records[key]; exists {
		return nil
	}

	l.records[key] = buildID

	return nil
}
