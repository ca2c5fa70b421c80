// Package copyledger records which build already copied which
// (config-path, commit) combination into a downstream repository.
// An existing record is a permanent skip signal, records are never expired.
package copyledger

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
)

// Ledger is the durable copy-state store.
type Ledger interface {
	// FindBuildForCopy returns the id of the build that performed the
	// copy identified by tag, or an empty string when no copy was
	// recorded.
	FindBuildForCopy(ctx context.Context, repo owlconfig.Repository, tag string) (string, error)

	// RecordBuildForCopy durably marks the copy as performed by buildID.
	// Recording an already existing tag is a no-op, the first record
	// wins.
	RecordBuildForCopy(ctx context.Context, repo owlconfig.Repository, tag, buildID string) error
}

type copyTag struct {
	Path   string `json:"p"`
	Commit string `json:"h"`
}

// Tag derives the deterministic ledger key component for one
// (config-path, commit) combination.
func Tag(configPath, commitHash string) string {
	data, err := json.Marshal(copyTag{Path: configPath, Commit: commitHash})
	if err != nil {
		// copyTag contains only strings, Marshal can not fail
		panic(err)
	}

	return base64.StdEncoding.EncodeToString(data)
}
