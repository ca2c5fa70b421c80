package copyledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
)

var testRepo = owlconfig.Repository{Owner: "dl", Name: "lib-a"}

func TestTagIsDeterministic(t *testing.T) {
	tag := Tag("a/.OwlBot.yaml", "c0")

	assert.Equal(t, tag, Tag("a/.OwlBot.yaml", "c0"))
	assert.NotEqual(t, tag, Tag("a/.OwlBot.yaml", "c1"))
	assert.NotEqual(t, tag, Tag("b/.OwlBot.yaml", "c0"))
}

func testLedger(t *testing.T, ledger Ledger) {
	t.Helper()

	ctx := context.Background()
	tag := Tag("a/.OwlBot.yaml", "c0")

	buildID, err := ledger.FindBuildForCopy(ctx, testRepo, tag)
	require.NoError(t, err)
	assert.Empty(t, buildID)

	require.NoError(t, ledger.RecordBuildForCopy(ctx, testRepo, tag, "build-1"))

	buildID, err = ledger.FindBuildForCopy(ctx, testRepo, tag)
	require.NoError(t, err)
	assert.Equal(t, "build-1", buildID)

	// the first record wins, re-recording is a no-op
	require.NoError(t, ledger.RecordBuildForCopy(ctx, testRepo, tag, "build-2"))

	buildID, err = ledger.FindBuildForCopy(ctx, testRepo, tag)
	require.NoError(t, err)
	assert.Equal(t, "build-1", buildID)

	// records are scoped per repository
	buildID, err = ledger.FindBuildForCopy(ctx, owlconfig.Repository{Owner: "dl", Name: "lib-b"}, tag)
	require.NoError(t, err)
	assert.Empty(t, buildID)
}

func TestMemoryLedger(t *testing.T) {
	testLedger(t, NewMemoryLedger())
}

func TestSQLiteLedger(t *testing.T) {
	ledger, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	testLedger(t, ledger)
}

func TestSQLiteLedgerPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	tag := Tag("a/.OwlBot.yaml", "c0")

	ledger, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, ledger.RecordBuildForCopy(ctx, testRepo, tag, "build-1"))
	require.NoError(t, ledger.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	buildID, err := reopened.FindBuildForCopy(ctx, testRepo, tag)
	require.NoError(t, err)
	assert.Equal(t, "build-1", buildID)
}
