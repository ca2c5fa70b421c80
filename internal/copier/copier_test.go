package copier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Sirflyzoner/owlbot/internal/copyledger"
	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
	"github.com/Sirflyzoner/owlbot/internal/scan"
)

var destRepo = owlconfig.Repository{Owner: "dl", Name: "lib-a"}

// fakeGit simulates the local git operations, file copying still happens in
// the real checkout directories.
type fakeGit struct {
	destPath  string
	summary   string
	noChanges bool

	checkedOutBranches []string
	commitMessages     []string
	pushedBranches     []string
}

func (f *fakeGit) ToLocalRepo(context.Context, owlconfig.Repository, string, int, string) (string, error) {
	return f.destPath, nil
}

func (f *fakeGit) DefaultBranch(context.Context, string) (string, error) {
	return "main", nil
}

func (f *fakeGit) CheckoutNewBranch(_ context.Context, _, branch, _ string) error {
	f.checkedOutBranches = append(f.checkedOutBranches, branch)
	return nil
}

func (f *fakeGit) CommitAll(_ context.Context, _, message string) (bool, error) {
	if f.noChanges {
		return false, nil
	}

	f.commitMessages = append(f.commitMessages, message)
	return true, nil
}

func (f *fakeGit) Push(_ context.Context, _ string, _ owlconfig.Repository, branch, _ string) error {
	f.pushedBranches = append(f.pushedBranches, branch)
	return nil
}

func (f *fakeGit) CommitSummary(context.Context, string, string) (string, error) {
	return f.summary, nil
}

type createdPR struct {
	head  string
	base  string
	title string
	body  string
	draft bool
}

type fakeGithub struct {
	existingPRs map[string]int

	created  []createdPR
	updated  []int
	comments map[int][]string
}

func (f *fakeGithub) CreatePullRequest(_ context.Context, _ owlconfig.Repository, head, base, title, body string, draft bool) (int, error) {
	f.created = append(f.created, createdPR{head: head, base: base, title: title, body: body, draft: draft})
	return 42, nil
}

func (f *fakeGithub) UpdatePullRequest(_ context.Context, _ owlconfig.Repository, number int, _, _ string) error {
	f.updated = append(f.updated, number)
	return nil
}

func (f *fakeGithub) FindPRForBranch(_ context.Context, _ owlconfig.Repository, branch string) (int, error) {
	return f.existingPRs[branch], nil
}

func (f *fakeGithub) CreateIssueComment(_ context.Context, _ owlconfig.Repository, issueOrPRNr int, comment string) error {
	if f.comments == nil {
		f.comments = map[int][]string{}
	}
	f.comments[issueOrPRNr] = append(f.comments[issueOrPRNr], comment)
	return nil
}

// passthroughRetryer runs the operation exactly once.
type passthroughRetryer struct{}

func (passthroughRetryer) Run(ctx context.Context, fn func(context.Context) error, _ []zap.Field) error {
	return fn(ctx)
}

type fakeConfigSource struct {
	entries []*owlconfig.ConfigEntry
}

func (f *fakeConfigSource) Configs(owlconfig.Repository) []*owlconfig.ConfigEntry {
	return f.entries
}

func testEntry(t *testing.T, path string) *owlconfig.ConfigEntry {
	t.Helper()

	config, err := owlconfig.Parse([]byte(
		"deep-copy-regex:\n  - source: \"^/pkg-a/(.*)\"\n    dest: \"/out/$1\"\n"))
	require.NoError(t, err)

	return &owlconfig.ConfigEntry{Path: path, Config: config}
}

func newTestCopier(t *testing.T, git *fakeGit, gh *fakeGithub, configs ConfigSource, ledger copyledger.Ledger) *Copier {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	return New(
		git,
		gh,
		passthroughRetryer{},
		configs,
		ledger,
		owlconfig.Repository{Owner: "gen", Name: "generated-code"},
		t.TempDir(),
		"",
		"build-test",
	)
}

func TestCopyCreatesPullRequestAndRecordsLedger(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "pkg-a/gen.go", "generated")

	git := &fakeGit{
		destPath: t.TempDir(),
		summary:  "feat: regenerate\n\ndetails",
	}
	gh := &fakeGithub{}
	ledger := copyledger.NewMemoryLedger()

	c := newTestCopier(t, git, gh,
		&fakeConfigSource{entries: []*owlconfig.ConfigEntry{testEntry(t, "a/.OwlBot.yaml")}},
		ledger,
	)

	err := c.CopyAndCreateOrUpdatePR(context.Background(), &scan.CopyTask{
		LocalSourcePath:            src,
		CommitHash:                 "c0ffee1234567890",
		DestRepo:                   destRepo,
		YamlPaths:                  []string{"a/.OwlBot.yaml"},
		MaxYamlCountPerPullRequest: scan.Unbounded,
		Draft:                      true,
	})
	require.NoError(t, err)

	assert.Equal(t, "generated", readFile(t, git.destPath, "out/gen.go"))

	require.Len(t, gh.created, 1)
	assert.Equal(t, "owlbot-copy-c0ffee123456", gh.created[0].head)
	assert.Equal(t, "main", gh.created[0].base)
	assert.Equal(t, "feat: regenerate", gh.created[0].title)
	assert.Contains(t, gh.created[0].body, "Source-Link: https://github.com/gen/generated-code/commit/c0ffee1234567890")
	assert.True(t, gh.created[0].draft)
	assert.Empty(t, gh.updated)
	assert.Empty(t, gh.comments)

	assert.Equal(t, []string{"owlbot-copy-c0ffee123456"}, git.pushedBranches)

	buildID, err := ledger.FindBuildForCopy(
		context.Background(), destRepo, copyledger.Tag("a/.OwlBot.yaml", "c0ffee1234567890"))
	require.NoError(t, err)
	assert.Equal(t, "build-test", buildID)
}

func TestCopyUpdatesExistingPullRequest(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "pkg-a/gen.go", "generated")

	git := &fakeGit{
		destPath: t.TempDir(),
		summary:  "feat: regenerate",
	}
	gh := &fakeGithub{
		existingPRs: map[string]int{"owlbot-copy-c0ffee123456": 7},
	}

	c := newTestCopier(t, git, gh,
		&fakeConfigSource{entries: []*owlconfig.ConfigEntry{testEntry(t, "a/.OwlBot.yaml")}},
		copyledger.NewMemoryLedger(),
	)

	err := c.CopyAndCreateOrUpdatePR(context.Background(), &scan.CopyTask{
		LocalSourcePath:            src,
		CommitHash:                 "c0ffee1234567890",
		DestRepo:                   destRepo,
		YamlPaths:                  []string{"a/.OwlBot.yaml"},
		MaxYamlCountPerPullRequest: scan.Unbounded,
	})
	require.NoError(t, err)

	assert.Empty(t, gh.created)
	assert.Equal(t, []int{7}, gh.updated)

	require.Len(t, gh.comments[7], 1)
	assert.Contains(t, gh.comments[7][0], "https://github.com/gen/generated-code/commit/c0ffee1234567890")
}

func TestCopyWithoutChangesSkipsPullRequestButRecordsLedger(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "pkg-a/gen.go", "generated")

	git := &fakeGit{
		destPath:  t.TempDir(),
		summary:   "feat: regenerate",
		noChanges: true,
	}
	gh := &fakeGithub{}
	ledger := copyledger.NewMemoryLedger()

	c := newTestCopier(t, git, gh,
		&fakeConfigSource{entries: []*owlconfig.ConfigEntry{testEntry(t, "a/.OwlBot.yaml")}},
		ledger,
	)

	err := c.CopyAndCreateOrUpdatePR(context.Background(), &scan.CopyTask{
		LocalSourcePath:            src,
		CommitHash:                 "c0",
		DestRepo:                   destRepo,
		YamlPaths:                  []string{"a/.OwlBot.yaml"},
		MaxYamlCountPerPullRequest: scan.Unbounded,
	})
	require.NoError(t, err)

	assert.Empty(t, gh.created)
	assert.Empty(t, git.pushedBranches)

	// the combination is still marked as copied, re-scans must not
	// rediscover it
	buildID, err := ledger.FindBuildForCopy(
		context.Background(), destRepo, copyledger.Tag("a/.OwlBot.yaml", "c0"))
	require.NoError(t, err)
	assert.Equal(t, "build-test", buildID)
}

func TestCopySplitsChunksByYamlCap(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "pkg-a/gen.go", "generated")

	git := &fakeGit{
		destPath: t.TempDir(),
		summary:  "feat: regenerate",
	}
	gh := &fakeGithub{}

	entries := []*owlconfig.ConfigEntry{
		testEntry(t, "a/.OwlBot.yaml"),
		testEntry(t, "b/.OwlBot.yaml"),
		testEntry(t, "c/.OwlBot.yaml"),
	}

	c := newTestCopier(t, git, gh, &fakeConfigSource{entries: entries}, copyledger.NewMemoryLedger())

	err := c.CopyAndCreateOrUpdatePR(context.Background(), &scan.CopyTask{
		LocalSourcePath:            src,
		CommitHash:                 "c0ffee1234567890",
		DestRepo:                   destRepo,
		YamlPaths:                  []string{"a/.OwlBot.yaml", "b/.OwlBot.yaml", "c/.OwlBot.yaml"},
		MaxYamlCountPerPullRequest: 2,
	})
	require.NoError(t, err)

	// 3 config-paths with a cap of 2 result in 2 pull requests
	require.Len(t, gh.created, 2)
	assert.Equal(t, "owlbot-copy-c0ffee123456-1", gh.created[0].head)
	assert.Equal(t, "owlbot-copy-c0ffee123456-2", gh.created[1].head)
}

func TestChunkPaths(t *testing.T) {
	paths := []string{"a", "b", "c", "d", "e"}

	assert.Equal(t, [][]string{paths}, chunkPaths(paths, scan.Unbounded))
	assert.Equal(t, [][]string{paths}, chunkPaths(paths, 5))
	assert.Equal(t,
		[][]string{{"a", "b"}, {"c", "d"}, {"e"}},
		chunkPaths(paths, 2),
	)
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "owlbot-copy-abc", branchName("abc", 0, 1))
	assert.Equal(t, "owlbot-copy-abcdefabcdef", branchName("abcdefabcdefabcdef", 0, 1))
	assert.Equal(t, "owlbot-copy-abc-2", branchName("abc", 1, 3))
}
