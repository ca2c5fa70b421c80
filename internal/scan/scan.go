package scan

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/Sirflyzoner/owlbot/internal/copyledger"
	"github.com/Sirflyzoner/owlbot/internal/logfields"
	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
)

const loggerName = "scanner"

// DefCloneDepth bounds how many commits of the source repository history are
// examined per run.
const DefCloneDepth = 100

// Unbounded is the sentinel for thresholds without a limit.
const Unbounded = math.MaxInt

// LocalRepoProvider provides access to a local clone of the source
// repository.
type LocalRepoProvider interface {
	ToLocalRepo(ctx context.Context, repo owlconfig.Repository, workDir string, depth int, authToken string) (string, error)
	CommitHashList(ctx context.Context, localPath string, depth int) ([]string, error)
	FilesModifiedBySha(ctx context.Context, localPath, commitHash string) ([]string, error)
}

// ConfigStore resolves downstream repositories affected by changed source
// files.
type ConfigStore interface {
	FindReposAffectedByFileChanges(ctx context.Context, touchedFiles []string) ([]*owlconfig.AffectedRepo, error)
}

// CopyTask describes one copy-and-pull-request operation.
type CopyTask struct {
	LocalSourcePath string
	CommitHash      string
	DestRepo        owlconfig.Repository
	// YamlPaths are the config-paths copied in this pull request, in
	// configuration order.
	YamlPaths []string

	// MaxYamlCountPerPullRequest is a hard ceiling on how many
	// config-paths one physical pull request may carry.
	MaxYamlCountPerPullRequest int
	UseNestedCommitDelimiters  bool
	Draft                      bool
}

// Copier copies the files selected by the config-paths into the destination
// repository and creates or updates the corresponding pull request.
type Copier interface {
	CopyAndCreateOrUpdatePR(ctx context.Context, task *CopyTask) error
}

// Scanner schedules copy operations for unapplied source repository commits.
type Scanner struct {
	logger     *zap.Logger
	localRepos LocalRepoProvider
	configs    ConfigStore
	ledger     copyledger.Ledger
	copier     Copier

	sourceRepo owlconfig.Repository
	workDir    string
	authToken  string

	cloneDepth                 int
	combinePullsThreshold      int
	maxYamlCountPerPullRequest int
	useNestedCommitDelimiters  bool
	draft                      bool
}

type Option func(*Scanner)

// WithCloneDepth bounds the scanned history window.
func WithCloneDepth(depth int) Option {
	return func(s *Scanner) {
		s.cloneDepth = depth
	}
}

// WithCombinePullsThreshold combines all outstanding config-paths of one
// commit into a single pull request when more than threshold of them need
// copying.
// The comparison is strict: a commit with exactly threshold outstanding
// config-paths is not combined, every path still gets its own pull request.
// Combining only starts at threshold+1 paths. The default Unbounded never
// combines.
func WithCombinePullsThreshold(threshold int) Option {
	return func(s *Scanner) {
		s.combinePullsThreshold = threshold
	}
}

// WithMaxYamlCountPerPullRequest caps the config-paths one physical pull
// request may carry.
func WithMaxYamlCountPerPullRequest(max int) Option {
	return func(s *Scanner) {
		s.maxYamlCountPerPullRequest = max
	}
}

// WithNestedCommitDelimiters wraps inlined commit messages in BEGIN/END
// marker lines.
func WithNestedCommitDelimiters(enabled bool) Option {
	return func(s *Scanner) {
		s.useNestedCommitDelimiters = enabled
	}
}

// WithDraftPullRequests creates all pull requests as drafts.
func WithDraftPullRequests(enabled bool) Option {
	return func(s *Scanner) {
		s.draft = enabled
	}
}

func WithAuthToken(token string) Option {
	return func(s *Scanner) {
		s.authToken = token
	}
}

func New(
	sourceRepo owlconfig.Repository,
	workDir string,
	localRepos LocalRepoProvider,
	configs ConfigStore,
	ledger copyledger.Ledger,
	copier Copier,
	opts ...Option,
) *Scanner {
	s := Scanner{
		logger:                     zap.L().Named(loggerName),
		localRepos:                 localRepos,
		configs:                    configs,
		ledger:                     ledger,
		copier:                     copier,
		sourceRepo:                 sourceRepo,
		workDir:                    workDir,
		cloneDepth:                 DefCloneDepth,
		combinePullsThreshold:      Unbounded,
		maxYamlCountPerPullRequest: Unbounded,
	}

	for _, opt := range opts {
		opt(&s)
	}

	return &s
}

// Scan walks the source repository history and executes the outstanding copy
// operations, oldest commit first.
// It returns the number of executed todos.
// Collaborator errors are not retried and abort the run, idempotency across
// runs comes from the copy-state ledger alone.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	localPath, err := s.localRepos.ToLocalRepo(ctx, s.sourceRepo, s.workDir, s.cloneDepth, s.authToken)
	if err != nil {
		return 0, fmt.Errorf("providing local clone of %s failed: %w", s.sourceRepo, err)
	}

	commitHashes, err := s.localRepos.CommitHashList(ctx, localPath, s.cloneDepth)
	if err != nil {
		return 0, fmt.Errorf("listing commit history of %s failed: %w", s.sourceRepo, err)
	}

	stack, err := s.collectTodos(ctx, localPath, commitHashes)
	if err != nil {
		return 0, err
	}

	return s.replay(ctx, localPath, stack)
}

func (s *Scanner) collectTodos(ctx context.Context, localPath string, commitHashes []string) (*todoStack, error) {
	var stack todoStack

	for commitIndex, commitHash := range commitHashes {
		logger := s.logger.With(
			logfields.Commit(commitHash),
			logfields.CommitIndex(commitIndex),
		)

		touchedFiles, err := s.localRepos.FilesModifiedBySha(ctx, localPath, commitHash)
		if err != nil {
			return nil, fmt.Errorf("listing files modified by %s failed: %w", commitHash, err)
		}

		metrics.commitScanned()

		normalizeTouchedFiles(touchedFiles)

		affectedRepos, err := s.configs.FindReposAffectedByFileChanges(ctx, touchedFiles)
		if err != nil {
			return nil, fmt.Errorf("resolving repos affected by %s failed: %w", commitHash, err)
		}

		newTodos := 0

		for _, affected := range affectedRepos {
			if isTooOld(affected.Yamls, commitIndex, commitHashes) {
				logger.Info(
					"commit predates the repository's begin-after boundary, skipping",
					logfields.Event("commit_too_old"),
					logfields.Repository(affected.Repository.String()),
				)
				metrics.skipped(skipReasonTooOld)

				continue
			}

			todoPaths, err := s.uncopiedYamlPaths(ctx, affected, commitHash)
			if err != nil {
				return nil, err
			}

			if len(todoPaths) == 0 {
				continue
			}

			newTodos += s.aggregate(&stack, affected.Repository, commitHash, todoPaths)
		}

		// Once a commit affects repositories but all its work is
		// already covered downstream, everything older is covered
		// too.
		// A commit affecting zero repositories does not qualify, it
		// may simply be irrelevant while older relevant commits are
		// still unprocessed.
		if len(affectedRepos) > 0 && newTodos == 0 {
			logger.Debug(
				"commit is fully covered downstream, stopping history scan",
				logfields.Event("scan_terminated_early"),
			)

			break
		}
	}

	return &stack, nil
}

// uncopiedYamlPaths returns the config-paths of the affected repo whose
// (config-path, commit) combination has no copy record yet.
func (s *Scanner) uncopiedYamlPaths(ctx context.Context, affected *owlconfig.AffectedRepo, commitHash string) ([]string, error) {
	var result []string

	for _, yaml := range affected.Yamls {
		tag := copyledger.Tag(yaml.Path, commitHash)

		buildID, err := s.ledger.FindBuildForCopy(ctx, affected.Repository, tag)
		if err != nil {
			return nil, fmt.Errorf("looking up copy record for %s failed: %w", affected.Repository, err)
		}

		if buildID != "" {
			s.logger.Debug(
				"change was already copied by an earlier build, skipping",
				logfields.Event("copy_already_recorded"),
				logfields.Repository(affected.Repository.String()),
				logfields.ConfigPath(yaml.Path),
				logfields.Commit(commitHash),
				logfields.BuildID(buildID),
			)
			metrics.skipped(skipReasonAlreadyCopied)

			continue
		}

		result = append(result, yaml.Path)
	}

	return result, nil
}

// aggregate batches the outstanding config-paths of one (repo, commit) pair
// into todos and pushes them onto the stack.
// More paths than the combine threshold become a single combined todo,
// otherwise every path gets its own todo. The decision is local to one
// (repo, commit) pair.
func (s *Scanner) aggregate(stack *todoStack, repo owlconfig.Repository, commitHash string, todoPaths []string) int {
	if len(todoPaths) > s.combinePullsThreshold {
		stack.push(&todo{
			repo:       repo,
			commitHash: commitHash,
			yamlPaths:  todoPaths,
		})
		metrics.todoCreated()

		return 1
	}

	for _, path := range todoPaths {
		stack.push(&todo{
			repo:       repo,
			commitHash: commitHash,
			yamlPaths:  []string{path},
		})
		metrics.todoCreated()
	}

	return len(todoPaths)
}

// replay executes the collected todos sequentially, oldest commit first.
// Sequential execution keeps downstream pull requests in source history
// order, the copy-state ledger records progress after every successful
// operation.
func (s *Scanner) replay(ctx context.Context, localPath string, stack *todoStack) (int, error) {
	executed := 0

	for _, t := range stack.reversed() {
		s.logger.Info(
			"executing copy operation",
			logfields.Event("todo_executing"),
			logfields.Repository(t.repo.String()),
			logfields.Commit(t.commitHash),
			logfields.ConfigPaths(t.yamlPaths),
		)

		err := s.copier.CopyAndCreateOrUpdatePR(ctx, &CopyTask{
			LocalSourcePath:            localPath,
			CommitHash:                 t.commitHash,
			DestRepo:                   t.repo,
			YamlPaths:                  t.yamlPaths,
			MaxYamlCountPerPullRequest: s.maxYamlCountPerPullRequest,
			UseNestedCommitDelimiters:  s.useNestedCommitDelimiters,
			Draft:                      s.draft,
		})
		if err != nil {
			return executed, fmt.Errorf("copy operation for %s at %s failed: %w", t.repo, t.commitHash, err)
		}

		executed++
		metrics.todoExecuted()
	}

	s.logger.Info(
		"scan finished",
		logfields.Event("scan_finished"),
		zap.Int("executed_todos", executed),
		zap.Int("collected_todos", stack.len()),
	)

	return executed, nil
}

// isTooOld reports whether the commit at commitIndex predates or equals the
// repository's begin-after-commit-hash boundary.
// The first config declaring a non-empty boundary wins, later ones are
// ignored. A boundary hash outside the scanned window can not be located and
// the commit is treated as not stale.
func isTooOld(yamls []*owlconfig.ConfigEntry, commitIndex int, commitHashes []string) bool {
	var boundary string

	for _, yaml := range yamls {
		if yaml.Config.BeginAfterCommitHash != "" {
			boundary = yaml.Config.BeginAfterCommitHash
			break
		}
	}

	if boundary == "" {
		return false
	}

	beginIndex := -1
	for i, hash := range commitHashes {
		if hash == boundary {
			beginIndex = i
			break
		}
	}

	// larger index = older commit, stale when the boundary is the same
	// age or newer than the examined commit
	return beginIndex >= 0 && beginIndex <= commitIndex
}

// normalizeTouchedFiles prefixes every path with a path separator, matching
// the anchoring of the deep-copy-regex source patterns.
func normalizeTouchedFiles(files []string) {
	for i, f := range files {
		if !strings.HasPrefix(f, "/") {
			files[i] = "/" + f
		}
	}
}
