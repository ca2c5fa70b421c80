// Package copier copies generated code selected by .OwlBot.yaml
// configurations from a source repository checkout into downstream
// repositories and opens or updates the corresponding pull requests.
package copier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Sirflyzoner/owlbot/internal/copyledger"
	"github.com/Sirflyzoner/owlbot/internal/logfields"
	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
	"github.com/Sirflyzoner/owlbot/internal/scan"
)

const loggerName = "copier"

const destCloneDepth = 1

// GitClient is the subset of gitclt.Client the copier uses.
type GitClient interface {
	ToLocalRepo(ctx context.Context, repo owlconfig.Repository, workDir string, depth int, authToken string) (string, error)
	DefaultBranch(ctx context.Context, localPath string) (string, error)
	CheckoutNewBranch(ctx context.Context, localPath, branch, startPoint string) error
	CommitAll(ctx context.Context, localPath, message string) (bool, error)
	Push(ctx context.Context, localPath string, repo owlconfig.Repository, branch, authToken string) error
	CommitSummary(ctx context.Context, localPath, commitHash string) (string, error)
}

// GithubClient is the subset of githubclt.Client the copier uses.
type GithubClient interface {
	CreatePullRequest(ctx context.Context, repo owlconfig.Repository, head, base, title, body string, draft bool) (int, error)
	UpdatePullRequest(ctx context.Context, repo owlconfig.Repository, number int, title, body string) error
	FindPRForBranch(ctx context.Context, repo owlconfig.Repository, branch string) (int, error)
	CreateIssueComment(ctx context.Context, repo owlconfig.Repository, issueOrPRNr int, comment string) error
}

// Retryer re-runs GithubClient operations that failed temporarily.
type Retryer interface {
	Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error
}

// ConfigSource provides the parsed configurations of a downstream
// repository.
type ConfigSource interface {
	Configs(repo owlconfig.Repository) []*owlconfig.ConfigEntry
}

// Copier implements scan.Copier against real git and github collaborators.
type Copier struct {
	logger  *zap.Logger
	gitClt  GitClient
	ghClt   GithubClient
	retryer Retryer
	configs ConfigSource
	ledger  copyledger.Ledger

	sourceRepo owlconfig.Repository
	workDir    string
	authToken  string
	buildID    string
}

var _ scan.Copier = (*Copier)(nil)

func New(
	gitClt GitClient,
	ghClt GithubClient,
	retryer Retryer,
	configs ConfigSource,
	ledger copyledger.Ledger,
	sourceRepo owlconfig.Repository,
	workDir string,
	authToken string,
	buildID string,
) *Copier {
	return &Copier{
		logger:     zap.L().Named(loggerName),
		gitClt:     gitClt,
		ghClt:      ghClt,
		retryer:    retryer,
		configs:    configs,
		ledger:     ledger,
		sourceRepo: sourceRepo,
		workDir:    workDir,
		authToken:  authToken,
		buildID:    buildID,
	}
}

// CopyAndCreateOrUpdatePR copies the files selected by the task's
// config-paths into the destination repository and opens or updates one pull
// request per chunk of at most MaxYamlCountPerPullRequest config-paths.
// Every successfully processed config-path is recorded in the copy-state
// ledger.
func (c *Copier) CopyAndCreateOrUpdatePR(ctx context.Context, task *scan.CopyTask) error {
	chunks := chunkPaths(task.YamlPaths, task.MaxYamlCountPerPullRequest)

	for chunkNr, paths := range chunks {
		branch := branchName(task.CommitHash, chunkNr, len(chunks))

		if err := c.copyChunk(ctx, task, branch, paths); err != nil {
			return err
		}
	}

	return nil
}

func (c *Copier) copyChunk(ctx context.Context, task *scan.CopyTask, branch string, yamlPaths []string) error {
	logger := c.logger.With(
		logfields.Repository(task.DestRepo.String()),
		logfields.RepositoryOwner(task.DestRepo.Owner),
		logfields.Commit(task.CommitHash),
		logfields.Branch(branch),
		logfields.ConfigPaths(yamlPaths),
	)

	destPath, err := c.gitClt.ToLocalRepo(ctx, task.DestRepo, c.workDir, destCloneDepth, c.authToken)
	if err != nil {
		return fmt.Errorf("providing local clone of %s failed: %w", task.DestRepo, err)
	}

	baseBranch, err := c.gitClt.DefaultBranch(ctx, destPath)
	if err != nil {
		return fmt.Errorf("determining default branch of %s failed: %w", task.DestRepo, err)
	}

	if err := c.gitClt.CheckoutNewBranch(ctx, destPath, branch, "HEAD"); err != nil {
		return fmt.Errorf("creating branch %q in %s failed: %w", branch, task.DestRepo, err)
	}

	entries, err := c.configEntries(task.DestRepo, yamlPaths)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := copyCode(task.LocalSourcePath, destPath, entry.Config); err != nil {
			return fmt.Errorf("copying code for %s of %s failed: %w", entry.Path, task.DestRepo, err)
		}
	}

	summary, err := c.gitClt.CommitSummary(ctx, task.LocalSourcePath, task.CommitHash)
	if err != nil {
		return fmt.Errorf("reading commit message of %s failed: %w", task.CommitHash, err)
	}

	msg := commitMessage(summary, c.sourceRepo, task.CommitHash, task.UseNestedCommitDelimiters)

	committed, err := c.gitClt.CommitAll(ctx, destPath, msg.full())
	if err != nil {
		return fmt.Errorf("committing copied code in %s failed: %w", task.DestRepo, err)
	}

	if committed {
		if err := c.createOrUpdatePR(ctx, task, destPath, branch, baseBranch, msg, logger); err != nil {
			return err
		}
	} else {
		logger.Info(
			"copy produced no changes, no pull request needed",
			logfields.Event("copy_produced_no_changes"),
		)
	}

	// recorded last, a crash beforehand lets the next scan rediscover the
	// todo
	for _, entry := range entries {
		tag := copyledger.Tag(entry.Path, task.CommitHash)

		if err := c.ledger.RecordBuildForCopy(ctx, task.DestRepo, tag, c.buildID); err != nil {
			return fmt.Errorf("recording copy of %s for %s failed: %w", entry.Path, task.DestRepo, err)
		}
	}

	return nil
}

func (c *Copier) createOrUpdatePR(ctx context.Context, task *scan.CopyTask, destPath, branch, baseBranch string, msg message, logger *zap.Logger) error {
	if err := c.gitClt.Push(ctx, destPath, task.DestRepo, branch, c.authToken); err != nil {
		return fmt.Errorf("pushing branch %q to %s failed: %w", branch, task.DestRepo, err)
	}

	logF := []zap.Field{
		logfields.Repository(task.DestRepo.String()),
		logfields.Commit(task.CommitHash),
		logfields.Branch(branch),
	}

	var prNumber int

	err := c.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		prNumber, err = c.ghClt.FindPRForBranch(ctx, task.DestRepo, branch)
		return err
	}, logF)
	if err != nil {
		return fmt.Errorf("looking up pull request for branch %q in %s failed: %w", branch, task.DestRepo, err)
	}

	if prNumber == 0 {
		err := c.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			prNumber, err = c.ghClt.CreatePullRequest(
				ctx, task.DestRepo, branch, baseBranch, msg.title, msg.body, task.Draft)
			return err
		}, logF)
		if err != nil {
			return fmt.Errorf("creating pull request for %s failed: %w", task.DestRepo, err)
		}

		logger.Info(
			"pull request created",
			logfields.Event("pull_request_created"),
			logfields.PullRequest(prNumber),
		)

		return nil
	}

	err = c.retryer.Run(ctx, func(ctx context.Context) error {
		return c.ghClt.UpdatePullRequest(ctx, task.DestRepo, prNumber, msg.title, msg.body)
	}, logF)
	if err != nil {
		return fmt.Errorf("updating pull request #%d of %s failed: %w", prNumber, task.DestRepo, err)
	}

	comment := fmt.Sprintf(
		"Refreshed the branch with the changes of https://github.com/%s/%s/commit/%s.",
		c.sourceRepo.Owner, c.sourceRepo.Name, task.CommitHash,
	)
	err = c.retryer.Run(ctx, func(ctx context.Context) error {
		return c.ghClt.CreateIssueComment(ctx, task.DestRepo, prNumber, comment)
	}, logF)
	if err != nil {
		return fmt.Errorf("commenting on pull request #%d of %s failed: %w", prNumber, task.DestRepo, err)
	}

	logger.Info(
		"existing pull request updated",
		logfields.Event("pull_request_updated"),
		logfields.PullRequest(prNumber),
	)

	return nil
}

func (c *Copier) configEntries(repo owlconfig.Repository, yamlPaths []string) ([]*owlconfig.ConfigEntry, error) {
	byPath := map[string]*owlconfig.ConfigEntry{}
	for _, entry := range c.configs.Configs(repo) {
		byPath[entry.Path] = entry
	}

	result := make([]*owlconfig.ConfigEntry, 0, len(yamlPaths))
	for _, path := range yamlPaths {
		entry, exists := byPath[path]
		if !exists {
			return nil, fmt.Errorf("no configuration with path %q known for %s", path, repo)
		}

		result = append(result, entry)
	}

	return result, nil
}

// chunkPaths splits paths into chunks of at most max entries.
func chunkPaths(paths []string, max int) [][]string {
	if max <= 0 || len(paths) <= max {
		return [][]string{paths}
	}

	var result [][]string
	for len(paths) > max {
		result = append(result, paths[:max])
		paths = paths[max:]
	}

	return append(result, paths)
}

func branchName(commitHash string, chunkNr, chunkCount int) string {
	short := commitHash
	if len(short) > 12 {
		short = short[:12]
	}

	if chunkCount == 1 {
		return fmt.Sprintf("owlbot-copy-%s", short)
	}

	return fmt.Sprintf("owlbot-copy-%s-%d", short, chunkNr+1)
}
