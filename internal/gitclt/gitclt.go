// Package gitclt provides access to local git repository clones by shelling
// out to the git binary.
package gitclt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/Sirflyzoner/owlbot/internal/logfields"
	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
)

const loggerName = "git_client"

type Client struct {
	logger *zap.Logger
}

func New() *Client {
	return &Client{
		logger: zap.L().Named(loggerName),
	}
}

// remoteURL returns the https clone url of the repository, embedding the
// token for authentication when one is given.
func remoteURL(repo owlconfig.Repository, authToken string) string {
	if authToken == "" {
		return fmt.Sprintf("https://github.com/%s/%s.git", repo.Owner, repo.Name)
	}

	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", authToken, repo.Owner, repo.Name)
}

// ToLocalRepo ensures a local clone of the repository below workDir and
// returns its filesystem path.
// An existing clone is updated via fetch, otherwise a depth-limited clone is
// created.
func (c *Client) ToLocalRepo(ctx context.Context, repo owlconfig.Repository, workDir string, depth int, authToken string) (string, error) {
	localPath := filepath.Join(workDir, repo.Owner, repo.Name)

	if _, err := os.Stat(filepath.Join(localPath, ".git")); err == nil {
		c.logger.Debug(
			"reusing existing clone",
			logfields.Event("git_clone_reused"),
			logfields.Repository(repo.String()),
			zap.String("local_path", localPath),
		)

		if _, err := c.run(ctx, localPath, "fetch", "--depth", fmt.Sprint(depth), "origin"); err != nil {
			return "", fmt.Errorf("fetching %s failed: %w", repo, err)
		}

		if _, err := c.run(ctx, localPath, "reset", "--hard", "FETCH_HEAD"); err != nil {
			return "", fmt.Errorf("resetting %s to FETCH_HEAD failed: %w", repo, err)
		}

		return localPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", err
	}

	c.logger.Debug(
		"cloning repository",
		logfields.Event("git_cloning"),
		logfields.Repository(repo.String()),
		zap.String("local_path", localPath),
		zap.Int("depth", depth),
	)

	_, err := c.run(ctx, filepath.Dir(localPath),
		"clone", "--depth", fmt.Sprint(depth), remoteURL(repo, authToken), localPath)
	if err != nil {
		return "", fmt.Errorf("cloning %s failed: %w", repo, err)
	}

	return localPath, nil
}

// CommitHashList returns up to depth commit hashes of the current branch,
// newest first.
func (c *Client) CommitHashList(ctx context.Context, localPath string, depth int) ([]string, error) {
	out, err := c.run(ctx, localPath, "log", "-n", fmt.Sprint(depth), "--format=%H")
	if err != nil {
		return nil, err
	}

	return splitLines(out), nil
}

// FilesModifiedBySha returns the repository-relative paths of the files
// touched by the commit.
func (c *Client) FilesModifiedBySha(ctx context.Context, localPath, commitHash string) ([]string, error) {
	out, err := c.run(ctx, localPath, "diff-tree", "--no-commit-id", "--name-only", "-r", commitHash)
	if err != nil {
		return nil, err
	}

	return splitLines(out), nil
}

// CommitSummary returns the full commit message of the commit.
func (c *Client) CommitSummary(ctx context.Context, localPath, commitHash string) (string, error) {
	out, err := c.run(ctx, localPath, "log", "-1", "--format=%B", commitHash)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(out, "\n"), nil
}

// DefaultBranch returns the name of the currently checked out branch, which
// is the remote's default branch right after ToLocalRepo.
func (c *Client) DefaultBranch(ctx context.Context, localPath string) (string, error) {
	out, err := c.run(ctx, localPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out), nil
}

// CheckoutNewBranch creates and checks out branch at startPoint, discarding
// a previously existing local branch of the same name.
func (c *Client) CheckoutNewBranch(ctx context.Context, localPath, branch, startPoint string) error {
	_, err := c.run(ctx, localPath, "checkout", "-B", branch, startPoint)
	return err
}

// CommitAll stages all changes in the worktree and commits them.
// If the worktree is clean, false is returned and no commit is created.
func (c *Client) CommitAll(ctx context.Context, localPath, message string) (bool, error) {
	if _, err := c.run(ctx, localPath, "add", "--all"); err != nil {
		return false, err
	}

	status, err := c.run(ctx, localPath, "status", "--porcelain")
	if err != nil {
		return false, err
	}

	if strings.TrimSpace(status) == "" {
		return false, nil
	}

	if _, err := c.run(ctx, localPath, "commit", "-m", message); err != nil {
		return false, err
	}

	return true, nil
}

// Push force-pushes branch to the remote repository.
func (c *Client) Push(ctx context.Context, localPath string, repo owlconfig.Repository, branch, authToken string) error {
	_, err := c.run(ctx, localPath, "push", "--force", remoteURL(repo, authToken),
		fmt.Sprintf("HEAD:refs/heads/%s", branch))
	return err
}

// tokenRe matches embedded access tokens in clone urls, they must not end up
// in error messages or logs.
var tokenRe = regexp.MustCompile(`x-access-token:[^@]+@`)

func redactToken(in string) string {
	return tokenRe.ReplaceAllString(in, "x-access-token:***@")
}

func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w, output: %s",
			redactToken(strings.Join(args, " ")), err,
			redactToken(strings.TrimSpace(string(out))))
	}

	return string(out), nil
}

// splitLines strips only line terminators. Filenames containing leading or
// trailing spaces must survive unchanged.
func splitLines(out string) []string {
	var result []string

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			result = append(result, line)
		}
	}

	return result
}
