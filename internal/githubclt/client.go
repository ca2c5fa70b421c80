// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/go-github/v43/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Sirflyzoner/owlbot/internal/logfields"
	"github.com/Sirflyzoner/owlbot/internal/owlconfig"
	"github.com/Sirflyzoner/owlbot/internal/owlerr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// New returns a new github api client.
func New(oauthAPItoken string) *Client {
	httpClient := newHTTPClient(oauthAPItoken)
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is a github API client.
// All methods return an owlerr.RetryableError when an operation can be
// retried. This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// CreatePullRequest opens a pull request from head to base and returns its
// number.
func (clt *Client) CreatePullRequest(ctx context.Context, repo owlconfig.Repository, head, base, title, body string, draft bool) (int, error) {
	pr, _, err := clt.restClt.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
		Title: &title,
		Head:  &head,
		Base:  &base,
		Body:  &body,
		Draft: &draft,
	})
	if err != nil {
		return 0, clt.wrapRetryableErrors(err)
	}

	clt.logger.Debug(
		"pull request created",
		logfields.Event("github_pull_request_created"),
		logfields.Repository(repo.String()),
		logfields.PullRequest(pr.GetNumber()),
	)

	return pr.GetNumber(), nil
}

// UpdatePullRequest replaces the title and body of an existing pull request.
func (clt *Client) UpdatePullRequest(ctx context.Context, repo owlconfig.Repository, number int, title, body string) error {
	_, _, err := clt.restClt.PullRequests.Edit(ctx, repo.Owner, repo.Name, number, &github.PullRequest{
		Title: &title,
		Body:  &body,
	})

	return clt.wrapRetryableErrors(err)
}

// CreateIssueComment creates a comment in an issue or pull request.
func (clt *Client) CreateIssueComment(ctx context.Context, repo owlconfig.Repository, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, repo.Owner, repo.Name, issueOrPRNr, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// FindPRForBranch returns the number of the open pull request whose head is
// branch, or 0 when none exists.
func (clt *Client) FindPRForBranch(ctx context.Context, repo owlconfig.Repository, branch string) (int, error) {
	var query struct {
		Repository struct {
			PullRequests struct {
				Nodes []struct {
					Number githubv4.Int
				}
			} `graphql:"pullRequests(first: 1, states: OPEN, headRefName: $headRef)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]interface{}{
		"owner":   githubv4.String(repo.Owner),
		"name":    githubv4.String(repo.Name),
		"headRef": githubv4.String(branch),
	}

	if err := clt.graphQLClt.Query(ctx, &query, vars); err != nil {
		return 0, clt.wrapGraphQLRetryableErrors(err)
	}

	if len(query.Repository.PullRequests.Nodes) == 0 {
		return 0, nil
	}

	return int(query.Repository.PullRequests.Nodes[0].Number), nil
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return owlerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return owlerr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return owlerr.NewRetryableAnytimeError(err)
	}

	return err
}
