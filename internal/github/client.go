// Package github is the single typed facade over the GitHub REST API.
// Every call flows through the shared rate budget and returns either a
// typed result or a tagged ClientError, so callers never see raw HTTP.
package github

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/devscope-hq/devscope/internal/models"
	"github.com/devscope-hq/devscope/internal/observability"
	"github.com/devscope-hq/devscope/internal/ratebudget"
)

const (
	perPage = 100

	// Per-call pagination caps. Listing stops once the cap is reached
	// even when more pages exist.
	maxReposListed  = 500
	maxEventsListed = 300
	maxMembers      = 1000
	maxContributors = 500

	maxRetryAttempts = 5
	retryMaxDelay    = 30 * time.Second
)

// retryBaseDelay is the first backoff step for transient failures.
var retryBaseDelay = time.Second

// Client wraps the GitHub API with budget accounting and retries
type Client struct {
	gh     *github.Client
	budget *ratebudget.Budget
	log    *slog.Logger
}

// NewClient creates a client for the given token. An empty token uses
// the anonymous quota.
func NewClient(token string, timeout time.Duration, budget *ratebudget.Budget) *Client {
	httpClient := &http.Client{Timeout: timeout}
	gh := github.NewClient(httpClient)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}

	return &Client{
		gh:     gh,
		budget: budget,
		log:    slog.Default().With("component", "github"),
	}
}

// do runs one API call under the budget: acquire a permit, issue the
// call, feed the response headers back into the budget, and apply the
// retry policy. Transient failures back off exponentially; a rate-limit
// response reacquires the budget and retries once.
func (c *Client) do(ctx context.Context, op, resource string, fn func(ctx context.Context) (*github.Response, error)) error {
	attempts := 0
	rateRetried := false

	for {
		if err := c.budget.Acquire(ctx, 1); err != nil {
			return &ClientError{Kind: KindCancelled, Op: op, Resource: resource, Err: err}
		}

		resp, err := fn(ctx)
		c.observe(resp)
		observability.CountAPICall(op)
		if err == nil {
			return nil
		}

		cerr := classify(op, resource, err)
		switch cerr.Kind {
		case KindRateLimited:
			if rateRetried {
				return cerr
			}
			rateRetried = true
			// Zero the local estimate so the next Acquire blocks
			// until the server-reported reset.
			c.budget.Observe(0, cerr.ResetAt)
			c.log.Warn("rate limit exhausted, waiting for reset",
				"op", op, "resource", resource, "reset_at", cerr.ResetAt)
			continue
		case KindTransient:
			attempts++
			if attempts >= maxRetryAttempts {
				return cerr
			}
			delay := backoffDelay(attempts)
			c.log.Debug("transient failure, backing off",
				"op", op, "resource", resource, "attempt", attempts, "delay", delay)
			select {
			case <-ctx.Done():
				return &ClientError{Kind: KindCancelled, Op: op, Resource: resource, Err: ctx.Err()}
			case <-time.After(delay):
			}
			continue
		default:
			return cerr
		}
	}
}

func (c *Client) observe(resp *github.Response) {
	// Responses without rate headers leave Rate zero-valued; feeding
	// that into the budget would spuriously zero the window.
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	c.budget.Observe(resp.Rate.Remaining, resp.Rate.Reset.Time)
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << (attempt - 1)
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(delay/4)+1))
}

// GetUser fetches one user's public profile.
func (c *Client) GetUser(ctx context.Context, login string) (models.User, error) {
	var user models.User
	err := c.do(ctx, "get_user", login, func(ctx context.Context) (*github.Response, error) {
		u, resp, err := c.gh.Users.Get(ctx, login)
		if err != nil {
			return resp, err
		}
		user = mapUser(u)
		return resp, nil
	})
	return user, err
}

// ListUserRepos fetches the user's owned non-fork repos, newest push
// first, up to the listing cap.
func (c *Client) ListUserRepos(ctx context.Context, login string) ([]models.Repo, error) {
	opts := &github.RepositoryListByUserOptions{
		Type:        "owner",
		Sort:        "pushed",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []models.Repo
	for {
		var page []*github.Repository
		var next int
		err := c.do(ctx, "list_user_repos", login, func(ctx context.Context) (*github.Response, error) {
			repos, resp, err := c.gh.Repositories.ListByUser(ctx, login, opts)
			if err != nil {
				return resp, err
			}
			page = repos
			next = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return nil, err
		}

		for _, r := range page {
			if r.GetFork() {
				continue
			}
			all = append(all, mapRepo(r))
			if len(all) >= maxReposListed {
				return all, nil
			}
		}

		if next == 0 {
			break
		}
		opts.Page = next
	}

	return all, nil
}

// ListRepoLanguages fetches the byte counts per language for one repo.
func (c *Client) ListRepoLanguages(ctx context.Context, owner, name string) (map[string]int64, error) {
	var langs map[string]int64
	resource := owner + "/" + name
	err := c.do(ctx, "list_repo_languages", resource, func(ctx context.Context) (*github.Response, error) {
		raw, resp, err := c.gh.Repositories.ListLanguages(ctx, owner, name)
		if err != nil {
			return resp, err
		}
		langs = make(map[string]int64, len(raw))
		for lang, bytes := range raw {
			langs[lang] = int64(bytes)
		}
		return resp, nil
	})
	return langs, err
}

// ListUserOrgs fetches the orgs the user is a public member of.
func (c *Client) ListUserOrgs(ctx context.Context, login string) ([]string, error) {
	var orgs []string
	err := c.do(ctx, "list_user_orgs", login, func(ctx context.Context) (*github.Response, error) {
		raw, resp, err := c.gh.Organizations.List(ctx, login, &github.ListOptions{PerPage: perPage})
		if err != nil {
			return resp, err
		}
		for _, org := range raw {
			if org.GetLogin() != "" {
				orgs = append(orgs, org.GetLogin())
			}
		}
		return resp, nil
	})
	return orgs, err
}

// ListOrgMembers fetches the public members of an org, up to the cap.
func (c *Client) ListOrgMembers(ctx context.Context, org string) ([]string, error) {
	opts := &github.ListMembersOptions{
		PublicOnly:  true,
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var members []string
	for {
		var page []*github.User
		var next int
		err := c.do(ctx, "list_org_members", org, func(ctx context.Context) (*github.Response, error) {
			users, resp, err := c.gh.Organizations.ListMembers(ctx, org, opts)
			if err != nil {
				return resp, err
			}
			page = users
			next = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return nil, err
		}

		for _, u := range page {
			if u.GetLogin() == "" {
				continue
			}
			members = append(members, u.GetLogin())
			if len(members) >= maxMembers {
				return members, nil
			}
		}

		if next == 0 {
			break
		}
		opts.Page = next
	}

	return members, nil
}

// ListRepoContributors fetches a repo's contributors with commit
// counts, up to the cap. Anonymous contributors are skipped.
func (c *Client) ListRepoContributors(ctx context.Context, owner, name string) ([]models.Contributor, error) {
	opts := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	resource := owner + "/" + name

	var contributors []models.Contributor
	for {
		var page []*github.Contributor
		var next int
		err := c.do(ctx, "list_repo_contributors", resource, func(ctx context.Context) (*github.Response, error) {
			raw, resp, err := c.gh.Repositories.ListContributors(ctx, owner, name, opts)
			if err != nil {
				return resp, err
			}
			page = raw
			next = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return nil, err
		}

		for _, contrib := range page {
			if contrib.GetLogin() == "" {
				continue
			}
			contributors = append(contributors, models.Contributor{
				Login:         contrib.GetLogin(),
				Contributions: contrib.GetContributions(),
			})
			if len(contributors) >= maxContributors {
				return contributors, nil
			}
		}

		if next == 0 {
			break
		}
		opts.Page = next
	}

	return contributors, nil
}

func mapUser(u *github.User) models.User {
	return models.User{
		Login:           u.GetLogin(),
		Name:            u.GetName(),
		Bio:             u.GetBio(),
		Company:         u.GetCompany(),
		Location:        u.GetLocation(),
		Email:           u.GetEmail(),
		Blog:            u.GetBlog(),
		TwitterUsername: u.GetTwitterUsername(),
		CreatedAt:       u.GetCreatedAt().Time,
		Followers:       u.GetFollowers(),
		Following:       u.GetFollowing(),
		PublicRepos:     u.GetPublicRepos(),
	}
}

func mapRepo(r *github.Repository) models.Repo {
	return models.Repo{
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Owner:       r.GetOwner().GetLogin(),
		Description: r.GetDescription(),
		IsFork:      r.GetFork(),
		Language:    r.GetLanguage(),
		Stargazers:  r.GetStargazersCount(),
		Forks:       r.GetForksCount(),
		SizeBytes:   int64(r.GetSize()) * 1024,
		Topics:      r.Topics,
		CreatedAt:   r.GetCreatedAt().Time,
		PushedAt:    r.GetPushedAt().Time,
	}
}
