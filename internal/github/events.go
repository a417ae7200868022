package github

import (
	"context"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/devscope-hq/devscope/internal/models"
)

// eventWindow bounds how far back listed events are kept.
const eventWindow = 90 * 24 * time.Hour

// commitsPerPushCap bounds how many commits a single push contributes.
const commitsPerPushCap = 20

// ListUserEvents fetches the user's recent public events, newest first,
// capped at three pages and trimmed to the event window.
func (c *Client) ListUserEvents(ctx context.Context, login string) ([]models.Event, error) {
	opts := &github.ListOptions{PerPage: perPage}
	cutoff := time.Now().Add(-eventWindow)

	var all []models.Event
	for {
		var page []*github.Event
		var next int
		err := c.do(ctx, "list_user_events", login, func(ctx context.Context) (*github.Response, error) {
			events, resp, err := c.gh.Activity.ListEventsPerformedByUser(ctx, login, true, opts)
			if err != nil {
				return resp, err
			}
			page = events
			next = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return nil, err
		}

		for _, ev := range page {
			if ev.GetCreatedAt().Time.Before(cutoff) {
				return all, nil
			}
			all = append(all, mapEvent(ev, login))
			if len(all) >= maxEventsListed {
				return all, nil
			}
		}

		if next == 0 || next > maxEventsListed/perPage {
			break
		}
		opts.Page = next
	}

	return all, nil
}

// mapEvent reduces a raw event to the excerpt the extractors need:
// the event class, its repo, commit counts and author emails for
// pushes, and the counterparty login where one can be identified.
func mapEvent(ev *github.Event, login string) models.Event {
	out := models.Event{
		Type:      ev.GetType(),
		Repo:      ev.GetRepo().GetName(),
		CreatedAt: ev.GetCreatedAt().Time,
	}

	payload, err := ev.ParsePayload()
	if err != nil {
		return out
	}

	switch p := payload.(type) {
	case *github.PushEvent:
		count := len(p.Commits)
		if count > commitsPerPushCap {
			count = commitsPerPushCap
		}
		out.CommitCount = count
		for _, commit := range p.Commits {
			if email := commit.GetAuthor().GetEmail(); email != "" {
				out.CommitEmails = append(out.CommitEmails, email)
			}
		}
		out.OtherActor = counterparty(repoOwner(out.Repo), login)
	case *github.PullRequestEvent:
		out.Action = p.GetAction()
		pr := p.GetPullRequest()
		out.PRMerged = pr.GetMerged() || pr.MergedAt != nil
		out.OtherActor = counterparty(pr.GetUser().GetLogin(), login)
		if out.OtherActor == "" {
			out.OtherActor = counterparty(repoOwner(out.Repo), login)
		}
	case *github.PullRequestReviewEvent:
		out.Action = p.GetAction()
		out.OtherActor = counterparty(p.GetPullRequest().GetUser().GetLogin(), login)
	case *github.IssuesEvent:
		out.Action = p.GetAction()
		out.OtherActor = counterparty(repoOwner(out.Repo), login)
	case *github.IssueCommentEvent:
		out.Action = p.GetAction()
		out.OtherActor = counterparty(p.GetIssue().GetUser().GetLogin(), login)
	}

	return out
}

// repoOwner extracts the owner from an "owner/name" event repo field.
func repoOwner(fullName string) string {
	owner, _, found := strings.Cut(fullName, "/")
	if !found {
		return ""
	}
	return owner
}

// counterparty returns other unless it is the acting user itself.
func counterparty(other, login string) string {
	if other == "" || strings.EqualFold(other, login) {
		return ""
	}
	return other
}
