package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/firewatch/firewatch/internal/model"
)

// rest issues one REST call and decodes the response into out when non-nil.
func (c *PATClient) rest(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return &PermanentError{Msg: fmt.Sprintf("encode request: %v", err)}
		}
	}
	respBody, _, err := c.do(ctx, method, c.apiBase+path, body)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &PermanentError{Msg: fmt.Sprintf("decode response: %v", err)}
		}
	}
	return nil
}

func repoPath(repo string) (string, error) {
	owner, name, err := model.SplitRepo(repo)
	if err != nil {
		return "", &PermanentError{Msg: err.Error()}
	}
	return "/repos/" + owner + "/" + name, nil
}

// AddReview submits a review (approve, request changes, or comment).
func (c *PATClient) AddReview(ctx context.Context, repo string, number int, event ReviewEvent, body string) (*MutationResult, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	var resp struct {
		NodeID  string `json:"node_id"`
		HTMLURL string `json:"html_url"`
	}
	payload := map[string]string{"event": string(event)}
	if body != "" {
		payload["body"] = body
	}
	path := fmt.Sprintf("%s/pulls/%d/reviews", base, number)
	if err := c.rest(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return nil, err
	}
	return &MutationResult{ID: resp.NodeID, URL: resp.HTMLURL}, nil
}

// ListCommits lists commits on a ref, optionally filtered to those touching
// path and newer than since. Used for file-activity enrichment.
func (c *PATClient) ListCommits(ctx context.Context, repo, ref, path string, since time.Time) ([]Commit, error) {
	base, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	q := url.Values{"per_page": {"100"}}
	if ref != "" {
		q.Set("sha", ref)
	}
	if path != "" {
		q.Set("path", path)
	}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	var raw []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message   string `json:"message"`
			Committer struct {
				Date time.Time `json:"date"`
			} `json:"committer"`
		} `json:"commit"`
		Author *struct {
			Login string `json:"login"`
		} `json:"author"`
	}
	if err := c.rest(ctx, http.MethodGet, base+"/commits?"+q.Encode(), nil, &raw); err != nil {
		return nil, err
	}
	commits := make([]Commit, 0, len(raw))
	for _, r := range raw {
		cm := Commit{
			OID:         r.SHA,
			Message:     r.Commit.Message,
			CommittedAt: r.Commit.Committer.Date,
		}
		if r.Author != nil {
			cm.Author = r.Author.Login
		}
		commits = append(commits, cm)
	}
	return commits, nil
}

// AddLabels adds labels to a PR's underlying issue.
func (c *PATClient) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/issues/%d/labels", base, number)
	return c.rest(ctx, http.MethodPost, path, map[string][]string{"labels": labels}, nil)
}

// RemoveLabel removes one label from a PR.
func (c *PATClient) RemoveLabel(ctx context.Context, repo string, number int, label string) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/issues/%d/labels/%s", base, number, url.PathEscape(label))
	return c.rest(ctx, http.MethodDelete, path, nil, nil)
}

// RequestReviewers asks the given users for review.
func (c *PATClient) RequestReviewers(ctx context.Context, repo string, number int, logins []string) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/pulls/%d/requested_reviewers", base, number)
	return c.rest(ctx, http.MethodPost, path, map[string][]string{"reviewers": logins}, nil)
}

// RemoveReviewers withdraws review requests.
func (c *PATClient) RemoveReviewers(ctx context.Context, repo string, number int, logins []string) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/pulls/%d/requested_reviewers", base, number)
	return c.rest(ctx, http.MethodDelete, path, map[string][]string{"reviewers": logins}, nil)
}

// AddAssignees assigns users to a PR.
func (c *PATClient) AddAssignees(ctx context.Context, repo string, number int, logins []string) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/issues/%d/assignees", base, number)
	return c.rest(ctx, http.MethodPost, path, map[string][]string{"assignees": logins}, nil)
}

// RemoveAssignees unassigns users from a PR.
func (c *PATClient) RemoveAssignees(ctx context.Context, repo string, number int, logins []string) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/issues/%d/assignees", base, number)
	return c.rest(ctx, http.MethodDelete, path, map[string][]string{"assignees": logins}, nil)
}

// SetMilestone attaches a milestone (by number) to a PR.
func (c *PATClient) SetMilestone(ctx context.Context, repo string, number, milestone int) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/issues/%d", base, number)
	return c.rest(ctx, http.MethodPatch, path, map[string]int{"milestone": milestone}, nil)
}

// ClearMilestone detaches any milestone from a PR.
func (c *PATClient) ClearMilestone(ctx context.Context, repo string, number int) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/issues/%d", base, number)
	return c.rest(ctx, http.MethodPatch, path, map[string]interface{}{"milestone": nil}, nil)
}

// EditPullRequest patches a PR's title, body, or base branch.
func (c *PATClient) EditPullRequest(ctx context.Context, repo string, number int, edit PREdit) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	payload := map[string]string{}
	if edit.Title != nil {
		payload["title"] = *edit.Title
	}
	if edit.Body != nil {
		payload["body"] = *edit.Body
	}
	if edit.Base != nil {
		payload["base"] = *edit.Base
	}
	if len(payload) == 0 {
		return nil
	}
	path := fmt.Sprintf("%s/pulls/%d", base, number)
	return c.rest(ctx, http.MethodPatch, path, payload, nil)
}

// EditIssueComment rewrites an issue comment's body by its REST ID.
func (c *PATClient) EditIssueComment(ctx context.Context, repo string, restID int64, body string) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/issues/comments/%d", base, restID)
	return c.rest(ctx, http.MethodPatch, path, map[string]string{"body": body}, nil)
}

// DeleteIssueComment deletes an issue comment by its REST ID.
func (c *PATClient) DeleteIssueComment(ctx context.Context, repo string, restID int64) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/issues/comments/%d", base, restID)
	return c.rest(ctx, http.MethodDelete, path, nil, nil)
}

// EditReviewComment rewrites a review comment's body by its REST ID.
func (c *PATClient) EditReviewComment(ctx context.Context, repo string, restID int64, body string) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/pulls/comments/%d", base, restID)
	return c.rest(ctx, http.MethodPatch, path, map[string]string{"body": body}, nil)
}

// DeleteReviewComment deletes a review comment by its REST ID.
func (c *PATClient) DeleteReviewComment(ctx context.Context, repo string, restID int64) error {
	base, err := repoPath(repo)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/pulls/comments/%d", base, restID)
	return c.rest(ctx, http.MethodDelete, path, nil, nil)
}
