package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/firewatch/firewatch/internal/model"
)

const listPageSize = 50

// graphqlRequest is the wire shape of a GraphQL POST.
type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// graphql executes one GraphQL document and decodes data into out.
func (c *PATClient) graphql(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return &PermanentError{Msg: fmt.Sprintf("encode graphql request: %v", err)}
	}
	body, _, err := c.do(ctx, http.MethodPost, c.apiBase+"/graphql", payload)
	if err != nil {
		return err
	}

	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &PermanentError{Msg: fmt.Sprintf("decode graphql response: %v", err)}
	}
	if len(resp.Errors) > 0 {
		return mapGraphQLError(resp.Errors[0])
	}
	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return &PermanentError{Msg: fmt.Sprintf("decode graphql data: %v", err)}
		}
	}
	return nil
}

// mapGraphQLError translates GitHub's top-level GraphQL errors into the
// client taxonomy by their type field, falling back to message inspection.
func mapGraphQLError(e graphqlError) error {
	switch e.Type {
	case "NOT_FOUND":
		return &NotFoundError{Resource: e.Message}
	case "FORBIDDEN":
		return &AuthError{Msg: e.Message}
	case "RATE_LIMITED":
		return &RateLimitError{Reset: time.Now().Add(time.Minute)}
	}
	if strings.Contains(strings.ToLower(e.Message), "already") {
		return &ConflictError{Msg: e.Message}
	}
	return &PermanentError{Msg: e.Message}
}

// actor matches the GraphQL Actor interface; only login is used.
type actor struct {
	Login string `json:"login"`
}

func (a *actor) login() string {
	if a == nil {
		return ""
	}
	return a.Login
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type labelConn struct {
	Nodes []struct {
		Name string `json:"name"`
	} `json:"nodes"`
}

func (l labelConn) names() []string {
	if len(l.Nodes) == 0 {
		return nil
	}
	out := make([]string, len(l.Nodes))
	for i, n := range l.Nodes {
		out[i] = n.Name
	}
	return out
}

const listPullRequestsQuery = `
query($owner: String!, $name: String!, $states: [PullRequestState!], $first: Int!, $cursor: String) {
	repository(owner: $owner, name: $name) {
		pullRequests(states: $states, first: $first, after: $cursor,
				orderBy: {field: UPDATED_AT, direction: DESC}) {
			pageInfo { hasNextPage endCursor }
			nodes {
				id
				number
				title
				state
				isDraft
				url
				updatedAt
				author { login }
				headRefName
				labels(first: 20) { nodes { name } }
			}
		}
	}
}`

// ListPullRequests returns one page of PRs ordered by most recent update.
func (c *PATClient) ListPullRequests(ctx context.Context, repo string, states []model.PRState, cursor string) (*PRPage, error) {
	owner, name, err := model.SplitRepo(repo)
	if err != nil {
		return nil, &PermanentError{Msg: err.Error()}
	}

	variables := map[string]interface{}{
		"owner":  owner,
		"name":   name,
		"states": graphqlStates(states),
		"first":  listPageSize,
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}

	var data struct {
		Repository struct {
			PullRequests struct {
				PageInfo pageInfo `json:"pageInfo"`
				Nodes    []struct {
					ID          string    `json:"id"`
					Number      int       `json:"number"`
					Title       string    `json:"title"`
					State       string    `json:"state"`
					IsDraft     bool      `json:"isDraft"`
					URL         string    `json:"url"`
					UpdatedAt   time.Time `json:"updatedAt"`
					Author      *actor    `json:"author"`
					HeadRefName string    `json:"headRefName"`
					Labels      labelConn `json:"labels"`
				} `json:"nodes"`
			} `json:"pullRequests"`
		} `json:"repository"`
	}
	if err := c.graphql(ctx, listPullRequestsQuery, variables, &data); err != nil {
		return nil, err
	}

	conn := data.Repository.PullRequests
	page := &PRPage{
		EndCursor: conn.PageInfo.EndCursor,
		HasNext:   conn.PageInfo.HasNextPage,
		PRs:       make([]*PRSummary, 0, len(conn.Nodes)),
	}
	for _, n := range conn.Nodes {
		page.PRs = append(page.PRs, &PRSummary{
			Number:    n.Number,
			NodeID:    n.ID,
			Title:     n.Title,
			Author:    n.Author.login(),
			State:     n.State,
			IsDraft:   n.IsDraft,
			HeadRef:   n.HeadRefName,
			Labels:    n.Labels.names(),
			URL:       n.URL,
			UpdatedAt: n.UpdatedAt,
		})
	}
	return page, nil
}

// graphqlStates maps Firewatch PR states to the PullRequestState enum.
// Draft is a flag on OPEN in the API, not a distinct state.
func graphqlStates(states []model.PRState) []string {
	seen := map[string]bool{}
	var out []string
	for _, st := range states {
		var s string
		switch st {
		case model.StateMerged:
			s = "MERGED"
		case model.StateClosed:
			s = "CLOSED"
		default:
			s = "OPEN"
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

const pullRequestDetailQuery = `
query($owner: String!, $name: String!, $number: Int!,
		$reviewCursor: String, $threadCursor: String, $commentCursor: String, $commitCursor: String) {
	repository(owner: $owner, name: $name) {
		pullRequest(number: $number) {
			id
			number
			title
			state
			isDraft
			url
			updatedAt
			author { login }
			headRefName
			labels(first: 20) { nodes { name } }
			reviews(first: 100, after: $reviewCursor) {
				pageInfo { hasNextPage endCursor }
				nodes {
					id
					state
					body
					url
					createdAt
					author { login }
				}
			}
			reviewThreads(first: 100, after: $threadCursor) {
				pageInfo { hasNextPage endCursor }
				nodes {
					id
					isResolved
					comments(first: 100) {
						nodes {
							id
							databaseId
							body
							path
							line
							url
							createdAt
							author { login }
						}
					}
				}
			}
			comments(first: 100, after: $commentCursor) {
				pageInfo { hasNextPage endCursor }
				nodes {
					id
					databaseId
					body
					url
					createdAt
					author { login }
					reactions(first: 100, content: THUMBS_UP) {
						nodes { user { login } }
					}
				}
			}
			commits(first: 100, after: $commitCursor) {
				pageInfo { hasNextPage endCursor }
				nodes {
					commit {
						oid
						message
						committedDate
						author { user { login } }
						statusCheckRollup {
							contexts(first: 100) {
								nodes {
									__typename
									... on CheckRun {
										id
										name
										status
										conclusion
										completedAt
										detailsUrl
									}
									... on StatusContext {
										id
										context
										state
										createdAt
										targetUrl
									}
								}
							}
						}
					}
				}
			}
		}
	}
}`

type detailReviewNode struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	Author    *actor    `json:"author"`
}

type detailThreadNode struct {
	ID         string `json:"id"`
	IsResolved bool   `json:"isResolved"`
	Comments   struct {
		Nodes []struct {
			ID         string    `json:"id"`
			DatabaseID int64     `json:"databaseId"`
			Body       string    `json:"body"`
			Path       string    `json:"path"`
			Line       int       `json:"line"`
			URL        string    `json:"url"`
			CreatedAt  time.Time `json:"createdAt"`
			Author     *actor    `json:"author"`
		} `json:"nodes"`
	} `json:"comments"`
}

type detailCommentNode struct {
	ID         string    `json:"id"`
	DatabaseID int64     `json:"databaseId"`
	Body       string    `json:"body"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"createdAt"`
	Author     *actor    `json:"author"`
	Reactions  struct {
		Nodes []struct {
			User struct {
				Login string `json:"login"`
			} `json:"user"`
		} `json:"nodes"`
	} `json:"reactions"`
}

type detailCommitNode struct {
	Commit struct {
		OID           string    `json:"oid"`
		Message       string    `json:"message"`
		CommittedDate time.Time `json:"committedDate"`
		Author        struct {
			User *actor `json:"user"`
		} `json:"author"`
		StatusCheckRollup *struct {
			Contexts struct {
				Nodes []struct {
					Typename    string    `json:"__typename"`
					ID          string    `json:"id"`
					Name        string    `json:"name"`
					Status      string    `json:"status"`
					Conclusion  string    `json:"conclusion"`
					CompletedAt time.Time `json:"completedAt"`
					DetailsURL  string    `json:"detailsUrl"`
					Context     string    `json:"context"`
					State       string    `json:"state"`
					CreatedAt   time.Time `json:"createdAt"`
					TargetURL   string    `json:"targetUrl"`
				} `json:"nodes"`
			} `json:"contexts"`
		} `json:"statusCheckRollup"`
	} `json:"commit"`
}

type detailPR struct {
	ID          string    `json:"id"`
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	State       string    `json:"state"`
	IsDraft     bool      `json:"isDraft"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Author      *actor    `json:"author"`
	HeadRefName string    `json:"headRefName"`
	Labels      labelConn `json:"labels"`
	Reviews     struct {
		PageInfo pageInfo           `json:"pageInfo"`
		Nodes    []detailReviewNode `json:"nodes"`
	} `json:"reviews"`
	ReviewThreads struct {
		PageInfo pageInfo           `json:"pageInfo"`
		Nodes    []detailThreadNode `json:"nodes"`
	} `json:"reviewThreads"`
	Comments struct {
		PageInfo pageInfo            `json:"pageInfo"`
		Nodes    []detailCommentNode `json:"nodes"`
	} `json:"comments"`
	Commits struct {
		PageInfo pageInfo           `json:"pageInfo"`
		Nodes    []detailCommitNode `json:"nodes"`
	} `json:"commits"`
}

type detailData struct {
	Repository struct {
		PullRequest *detailPR `json:"pullRequest"`
	} `json:"repository"`
}

// PullRequestDetail fetches every child collection for one PR, following
// connection cursors until each is exhausted.
func (c *PATClient) PullRequestDetail(ctx context.Context, repo string, number int) (*PRDetail, error) {
	owner, name, err := model.SplitRepo(repo)
	if err != nil {
		return nil, &PermanentError{Msg: err.Error()}
	}

	variables := map[string]interface{}{
		"owner":  owner,
		"name":   name,
		"number": number,
	}

	var detail *PRDetail
	for {
		var data detailData
		if err := c.graphql(ctx, pullRequestDetailQuery, variables, &data); err != nil {
			return nil, err
		}
		pr := data.Repository.PullRequest
		if pr == nil {
			return nil, &NotFoundError{Resource: fmt.Sprintf("%s#%d", repo, number)}
		}

		if detail == nil {
			detail = &PRDetail{PRSummary: PRSummary{
				Number:    pr.Number,
				NodeID:    pr.ID,
				Title:     pr.Title,
				Author:    pr.Author.login(),
				State:     pr.State,
				IsDraft:   pr.IsDraft,
				HeadRef:   pr.HeadRefName,
				Labels:    pr.Labels.names(),
				URL:       pr.URL,
				UpdatedAt: pr.UpdatedAt,
			}}
		}
		appendDetailPage(detail, pr)

		// Advance whichever connections still have pages; null cursors
		// re-fetch page one, so only set the ones we follow.
		more := false
		if pr.Reviews.PageInfo.HasNextPage {
			variables["reviewCursor"] = pr.Reviews.PageInfo.EndCursor
			more = true
		}
		if pr.ReviewThreads.PageInfo.HasNextPage {
			variables["threadCursor"] = pr.ReviewThreads.PageInfo.EndCursor
			more = true
		}
		if pr.Comments.PageInfo.HasNextPage {
			variables["commentCursor"] = pr.Comments.PageInfo.EndCursor
			more = true
		}
		if pr.Commits.PageInfo.HasNextPage {
			variables["commitCursor"] = pr.Commits.PageInfo.EndCursor
			more = true
		}
		if !more {
			break
		}
	}
	return detail, nil
}

// appendDetailPage folds one response page into the accumulating detail.
// Repeated pages of an exhausted connection are deduplicated by ID.
func appendDetailPage(d *PRDetail, pr *detailPR) {
	seenReview := idSet(len(d.Reviews))
	for _, r := range d.Reviews {
		seenReview[r.ID] = true
	}
	for _, n := range pr.Reviews.Nodes {
		if seenReview[n.ID] {
			continue
		}
		d.Reviews = append(d.Reviews, Review{
			ID:        n.ID,
			Author:    n.Author.login(),
			State:     n.State,
			Body:      n.Body,
			URL:       n.URL,
			CreatedAt: n.CreatedAt,
		})
	}

	seenComment := idSet(len(d.ReviewComments) + len(d.IssueComments))
	for _, rc := range d.ReviewComments {
		seenComment[rc.ID] = true
	}
	for _, t := range pr.ReviewThreads.Nodes {
		resolved := t.IsResolved
		for _, cn := range t.Comments.Nodes {
			if seenComment[cn.ID] {
				continue
			}
			seenComment[cn.ID] = true
			r := resolved
			d.ReviewComments = append(d.ReviewComments, ReviewComment{
				ID:             cn.ID,
				DatabaseID:     cn.DatabaseID,
				ThreadID:       t.ID,
				ThreadResolved: &r,
				Author:         cn.Author.login(),
				Body:           cn.Body,
				Path:           cn.Path,
				Line:           cn.Line,
				URL:            cn.URL,
				CreatedAt:      cn.CreatedAt,
			})
		}
	}

	for _, ic := range d.IssueComments {
		seenComment[ic.ID] = true
	}
	for _, cn := range pr.Comments.Nodes {
		if seenComment[cn.ID] {
			continue
		}
		seenComment[cn.ID] = true
		var thumbs []string
		for _, rn := range cn.Reactions.Nodes {
			if rn.User.Login != "" {
				thumbs = append(thumbs, rn.User.Login)
			}
		}
		d.IssueComments = append(d.IssueComments, IssueComment{
			ID:         cn.ID,
			DatabaseID: cn.DatabaseID,
			Author:     cn.Author.login(),
			Body:       cn.Body,
			URL:        cn.URL,
			ThumbsUpBy: thumbs,
			CreatedAt:  cn.CreatedAt,
		})
	}

	seenCommit := idSet(len(d.Commits))
	for _, cm := range d.Commits {
		seenCommit[cm.OID] = true
	}
	seenCheck := idSet(len(d.Checks))
	for _, ck := range d.Checks {
		seenCheck[ck.NodeID] = true
	}
	for _, cn := range pr.Commits.Nodes {
		cm := cn.Commit
		if !seenCommit[cm.OID] {
			seenCommit[cm.OID] = true
			d.Commits = append(d.Commits, Commit{
				OID:         cm.OID,
				Author:      cm.Author.User.login(),
				Message:     cm.Message,
				CommittedAt: cm.CommittedDate,
			})
		}
		if cm.StatusCheckRollup == nil {
			continue
		}
		for _, ctxNode := range cm.StatusCheckRollup.Contexts.Nodes {
			if seenCheck[ctxNode.ID] {
				continue
			}
			seenCheck[ctxNode.ID] = true
			check := CheckRun{NodeID: ctxNode.ID}
			if ctxNode.Typename == "StatusContext" {
				check.Name = ctxNode.Context
				check.Status = ctxNode.State
				check.URL = ctxNode.TargetURL
				check.CompletedAt = ctxNode.CreatedAt
			} else {
				check.Name = ctxNode.Name
				check.Status = ctxNode.Status
				check.Conclusion = ctxNode.Conclusion
				check.URL = ctxNode.DetailsURL
				check.CompletedAt = ctxNode.CompletedAt
			}
			d.Checks = append(d.Checks, check)
		}
	}
}

func idSet(n int) map[string]bool {
	return make(map[string]bool, n)
}

const reviewThreadMapQuery = `
query($owner: String!, $name: String!, $number: Int!, $cursor: String) {
	repository(owner: $owner, name: $name) {
		pullRequest(number: $number) {
			reviewThreads(first: 100, after: $cursor) {
				pageInfo { hasNextPage endCursor }
				nodes {
					id
					comments(first: 100) { nodes { id } }
				}
			}
		}
	}
}`

// ReviewThreadMap returns comment node ID -> owning thread ID for a PR.
func (c *PATClient) ReviewThreadMap(ctx context.Context, repo string, number int) (map[string]string, error) {
	owner, name, err := model.SplitRepo(repo)
	if err != nil {
		return nil, &PermanentError{Msg: err.Error()}
	}

	out := make(map[string]string)
	variables := map[string]interface{}{
		"owner":  owner,
		"name":   name,
		"number": number,
	}
	for {
		var data struct {
			Repository struct {
				PullRequest *struct {
					ReviewThreads struct {
						PageInfo pageInfo `json:"pageInfo"`
						Nodes    []struct {
							ID       string `json:"id"`
							Comments struct {
								Nodes []struct {
									ID string `json:"id"`
								} `json:"nodes"`
							} `json:"comments"`
						} `json:"nodes"`
					} `json:"reviewThreads"`
				} `json:"pullRequest"`
			} `json:"repository"`
		}
		if err := c.graphql(ctx, reviewThreadMapQuery, variables, &data); err != nil {
			return nil, err
		}
		pr := data.Repository.PullRequest
		if pr == nil {
			return nil, &NotFoundError{Resource: fmt.Sprintf("%s#%d", repo, number)}
		}
		for _, t := range pr.ReviewThreads.Nodes {
			for _, cn := range t.Comments.Nodes {
				out[cn.ID] = t.ID
			}
		}
		if !pr.ReviewThreads.PageInfo.HasNextPage {
			return out, nil
		}
		variables["cursor"] = pr.ReviewThreads.PageInfo.EndCursor
	}
}

const pullRequestNodeIDQuery = `
query($owner: String!, $name: String!, $number: Int!) {
	repository(owner: $owner, name: $name) {
		pullRequest(number: $number) { id }
	}
}`

// PullRequestNodeID resolves a PR number to its GraphQL node ID.
func (c *PATClient) PullRequestNodeID(ctx context.Context, repo string, number int) (string, error) {
	owner, name, err := model.SplitRepo(repo)
	if err != nil {
		return "", &PermanentError{Msg: err.Error()}
	}
	var data struct {
		Repository struct {
			PullRequest *struct {
				ID string `json:"id"`
			} `json:"pullRequest"`
		} `json:"repository"`
	}
	err = c.graphql(ctx, pullRequestNodeIDQuery, map[string]interface{}{
		"owner": owner, "name": name, "number": number,
	}, &data)
	if err != nil {
		return "", err
	}
	if data.Repository.PullRequest == nil {
		return "", &NotFoundError{Resource: fmt.Sprintf("%s#%d", repo, number)}
	}
	return data.Repository.PullRequest.ID, nil
}

// --- GraphQL mutations ---

const addIssueCommentMutation = `
mutation($subjectId: ID!, $body: String!) {
	addComment(input: {subjectId: $subjectId, body: $body}) {
		commentEdge { node { id url } }
	}
}`

// AddIssueComment posts a PR-level conversation comment.
func (c *PATClient) AddIssueComment(ctx context.Context, prNodeID, body string) (*MutationResult, error) {
	var data struct {
		AddComment struct {
			CommentEdge struct {
				Node struct {
					ID  string `json:"id"`
					URL string `json:"url"`
				} `json:"node"`
			} `json:"commentEdge"`
		} `json:"addComment"`
	}
	err := c.graphql(ctx, addIssueCommentMutation, map[string]interface{}{
		"subjectId": prNodeID, "body": body,
	}, &data)
	if err != nil {
		return nil, err
	}
	node := data.AddComment.CommentEdge.Node
	return &MutationResult{ID: node.ID, URL: node.URL}, nil
}

const addThreadReplyMutation = `
mutation($threadId: ID!, $body: String!) {
	addPullRequestReviewThreadReply(input: {pullRequestReviewThreadId: $threadId, body: $body}) {
		comment { id url }
	}
}`

// AddReviewThreadReply posts a reply inside an existing review thread.
func (c *PATClient) AddReviewThreadReply(ctx context.Context, threadID, body string) (*MutationResult, error) {
	var data struct {
		AddPullRequestReviewThreadReply struct {
			Comment struct {
				ID  string `json:"id"`
				URL string `json:"url"`
			} `json:"comment"`
		} `json:"addPullRequestReviewThreadReply"`
	}
	err := c.graphql(ctx, addThreadReplyMutation, map[string]interface{}{
		"threadId": threadID, "body": body,
	}, &data)
	if err != nil {
		return nil, err
	}
	comment := data.AddPullRequestReviewThreadReply.Comment
	return &MutationResult{ID: comment.ID, URL: comment.URL}, nil
}

const resolveThreadMutation = `
mutation($threadId: ID!) {
	resolveReviewThread(input: {threadId: $threadId}) {
		thread { id isResolved }
	}
}`

// ResolveReviewThread marks a review thread resolved. Resolving an already
// resolved thread is a ConflictError.
func (c *PATClient) ResolveReviewThread(ctx context.Context, threadID string) error {
	return c.graphql(ctx, resolveThreadMutation, map[string]interface{}{"threadId": threadID}, nil)
}

const addReactionMutation = `
mutation($subjectId: ID!, $content: ReactionContent!) {
	addReaction(input: {subjectId: $subjectId, content: $content}) {
		reaction { id }
	}
}`

// AddReaction adds a reaction to a comment. Duplicate reactions surface as
// ConflictError.
func (c *PATClient) AddReaction(ctx context.Context, subjectID, content string) error {
	return c.graphql(ctx, addReactionMutation, map[string]interface{}{
		"subjectId": subjectID, "content": content,
	}, nil)
}

const convertToDraftMutation = `
mutation($id: ID!) {
	convertPullRequestToDraft(input: {pullRequestId: $id}) { pullRequest { id } }
}`

const markReadyMutation = `
mutation($id: ID!) {
	markPullRequestReadyForReview(input: {pullRequestId: $id}) { pullRequest { id } }
}`

const closePullRequestMutation = `
mutation($id: ID!) {
	closePullRequest(input: {pullRequestId: $id}) { pullRequest { id state } }
}`

// ConvertToDraft flips a PR back to draft.
func (c *PATClient) ConvertToDraft(ctx context.Context, prNodeID string) error {
	return c.graphql(ctx, convertToDraftMutation, map[string]interface{}{"id": prNodeID}, nil)
}

// MarkReady marks a draft PR ready for review.
func (c *PATClient) MarkReady(ctx context.Context, prNodeID string) error {
	return c.graphql(ctx, markReadyMutation, map[string]interface{}{"id": prNodeID}, nil)
}

// ClosePullRequest closes a PR without merging.
func (c *PATClient) ClosePullRequest(ctx context.Context, prNodeID string) error {
	return c.graphql(ctx, closePullRequestMutation, map[string]interface{}{"id": prNodeID}, nil)
}
