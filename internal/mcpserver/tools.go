package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/firewatch/firewatch/internal/app"
	"github.com/firewatch/firewatch/internal/common/logger"
	"github.com/firewatch/firewatch/internal/timeutil"
)

func registerTools(s *server.MCPServer, a *app.App, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("firewatch_sync",
			mcp.WithDescription("Sync PR activity for a repo into the local cache. Run before queries when freshness matters."),
			mcp.WithString("repo", mcp.Description("Repository as owner/name; defaults to configured repos")),
			mcp.WithBoolean("full", mcp.Description("Re-fetch everything instead of changes since the last sync")),
			mcp.WithString("scope", mcp.Description("Limit to one scope: open or closed")),
		),
		syncHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_list",
			mcp.WithDescription("List PR activity entries (comments, reviews, commits, CI) for a repo, newest first."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
			mcp.WithNumber("pr", mcp.Description("Limit to one PR number")),
			mcp.WithString("type", mcp.Description("Entry type filter: comment, review, commit, ci, event")),
			mcp.WithString("author", mcp.Description("Only entries by this login")),
			mcp.WithString("since", mcp.Description("Window as duration (14d) or ISO date")),
			mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 50)")),
			mcp.WithBoolean("no_sync", mcp.Description("Serve from cache without syncing")),
		),
		listHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_worklist",
			mcp.WithDescription("Per-PR activity summary: counts, review states, last activity."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
			mcp.WithString("state", mcp.Description("PR states, comma separated: open, draft, closed, merged")),
			mcp.WithBoolean("no_sync", mcp.Description("Serve from cache without syncing")),
		),
		worklistHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_actionable",
			mcp.WithDescription("What needs attention right now: unaddressed feedback, changes requested, awaiting review, stale PRs."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
			mcp.WithString("perspective", mcp.Description("mine (my PRs) or reviews (PRs I review)")),
			mcp.WithBoolean("no_sync", mcp.Description("Serve from cache without syncing")),
		),
		actionableHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_reply",
			mcp.WithDescription("Reply to a comment (thread reply) or a PR (issue comment). Target is a PR number, @xxxxx short ID, or node ID."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
			mcp.WithString("target", mcp.Required(), mcp.Description("PR number or comment ID")),
			mcp.WithString("body", mcp.Required(), mcp.Description("Reply text")),
		),
		replyHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_resolve",
			mcp.WithDescription("Resolve a review comment's thread, or ack an issue comment with a thumbs-up."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
			mcp.WithString("target", mcp.Required(), mcp.Description("Comment ID (@xxxxx or node ID)")),
		),
		resolveHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_ack",
			mcp.WithDescription("Acknowledge a comment, or every unaddressed comment on a PR when the target is a PR number."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
			mcp.WithString("target", mcp.Required(), mcp.Description("Comment ID or PR number")),
		),
		ackHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_close",
			mcp.WithDescription("Close a PR, or with feedback=true resolve and ack all its outstanding comments instead."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
			mcp.WithString("target", mcp.Required(), mcp.Description("PR number or comment ID")),
			mcp.WithBoolean("feedback", mcp.Description("Clear outstanding feedback instead of closing the PR")),
		),
		closeHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_freeze",
			mcp.WithDescription("Hide activity on a PR newer than a timestamp (default now) from queries."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
			mcp.WithNumber("pr", mcp.Required(), mcp.Description("PR number")),
			mcp.WithString("at", mcp.Description("Freeze point as ISO date; defaults to now")),
		),
		freezeHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_unfreeze",
			mcp.WithDescription("Lift a freeze from a PR."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
			mcp.WithNumber("pr", mcp.Required(), mcp.Description("PR number")),
		),
		unfreezeHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_status",
			mcp.WithDescription("Cache state per repo and scope: last sync, PR and entry counts, staleness, frozen PRs."),
		),
		statusHandler(a, log),
	)

	s.AddTool(
		mcp.NewTool("firewatch_clear",
			mcp.WithDescription("Delete all cached data for a repo."),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository as owner/name")),
		),
		clearHandler(a, log),
	)
}

// jsonResult marshals a payload into a text tool result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func syncHandler(a *app.App, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var repos []string
		if repo := req.GetString("repo", ""); repo != "" {
			repos = []string{repo}
		}
		outcomes, err := a.Sync(ctx, repos, req.GetString("scope", ""), req.GetBool("full", false))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		type repoPayload struct {
			Repo    string      `json:"repo"`
			OK      bool        `json:"ok"`
			Error   string      `json:"error,omitempty"`
			Results interface{} `json:"results,omitempty"`
		}
		payload := make([]repoPayload, 0, len(outcomes))
		for _, o := range outcomes {
			rp := repoPayload{Repo: o.Repo, OK: o.Err == nil, Results: o.Results}
			if o.Err != nil {
				rp.Error = o.Err.Error()
				log.WithRepo(o.Repo).Warn("sync failed", zap.Error(o.Err))
			}
			payload = append(payload, rp)
		}
		return jsonResult(payload)
	}
}

func listHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repo, err := req.RequireString("repo")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts := app.QueryOptions{
			Repo:   repo,
			Since:  req.GetString("since", ""),
			Limit:  req.GetInt("limit", 50),
			NoSync: req.GetBool("no_sync", false),
		}
		if pr := req.GetInt("pr", 0); pr > 0 {
			opts.PRs = []int{pr}
		}
		if t := req.GetString("type", ""); t != "" {
			opts.Types = []string{t}
		}
		if author := req.GetString("author", ""); author != "" {
			opts.Authors = []string{author}
		}
		entries, err := a.List(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(entries)
	}
}

func worklistHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repo, err := req.RequireString("repo")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts := app.QueryOptions{Repo: repo, NoSync: req.GetBool("no_sync", false)}
		if states := req.GetString("state", ""); states != "" {
			opts.States = strings.Split(states, ",")
		}
		rows, err := a.Worklist(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(rows)
	}
}

func actionableHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repo, err := req.RequireString("repo")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := a.Actionable(ctx, app.QueryOptions{
			Repo:        repo,
			Perspective: req.GetString("perspective", ""),
			NoSync:      req.GetBool("no_sync", false),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
}

// mutationHandler wraps the shared repo+target parse for the feedback tools.
func mutationHandler(run func(ctx context.Context, repo, target string, req mcp.CallToolRequest) (interface{}, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repo, err := req.RequireString("repo")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		target, err := req.RequireString("target")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := run(ctx, repo, target, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
}

func replyHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return mutationHandler(func(ctx context.Context, repo, target string, req mcp.CallToolRequest) (interface{}, error) {
		body, err := req.RequireString("body")
		if err != nil {
			return nil, err
		}
		return a.Reply(ctx, repo, target, body)
	})
}

func resolveHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return mutationHandler(func(ctx context.Context, repo, target string, _ mcp.CallToolRequest) (interface{}, error) {
		return a.Resolve(ctx, repo, target)
	})
}

func ackHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return mutationHandler(func(ctx context.Context, repo, target string, _ mcp.CallToolRequest) (interface{}, error) {
		return a.Ack(ctx, repo, target)
	})
}

func closeHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return mutationHandler(func(ctx context.Context, repo, target string, req mcp.CallToolRequest) (interface{}, error) {
		return a.Close(ctx, repo, target, req.GetBool("feedback", false))
	})
}

func freezeHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repo, err := req.RequireString("repo")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		pr, err := req.RequireInt("pr")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var freezeAt time.Time
		if at := req.GetString("at", ""); at != "" {
			freezeAt, err = timeutil.ParseDate(at)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		}
		if err := a.Freeze(ctx, repo, pr, freezeAt); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]interface{}{"ok": true, "repo": repo, "pr": pr})
	}
}

func unfreezeHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repo, err := req.RequireString("repo")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		pr, err := req.RequireInt("pr")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := a.Unfreeze(ctx, repo, pr); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]interface{}{"ok": true, "repo": repo, "pr": pr})
	}
}

func statusHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		statuses, frozen, err := a.Status(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]interface{}{"partitions": statuses, "frozen": frozen})
	}
}

func clearHandler(a *app.App, _ *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		repo, err := req.RequireString("repo")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := a.Clear(ctx, repo); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]interface{}{"ok": true, "repo": repo, "cleared": true})
	}
}
