// Package main is the entry point for the firewatch binary, a local-first
// GitHub PR activity tracker: it syncs PR feedback into a SQLite cache and
// answers "what needs my attention" from there.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/firewatch/firewatch/internal/app"
	"github.com/firewatch/firewatch/internal/common/config"
	"github.com/firewatch/firewatch/internal/common/logger"
	"github.com/firewatch/firewatch/internal/db"
	"github.com/firewatch/firewatch/internal/gitrepo"
	"github.com/firewatch/firewatch/internal/store"
)

var (
	flagRepo           string
	flagDB             string
	flagConfig         string
	flagJSONL          bool
	flagNoSync         bool
	flagLimit          int
	flagOffset         int
	flagSince          string
	flagBefore         string
	flagTypes          []string
	flagAuthors        []string
	flagExcludeAuthors []string
	flagLabel          string
	flagStates         []string
	flagLogLevel       string
)

// exitCode accumulates the worst outcome across a run: 0 success, 1 failure,
// 2 partial success.
var exitCode int

func raiseExitCode(code int) {
	if code > exitCode {
		exitCode = code
	}
}

var rootCmd = &cobra.Command{
	Use:   "firewatch",
	Short: "Track GitHub PR activity from a local cache",
	Long: `Firewatch syncs pull request activity (comments, reviews, commits, CI)
into a local SQLite cache and answers queries from there: what happened,
what needs attention, and what can be acknowledged or resolved.

Most commands operate on a repository, resolved from --repo, the config
file, or the git remote of the current directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRepo, "repo", "", "repository as owner/name (default: config, then git remote)")
	pf.StringVar(&flagDB, "db", "", "database file path (default: platform cache dir)")
	pf.StringVar(&flagConfig, "config", "", "config file path")
	pf.BoolVar(&flagJSONL, "jsonl", false, "emit one JSON object per line instead of text")
	pf.BoolVar(&flagNoSync, "no-sync", false, "serve from cache without syncing")
	pf.IntVar(&flagLimit, "limit", 0, "maximum rows to return (0 = no limit)")
	pf.IntVar(&flagOffset, "offset", 0, "rows to skip")
	pf.StringVar(&flagSince, "since", "", "window start as duration (14d) or ISO date")
	pf.StringVar(&flagBefore, "before", "", "window end as ISO date")
	pf.StringSliceVar(&flagTypes, "type", nil, "entry types: comment, review, commit, ci, event")
	pf.StringSliceVar(&flagAuthors, "author", nil, "only entries by these logins")
	pf.StringSliceVar(&flagExcludeAuthors, "exclude-author", nil, "drop entries by these logins")
	pf.StringVar(&flagLabel, "label", "", "only PRs carrying this label (substring match)")
	pf.StringSliceVar(&flagStates, "state", nil, "PR states: open, draft, closed, merged")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// cli bundles the services a command needs, built once per invocation.
type cli struct {
	cfg   *config.Config
	app   *app.App
	log   *logger.Logger
	pool  *db.Pool
	jsonl bool
}

// setup loads config, opens the database, and wires the service layer.
func setup() (*cli, error) {
	cfg, err := config.LoadWithPath(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}

	level := cfg.Logging.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	log, err := logger.NewLogger(logger.Config{
		Level:      level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	pool, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	st, err := store.NewStore(pool.Writer(), pool.Reader())
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	return &cli{
		cfg:   cfg,
		app:   app.New(cfg, st, log),
		log:   log,
		pool:  pool,
		jsonl: jsonlMode(cfg),
	}, nil
}

func (c *cli) Close() {
	_ = c.pool.Close()
	_ = c.log.Sync()
}

// jsonlMode reports whether output should be line-delimited JSON: the flag,
// the FIREWATCH_JSONL/FIREWATCH_JSON environment overrides, or the config
// default.
func jsonlMode(cfg *config.Config) bool {
	if flagJSONL {
		return true
	}
	for _, key := range []string{"FIREWATCH_JSONL", "FIREWATCH_JSON"} {
		switch strings.ToLower(os.Getenv(key)) {
		case "1", "true", "yes":
			return true
		}
	}
	return strings.EqualFold(cfg.Output.DefaultFormat, "jsonl")
}

// resolveRepo picks the working repository: the flag, then a single
// configured repo, then the git remote of the current directory.
func (c *cli) resolveRepo() (string, error) {
	if flagRepo != "" {
		return flagRepo, nil
	}
	if len(c.cfg.Repos) == 1 {
		return c.cfg.Repos[0], nil
	}
	return gitrepo.Detect("")
}

// queryOptions assembles the shared filter flags into app options.
func (c *cli) queryOptions(repo string) app.QueryOptions {
	return app.QueryOptions{
		Repo:           repo,
		Types:          flagTypes,
		Authors:        flagAuthors,
		ExcludeAuthors: flagExcludeAuthors,
		Label:          flagLabel,
		States:         flagStates,
		Since:          flagSince,
		Before:         flagBefore,
		Limit:          flagLimit,
		Offset:         flagOffset,
		NoSync:         flagNoSync,
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "firewatch: %v\n", err)
		raiseExitCode(1)
	}
	os.Exit(exitCode)
}
