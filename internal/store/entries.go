package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/firewatch/firewatch/internal/model"
)

// entryRow is the database shape of a model.Entry. Optional structured
// fields are stored as JSON text; thread_resolved keeps its tri-state as a
// nullable integer.
type entryRow struct {
	ID             string         `db:"id"`
	Repo           string         `db:"repo"`
	PR             int            `db:"pr"`
	PRState        string         `db:"pr_state"`
	PRAuthor       string         `db:"pr_author"`
	PRTitle        string         `db:"pr_title"`
	PRBranch       string         `db:"pr_branch"`
	PRLabels       string         `db:"pr_labels"`
	Type           string         `db:"type"`
	Subtype        string         `db:"subtype"`
	Author         string         `db:"author"`
	AuthorLogin    string         `db:"author_login"`
	Body           string         `db:"body"`
	State          string         `db:"state"`
	File           string         `db:"file"`
	Line           int            `db:"line"`
	DatabaseID     int64          `db:"database_id"`
	ThreadResolved sql.NullBool   `db:"thread_resolved"`
	FileActivity   sql.NullString `db:"file_activity"`
	ThumbsUpBy     sql.NullString `db:"thumbs_up_by"`
	Graphite       sql.NullString `db:"graphite"`
	URL            string         `db:"url"`
	CreatedAt      time.Time      `db:"created_at"`
	CapturedAt     time.Time      `db:"captured_at"`
}

func rowFromEntry(e *model.Entry) (*entryRow, error) {
	labels, err := json.Marshal(append([]string{}, e.PRLabels...))
	if err != nil {
		return nil, err
	}
	r := &entryRow{
		ID:          e.ID,
		Repo:        e.Repo,
		PR:          e.PR,
		PRState:     string(e.PRState),
		PRAuthor:    e.PRAuthor,
		PRTitle:     e.PRTitle,
		PRBranch:    e.PRBranch,
		PRLabels:    string(labels),
		Type:        string(e.Type),
		Subtype:     e.Subtype,
		Author:      e.Author,
		AuthorLogin: e.AuthorLogin,
		Body:        e.Body,
		State:       e.State,
		File:        e.File,
		Line:        e.Line,
		DatabaseID:  e.DatabaseID,
		URL:         e.URL,
		CreatedAt:   e.CreatedAt.UTC(),
		CapturedAt:  e.CapturedAt.UTC(),
	}
	if e.ThreadResolved != nil {
		r.ThreadResolved = sql.NullBool{Bool: *e.ThreadResolved, Valid: true}
	}
	if e.FileActivity != nil {
		b, err := json.Marshal(e.FileActivity)
		if err != nil {
			return nil, err
		}
		r.FileActivity = sql.NullString{String: string(b), Valid: true}
	}
	if e.Reactions != nil && len(e.Reactions.ThumbsUpBy) > 0 {
		b, err := json.Marshal(e.Reactions.ThumbsUpBy)
		if err != nil {
			return nil, err
		}
		r.ThumbsUpBy = sql.NullString{String: string(b), Valid: true}
	}
	if e.Graphite != nil {
		b, err := json.Marshal(e.Graphite)
		if err != nil {
			return nil, err
		}
		r.Graphite = sql.NullString{String: string(b), Valid: true}
	}
	return r, nil
}

func (r *entryRow) toEntry() (*model.Entry, error) {
	e := &model.Entry{
		ID:          r.ID,
		Repo:        r.Repo,
		PR:          r.PR,
		PRState:     model.PRState(r.PRState),
		PRAuthor:    r.PRAuthor,
		PRTitle:     r.PRTitle,
		PRBranch:    r.PRBranch,
		Type:        model.EntryType(r.Type),
		Subtype:     r.Subtype,
		Author:      r.Author,
		AuthorLogin: r.AuthorLogin,
		Body:        r.Body,
		State:       r.State,
		File:        r.File,
		Line:        r.Line,
		DatabaseID:  r.DatabaseID,
		URL:         r.URL,
		CreatedAt:   r.CreatedAt,
		CapturedAt:  r.CapturedAt,
	}
	if r.PRLabels != "" && r.PRLabels != "[]" {
		if err := json.Unmarshal([]byte(r.PRLabels), &e.PRLabels); err != nil {
			return nil, err
		}
	}
	if r.ThreadResolved.Valid {
		v := r.ThreadResolved.Bool
		e.ThreadResolved = &v
	}
	if r.FileActivity.Valid {
		var fa model.FileActivity
		if err := json.Unmarshal([]byte(r.FileActivity.String), &fa); err != nil {
			return nil, err
		}
		e.FileActivity = &fa
	}
	if r.ThumbsUpBy.Valid {
		var logins []string
		if err := json.Unmarshal([]byte(r.ThumbsUpBy.String), &logins); err != nil {
			return nil, err
		}
		e.Reactions = &model.Reactions{ThumbsUpBy: logins}
	}
	if r.Graphite.Valid {
		var g model.GraphiteInfo
		if err := json.Unmarshal([]byte(r.Graphite.String), &g); err != nil {
			return nil, err
		}
		e.Graphite = &g
	}
	return e, nil
}

const upsertEntrySQL = `
	INSERT INTO entries (
		id, repo, pr, pr_state, pr_author, pr_title, pr_branch, pr_labels,
		type, subtype, author, author_login, body, state, file, line,
		database_id, thread_resolved, file_activity, thumbs_up_by, graphite,
		url, created_at, captured_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id, repo) DO UPDATE SET
		pr = excluded.pr,
		pr_state = excluded.pr_state,
		pr_author = excluded.pr_author,
		pr_title = excluded.pr_title,
		pr_branch = excluded.pr_branch,
		pr_labels = excluded.pr_labels,
		type = excluded.type,
		subtype = excluded.subtype,
		author = excluded.author,
		author_login = excluded.author_login,
		body = excluded.body,
		state = excluded.state,
		file = excluded.file,
		line = excluded.line,
		database_id = excluded.database_id,
		thread_resolved = excluded.thread_resolved,
		file_activity = excluded.file_activity,
		thumbs_up_by = excluded.thumbs_up_by,
		graphite = excluded.graphite,
		url = excluded.url,
		created_at = excluded.created_at`

// UpsertEntries stores a batch of entries in one transaction. Re-observed
// entries keep their original captured_at; every content field is
// overwritten with the new observation.
func (s *Store) UpsertEntries(ctx context.Context, entries []*model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin upsert entries", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, upsertEntrySQL)
	if err != nil {
		return storeErr("prepare upsert entries", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, e := range entries {
		r, err := rowFromEntry(e)
		if err != nil {
			return storeErr("encode entry", err)
		}
		if r.CapturedAt.IsZero() {
			r.CapturedAt = now
		}
		_, err = stmt.ExecContext(ctx,
			r.ID, r.Repo, r.PR, r.PRState, r.PRAuthor, r.PRTitle, r.PRBranch, r.PRLabels,
			r.Type, r.Subtype, r.Author, r.AuthorLogin, r.Body, r.State, r.File, r.Line,
			r.DatabaseID, r.ThreadResolved, r.FileActivity, r.ThumbsUpBy, r.Graphite,
			r.URL, r.CreatedAt, r.CapturedAt)
		if err != nil {
			return storeErr("upsert entry", err)
		}
	}
	return storeErr("commit upsert entries", tx.Commit())
}

// buildEntryQuery assembles the SQL portion of an entry filter. The freeze
// mask and the indexable predicates run in SQL; bot patterns and label
// matching are refined in refineEntries.
func buildEntryQuery(f model.EntryFilter, selectCols string) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.Repo != "" {
		conds = append(conds, "e.repo = ?")
		args = append(args, f.Repo)
	}
	if f.RepoPrefix != "" {
		conds = append(conds, `e.repo LIKE ? ESCAPE '\'`)
		args = append(args, likePrefix(f.RepoPrefix))
	}
	if len(f.PRs) > 0 {
		conds = append(conds, "e.pr IN (?)")
		args = append(args, f.PRs)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		conds = append(conds, "e.type IN (?)")
		args = append(args, types)
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		conds = append(conds, "e.pr_state IN (?)")
		args = append(args, states)
	}
	if len(f.Authors) > 0 {
		conds = append(conds, "lower(e.author) IN (?)")
		args = append(args, lowerAll(f.Authors))
	}
	if len(f.ExcludeAuthors) > 0 {
		conds = append(conds, "lower(e.author) NOT IN (?)")
		args = append(args, lowerAll(f.ExcludeAuthors))
	}
	if f.Since != nil {
		conds = append(conds, "e.created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.Before != nil {
		conds = append(conds, "e.created_at < ?")
		args = append(args, f.Before.UTC())
	}
	if f.ID != "" {
		conds = append(conds, "e.id = ?")
		args = append(args, f.ID)
	}
	if f.Orphaned {
		conds = append(conds, `e.pr_state IN ('closed', 'merged')`)
		conds = append(conds, `EXISTS (
			SELECT 1 FROM entries t
			WHERE t.repo = e.repo AND t.pr = e.pr
			AND t.subtype = 'review_comment' AND t.thread_resolved = 0)`)
	} else if f.ExcludeStale {
		conds = append(conds, `e.pr_state NOT IN ('closed', 'merged')`)
	}
	if !f.IncludeFrozen {
		conds = append(conds, "(fz.frozen_at IS NULL OR e.created_at <= fz.frozen_at)")
	}

	query := selectCols + ` FROM entries e
		LEFT JOIN freezes fz ON fz.repo = e.repo AND fz.pr = e.pr`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query, args
}

// likePrefix escapes LIKE metacharacters in a prefix match.
func likePrefix(prefix string) string {
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return esc + "%"
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// needsRefine reports whether the filter has predicates that run in Go.
func needsRefine(f model.EntryFilter) bool {
	return (f.ExcludeBots && len(f.BotPatterns) > 0) || f.Label != ""
}

// refineEntries applies the Go-side predicates: bot-pattern exclusion and
// label substring matching.
func refineEntries(entries []*model.Entry, f model.EntryFilter) ([]*model.Entry, error) {
	var botRes []*regexp.Regexp
	if f.ExcludeBots {
		for _, p := range f.BotPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, err
			}
			botRes = append(botRes, re)
		}
	}
	label := strings.ToLower(f.Label)

	out := entries[:0]
	for _, e := range entries {
		if matchesAny(botRes, e.Author) {
			continue
		}
		if label != "" && !hasLabelSubstring(e.PRLabels, label) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func matchesAny(res []*regexp.Regexp, author string) bool {
	for _, re := range res {
		if re.MatchString(author) {
			return true
		}
	}
	return false
}

func hasLabelSubstring(labels []string, lowered string) bool {
	for _, l := range labels {
		if strings.Contains(strings.ToLower(l), lowered) {
			return true
		}
	}
	return false
}

// QueryEntries returns entries matching the filter, ordered created_at
// descending with ties broken by id ascending. Acks are never applied here;
// they are overlaid by actionable derivation.
func (s *Store) QueryEntries(ctx context.Context, f model.EntryFilter, limit, offset int) ([]*model.Entry, error) {
	query, args := buildEntryQuery(f, "SELECT e.*")
	query += " ORDER BY e.created_at DESC, e.id ASC"

	refine := needsRefine(f)
	if !refine {
		if limit > 0 {
			query += " LIMIT ?"
			args = append(args, limit)
			if offset > 0 {
				query += " OFFSET ?"
				args = append(args, offset)
			}
		} else if offset > 0 {
			query += " LIMIT -1 OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.selectRows(ctx, query, args)
	if err != nil {
		return nil, storeErr("query entries", err)
	}

	entries := make([]*model.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEntry()
		if err != nil {
			return nil, storeErr("decode entry", err)
		}
		entries = append(entries, e)
	}

	if refine {
		entries, err = refineEntries(entries, f)
		if err != nil {
			return nil, storeErr("refine entries", err)
		}
		entries = page(entries, limit, offset)
	}
	return entries, nil
}

// CountEntries returns the number of entries matching the filter.
func (s *Store) CountEntries(ctx context.Context, f model.EntryFilter) (int, error) {
	if needsRefine(f) {
		entries, err := s.QueryEntries(ctx, f, 0, 0)
		if err != nil {
			return 0, err
		}
		return len(entries), nil
	}
	query, args := buildEntryQuery(f, "SELECT COUNT(*)")
	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return 0, storeErr("count entries", err)
	}
	var n int
	if err := s.ro.GetContext(ctx, &n, s.ro.Rebind(query), expanded...); err != nil {
		return 0, storeErr("count entries", err)
	}
	return n, nil
}

func (s *Store) selectRows(ctx context.Context, query string, args []interface{}) ([]*entryRow, error) {
	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var rows []*entryRow
	if err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(query), expanded...); err != nil {
		return nil, err
	}
	return rows, nil
}

func page(entries []*model.Entry, limit, offset int) []*model.Entry {
	if offset > 0 {
		if offset >= len(entries) {
			return nil
		}
		entries = entries[offset:]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}
