package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/firewatch/firewatch/internal/common/sqlite"
	"github.com/firewatch/firewatch/internal/model"
)

type prRow struct {
	Repo      string    `db:"repo"`
	PR        int       `db:"pr"`
	State     string    `db:"state"`
	Title     string    `db:"title"`
	Author    string    `db:"author"`
	Branch    string    `db:"branch"`
	Labels    string    `db:"labels"`
	Draft     int       `db:"draft"`
	NodeID    string    `db:"node_id"`
	URL       string    `db:"url"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *prRow) toMeta() (*model.PRMeta, error) {
	m := &model.PRMeta{
		Repo:      r.Repo,
		Number:    r.PR,
		State:     model.PRState(r.State),
		Title:     r.Title,
		Author:    r.Author,
		Branch:    r.Branch,
		Draft:     r.Draft != 0,
		NodeID:    r.NodeID,
		URL:       r.URL,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Labels != "" && r.Labels != "[]" {
		if err := json.Unmarshal([]byte(r.Labels), &m.Labels); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UpsertPR stores the current snapshot of a pull request.
func (s *Store) UpsertPR(ctx context.Context, m *model.PRMeta) error {
	labels, err := json.Marshal(append([]string{}, m.Labels...))
	if err != nil {
		return storeErr("encode pr labels", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prs (repo, pr, state, title, author, branch, labels, draft, node_id, url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo, pr) DO UPDATE SET
			state = excluded.state,
			title = excluded.title,
			author = excluded.author,
			branch = excluded.branch,
			labels = excluded.labels,
			draft = excluded.draft,
			node_id = excluded.node_id,
			url = excluded.url,
			updated_at = excluded.updated_at`,
		m.Repo, m.Number, string(m.State), m.Title, m.Author, m.Branch, string(labels),
		sqlite.BoolToInt(m.Draft), m.NodeID, m.URL, m.UpdatedAt.UTC())
	return storeErr("upsert pr", err)
}

// GetPR returns the stored snapshot for (repo, pr), or nil when unknown.
func (s *Store) GetPR(ctx context.Context, repo string, pr int) (*model.PRMeta, error) {
	var r prRow
	err := s.ro.GetContext(ctx, &r, `SELECT * FROM prs WHERE repo = ? AND pr = ?`, repo, pr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get pr", err)
	}
	m, err := r.toMeta()
	return m, storeErr("decode pr", err)
}

// ListPRs returns all stored PR snapshots for a repo, newest activity first.
func (s *Store) ListPRs(ctx context.Context, repo string) ([]*model.PRMeta, error) {
	var rows []*prRow
	err := s.ro.SelectContext(ctx, &rows,
		`SELECT * FROM prs WHERE repo = ? ORDER BY updated_at DESC, pr ASC`, repo)
	if err != nil {
		return nil, storeErr("list prs", err)
	}
	out := make([]*model.PRMeta, 0, len(rows))
	for _, r := range rows {
		m, err := r.toMeta()
		if err != nil {
			return nil, storeErr("decode pr", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// SetSyncMeta records the checkpoint for a (repo, scope) partition.
func (s *Store) SetSyncMeta(ctx context.Context, m *model.SyncMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_meta (repo, scope, last_sync, pr_count, cursor)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo, scope) DO UPDATE SET
			last_sync = excluded.last_sync,
			pr_count = excluded.pr_count,
			cursor = excluded.cursor`,
		m.Repo, string(m.Scope), m.LastSync.UTC(), m.PRCount, m.Cursor)
	return storeErr("set sync meta", err)
}

// GetSyncMeta returns the checkpoint for (repo, scope), or nil when the
// partition has never synced.
func (s *Store) GetSyncMeta(ctx context.Context, repo string, scope model.Scope) (*model.SyncMeta, error) {
	var m model.SyncMeta
	err := s.ro.GetContext(ctx, &m,
		`SELECT * FROM sync_meta WHERE repo = ? AND scope = ?`, repo, string(scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get sync meta", err)
	}
	return &m, nil
}

// AllSyncMeta returns every checkpoint, ordered by repo then scope.
func (s *Store) AllSyncMeta(ctx context.Context) ([]*model.SyncMeta, error) {
	var metas []*model.SyncMeta
	err := s.ro.SelectContext(ctx, &metas,
		`SELECT * FROM sync_meta ORDER BY repo, scope`)
	return metas, storeErr("all sync meta", err)
}

// ClearRepo removes all state for a repo: entries, PR snapshots, acks,
// freezes, and sync checkpoints, in one transaction.
func (s *Store) ClearRepo(ctx context.Context, repo string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin clear repo", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"entries", "prs", "acks", "freezes", "sync_meta"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE repo = ?`, repo); err != nil {
			return storeErr("clear "+table, err)
		}
	}
	return storeErr("commit clear repo", tx.Commit())
}
