package store

import (
	"context"
	"time"

	"github.com/firewatch/firewatch/internal/common/sqlite"
	"github.com/firewatch/firewatch/internal/model"
)

type ackRow struct {
	Seq           int64     `db:"seq"`
	Repo          string    `db:"repo"`
	CommentID     string    `db:"comment_id"`
	PR            int       `db:"pr"`
	AckedAt       time.Time `db:"acked_at"`
	AckedBy       string    `db:"acked_by"`
	ReactionAdded int       `db:"reaction_added"`
}

func (r *ackRow) toRecord() *model.AckRecord {
	return &model.AckRecord{
		Repo:          r.Repo,
		CommentID:     r.CommentID,
		PR:            r.PR,
		AckedAt:       r.AckedAt,
		AckedBy:       r.AckedBy,
		ReactionAdded: r.ReactionAdded != 0,
	}
}

// InsertAck appends one ack record.
func (s *Store) InsertAck(ctx context.Context, rec *model.AckRecord) error {
	return s.InsertAcks(ctx, []*model.AckRecord{rec})
}

// InsertAcks appends ack records atomically: either every record commits or
// none does. Records are append-only; the newest for a comment shadows
// older ones.
func (s *Store) InsertAcks(ctx context.Context, recs []*model.AckRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin insert acks", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO acks (repo, comment_id, pr, acked_at, acked_by, reaction_added)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storeErr("prepare insert acks", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, rec := range recs {
		ackedAt := rec.AckedAt
		if ackedAt.IsZero() {
			ackedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			rec.Repo, rec.CommentID, rec.PR, ackedAt.UTC(), rec.AckedBy,
			sqlite.BoolToInt(rec.ReactionAdded)); err != nil {
			return storeErr("insert ack", err)
		}
	}
	return storeErr("commit insert acks", tx.Commit())
}

// AckedIDs returns the set of comment IDs with at least one ack record for
// the repo.
func (s *Store) AckedIDs(ctx context.Context, repo string) (map[string]struct{}, error) {
	var ids []string
	err := s.ro.SelectContext(ctx, &ids,
		`SELECT DISTINCT comment_id FROM acks WHERE repo = ?`, repo)
	if err != nil {
		return nil, storeErr("acked ids", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// LatestAcks returns the newest ack record per comment for a repo, ordered
// by acked_at descending. The newest record wins for display.
func (s *Store) LatestAcks(ctx context.Context, repo string) ([]*model.AckRecord, error) {
	var rows []*ackRow
	err := s.ro.SelectContext(ctx, &rows, `
		SELECT a.* FROM acks a
		JOIN (SELECT repo, comment_id, MAX(seq) AS seq FROM acks WHERE repo = ? GROUP BY repo, comment_id) m
			ON m.seq = a.seq
		ORDER BY a.acked_at DESC, a.comment_id ASC`, repo)
	if err != nil {
		return nil, storeErr("latest acks", err)
	}
	out := make([]*model.AckRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

// SetFreeze masks activity on (repo, pr) newer than ts.
func (s *Store) SetFreeze(ctx context.Context, repo string, pr int, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO freezes (repo, pr, frozen_at) VALUES (?, ?, ?)
		ON CONFLICT(repo, pr) DO UPDATE SET frozen_at = excluded.frozen_at`,
		repo, pr, ts.UTC())
	return storeErr("set freeze", err)
}

// ClearFreeze removes the freeze for (repo, pr). Unfreezing a PR that is
// not frozen is a FreezeError.
func (s *Store) ClearFreeze(ctx context.Context, repo string, pr int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM freezes WHERE repo = ? AND pr = ?`, repo, pr)
	if err != nil {
		return storeErr("clear freeze", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("clear freeze", err)
	}
	if n == 0 {
		return &FreezeError{Repo: repo, PR: pr, Msg: "not frozen"}
	}
	return nil
}

// FrozenPRs lists freeze rows, for one repo or all repos when repo is empty.
func (s *Store) FrozenPRs(ctx context.Context, repo string) ([]*model.Freeze, error) {
	var freezes []*model.Freeze
	var err error
	if repo == "" {
		err = s.ro.SelectContext(ctx, &freezes,
			`SELECT * FROM freezes ORDER BY repo, pr`)
	} else {
		err = s.ro.SelectContext(ctx, &freezes,
			`SELECT * FROM freezes WHERE repo = ? ORDER BY pr`, repo)
	}
	return freezes, storeErr("frozen prs", err)
}
