package directory

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"relaybot/pkg/logx"
)

// Recipient is one registered chat. CreatedAt is zero for rows imported
// before join timestamps were recorded; JoinedAt falls back to UpdatedAt
// so segmentation still has a usable ordering key for them.
type Recipient struct {
	UserID    int64
	FirstName string
	LastName  string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Recipient) JoinedAt() time.Time {
	if r.CreatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

// DisplayName renders a human-readable label for operator-facing lists.
func (r Recipient) DisplayName() string {
	name := strings.TrimSpace(r.FirstName + " " + r.LastName)
	if r.Username != "" {
		if name == "" {
			return "@" + r.Username
		}
		return name + " (@" + r.Username + ")"
	}
	if name == "" {
		return "id:" + strconv.FormatInt(r.UserID, 10)
	}
	return name
}

// Filter narrows FindAll. Zero values mean "no constraint"; thresholds
// compare against COALESCE(created_at, updated_at), both inclusive.
type Filter struct {
	JoinedAfter  time.Time
	JoinedBefore time.Time
	Limit        int
}

// Store owns recipient reads and writes on the shared handle.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func NewStore(db *sql.DB, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{db: db, log: log}
}

// Upsert registers or refreshes a recipient. The original join timestamp
// is kept on conflict; only profile fields and updated_at move.
func (s *Store) Upsert(ctx context.Context, r Recipient) error {
	if r.UserID == 0 {
		return errors.New("directory: user id is required")
	}
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(user_id, first_name, last_name, username, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   first_name = excluded.first_name,
		   last_name  = excluded.last_name,
		   username   = excluded.username,
		   updated_at = excluded.updated_at`,
		r.UserID, r.FirstName, nullStr(r.LastName), nullStr(r.Username),
		r.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	return err
}

func (s *Store) Exists(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM recipients WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Remove drops a recipient, typically after a delivery probe reported the
// chat blocked or deleted.
func (s *Store) Remove(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recipients WHERE user_id = ?`, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Info("recipient removed", logx.Int64("user_id", userID))
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n)
	return n, err
}

// FindAll returns recipients in registration order (rowid), optionally
// narrowed by f. Ordering is stable so index-based segments reproduce.
func (s *Store) FindAll(ctx context.Context, f Filter) ([]Recipient, error) {
	q := `SELECT user_id, first_name, COALESCE(last_name,''), COALESCE(username,''), created_at, updated_at
	      FROM recipients`
	var (
		conds []string
		args  []any
	)
	if !f.JoinedAfter.IsZero() {
		conds = append(conds, `COALESCE(created_at, updated_at) >= ?`)
		args = append(args, f.JoinedAfter.UnixMilli())
	}
	if !f.JoinedBefore.IsZero() {
		conds = append(conds, `COALESCE(created_at, updated_at) <= ?`)
		args = append(args, f.JoinedBefore.UnixMilli())
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY rowid"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var (
			r         Recipient
			createdMS sql.NullInt64
			updatedMS int64
		)
		if err := rows.Scan(&r.UserID, &r.FirstName, &r.LastName, &r.Username, &createdMS, &updatedMS); err != nil {
			return nil, err
		}
		if createdMS.Valid {
			r.CreatedAt = time.UnixMilli(createdMS.Int64)
		}
		r.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
