// Package links issues and resolves short "secure" deep links that wrap
// a t.me URL behind the bot's mini-app start parameter.
package links

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"relaybot/internal/directory"
	"relaybot/pkg/logx"
)

var (
	ErrNotFound    = errors.New("links: unknown link id")
	ErrInvalidLink = errors.New("links: only t.me links can be wrapped")
)

type Link struct {
	ID              string
	OriginalLink    string
	SecureLink      string
	CreatedBy       int64
	CreatorFirst    string
	CreatorLast     string
	CreatorUsername string
	CreatedAt       time.Time
}

type Config struct {
	BotUsername string
	AppName     string
	TTL         time.Duration // default 30 days
	CacheSize   int           // hot tier size, default 20
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 30 * 24 * time.Hour
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 20
	}
	return c
}

// Service owns link issuance and resolution. Resolution consults a hot
// in-memory tier of recent links before the store; RefreshCache rebuilds
// that tier periodically.
type Service struct {
	cfg Config
	db  *sql.DB
	log logx.Logger

	mu     sync.RWMutex
	recent map[string]string // id -> original link
}

func NewService(cfg Config, db *sql.DB, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		db:     db,
		log:    log,
		recent: make(map[string]string),
	}
}

// Create wraps original behind a new short id and persists it.
func (s *Service) Create(ctx context.Context, original string, creator directory.Recipient) (Link, error) {
	original = strings.TrimSpace(original)
	if !isTelegramLink(original) {
		return Link{}, ErrInvalidLink
	}
	id, err := newID(9)
	if err != nil {
		return Link{}, err
	}
	l := Link{
		ID:              id,
		OriginalLink:    original,
		SecureLink:      fmt.Sprintf("https://t.me/%s/%s?startapp=%s", s.cfg.BotUsername, s.cfg.AppName, id),
		CreatedBy:       creator.UserID,
		CreatorFirst:    creator.FirstName,
		CreatorLast:     creator.LastName,
		CreatorUsername: creator.Username,
		CreatedAt:       time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO links(uuid, original_link, secure_link, created_by, creator_first_name, creator_last_name, creator_username, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		l.ID, l.OriginalLink, l.SecureLink, l.CreatedBy,
		nullStr(l.CreatorFirst), nullStr(l.CreatorLast), nullStr(l.CreatorUsername),
		l.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Link{}, err
	}

	s.mu.Lock()
	s.recent[l.ID] = l.OriginalLink
	s.mu.Unlock()

	s.log.Info("secure link created",
		logx.String("id", l.ID), logx.Int64("created_by", l.CreatedBy))
	return l, nil
}

// Resolve maps a short id back to the wrapped link. The hot tier answers
// most lookups since resolution traffic skews heavily toward links that
// were just shared.
func (s *Service) Resolve(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrNotFound
	}

	s.mu.RLock()
	original, hit := s.recent[id]
	s.mu.RUnlock()
	if hit {
		return original, nil
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT original_link FROM links WHERE uuid = ?`, id).Scan(&original)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.recent[id] = original
	s.mu.Unlock()
	return original, nil
}

// RefreshCache rebuilds the hot tier from the most recent links.
func (s *Service) RefreshCache(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, original_link FROM links ORDER BY created_at DESC LIMIT ?`, s.cfg.CacheSize)
	if err != nil {
		return err
	}
	defer rows.Close()

	fresh := make(map[string]string, s.cfg.CacheSize)
	for rows.Next() {
		var id, original string
		if err := rows.Scan(&id, &original); err != nil {
			return err
		}
		fresh[id] = original
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.recent = fresh
	s.mu.Unlock()
	s.log.Debug("link cache refreshed", logx.Int("size", len(fresh)))
	return nil
}

// Prune drops links older than the TTL and reports how many went.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.cfg.TTL).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("expired links pruned", logx.Int64("count", n))
	}
	return n, nil
}

func isTelegramLink(raw string) bool {
	return strings.HasPrefix(raw, "https://t.me/") || strings.HasPrefix(raw, "http://t.me/")
}

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func newID(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
