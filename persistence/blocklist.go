package persistence

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// hostBlockThreshold is how many blocked URLs a host accumulates before the
// whole host is treated as blocked.
const hostBlockThreshold = 3

// SQLiteBlocklist is the durable record of URLs that failed content-quality
// checks. It persists across runs so a captcha wall hit last week still
// short-circuits today's gather. A host whose URLs keep failing gets blocked
// wholesale.
type SQLiteBlocklist struct {
	db *sql.DB
}

// NewSQLiteBlocklist opens/creates the database at dbPath.
func NewSQLiteBlocklist(dbPath string) (*SQLiteBlocklist, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	store := &SQLiteBlocklist{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteBlocklist) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blocked_urls (
		url TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		reason TEXT,
		blocked_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_blocked_urls_host ON blocked_urls(host);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteBlocklist) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Block records a URL that failed a quality gate.
func (s *SQLiteBlocklist) Block(ctx context.Context, rawURL, reason string) error {
	norm, host, err := normalizeURL(rawURL)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO blocked_urls (url, host, reason, blocked_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET reason=excluded.reason, blocked_at=excluded.blocked_at`,
		norm, host, reason, time.Now().UTC())
	return err
}

// Blocked reports whether the URL itself is blocked, or its host has
// accumulated enough blocked URLs to be rejected outright.
func (s *SQLiteBlocklist) Blocked(ctx context.Context, rawURL string) (bool, error) {
	norm, host, err := normalizeURL(rawURL)
	if err != nil {
		// Unparseable URLs are not worth scraping either.
		return true, nil
	}

	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocked_urls WHERE url = ?`, norm).Scan(&n)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocked_urls WHERE host = ?`, host).Scan(&n)
	if err != nil {
		return false, err
	}
	return n >= hostBlockThreshold, nil
}

// Reasons returns the blocked URLs for a host with their recorded reasons.
func (s *SQLiteBlocklist) Reasons(ctx context.Context, host string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, reason FROM blocked_urls WHERE host = ?`, strings.ToLower(host))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var u, reason string
		if err := rows.Scan(&u, &reason); err != nil {
			return nil, err
		}
		out[u] = reason
	}
	return out, rows.Err()
}

// normalizeURL lowercases the host, strips fragments and trailing slashes,
// and returns (normalized URL, host).
func normalizeURL(rawURL string) (string, string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", "", errors.New("empty url")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", "", err
	}
	if u.Host == "" {
		return "", "", errors.New("url has no host")
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	norm := strings.TrimSuffix(u.String(), "/")
	return norm, u.Host, nil
}
