package store

import (
	"context"
	"time"
)

// Credentials is the process-wide singleton credential row for the web-chat
// upstream. ExpiresAt is seconds since epoch, nullable.
type Credentials struct {
	Token     string `json:"token"`
	Cookies   string `json:"cookies"`
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Valid reports whether the credentials can be used right now: both fields
// present and not past expiry.
func (c *Credentials) Valid(now time.Time) bool {
	if c == nil || c.Token == "" || c.Cookies == "" {
		return false
	}
	if c.ExpiresAt != nil && *c.ExpiresAt <= now.Unix() {
		return false
	}
	return true
}

// Expired reports whether an expiry is set and in the past.
func (c *Credentials) Expired(now time.Time) bool {
	return c != nil && c.ExpiresAt != nil && *c.ExpiresAt <= now.Unix()
}

// GetCredentials returns the singleton credentials row, or ErrNotFound.
func (s *Store) GetCredentials(ctx context.Context) (*Credentials, error) {
	var c Credentials
	err := s.reader.QueryRowContext(ctx,
		`SELECT token, cookies, expires_at, created_at, updated_at FROM credentials WHERE id = 1`,
	).Scan(&c.Token, &c.Cookies, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetCredentials replaces the singleton row. Pushing the same credentials
// twice still yields a single row (upsert keyed on id=1).
func (s *Store) SetCredentials(ctx context.Context, c *Credentials) error {
	now := nowMS()
	_, err := s.exec(ctx,
		`INSERT INTO credentials (id, token, cookies, expires_at, created_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   token = excluded.token,
		   cookies = excluded.cookies,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		c.Token, c.Cookies, c.ExpiresAt, now, now,
	)
	return err
}

// DeleteCredentials removes the singleton row (logout). Deleting when no row
// exists is not an error.
func (s *Store) DeleteCredentials(ctx context.Context) error {
	_, err := s.exec(ctx, `DELETE FROM credentials WHERE id = 1`)
	return err
}
