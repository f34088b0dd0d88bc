package store

import (
	"context"
	"database/sql"
)

// Session anchors provider-side continuity for one logical conversation.
// The id is the 32-hex MD5 of the first user message.
type Session struct {
	ID               string `json:"id"`
	ChatID           string `json:"chatId,omitempty"`
	ParentID         string `json:"parentId,omitempty"`
	FirstUserMessage string `json:"firstUserMessage"`
	MessageCount     int    `json:"messageCount"`
	CreatedAt        int64  `json:"createdAt"`
	LastAccessed     int64  `json:"lastAccessed"`
	ExpiresAt        int64  `json:"expiresAt"`
}

const sessionColumns = `id, COALESCE(chat_id, ''), COALESCE(parent_id, ''), first_user_message, message_count, created_at, last_accessed, expires_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.ChatID, &sess.ParentID, &sess.FirstUserMessage,
		&sess.MessageCount, &sess.CreatedAt, &sess.LastAccessed, &sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession returns the session with the given id, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// CreateSession inserts a session row.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.exec(ctx,
		`INSERT INTO sessions (id, chat_id, parent_id, first_user_message, message_count, created_at, last_accessed, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullString(sess.ChatID), nullString(sess.ParentID), sess.FirstUserMessage,
		sess.MessageCount, sess.CreatedAt, sess.LastAccessed, sess.ExpiresAt,
	)
	return err
}

// TouchSession refreshes last_accessed and expires_at on access.
func (s *Store) TouchSession(ctx context.Context, id string, now, expiresAt int64) error {
	_, err := s.exec(ctx,
		`UPDATE sessions SET last_accessed = ?, expires_at = ? WHERE id = ?`,
		now, expiresAt, id,
	)
	return err
}

// CompleteSessionTurn records the outcome of a successful turn: the new
// upstream parent id (when the provider yields one), the bumped message
// count, and refreshed access/expiry stamps.
func (s *Store) CompleteSessionTurn(ctx context.Context, id, chatID, parentID string, now, expiresAt int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE sessions SET
			   chat_id = COALESCE(NULLIF(?, ''), chat_id),
			   parent_id = COALESCE(NULLIF(?, ''), parent_id),
			   message_count = message_count + 1,
			   last_accessed = ?,
			   expires_at = ?
			 WHERE id = ?`,
			chatID, parentID, now, expiresAt, id,
		)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// DeleteSession removes one session; its requests and responses cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// SweepExpiredSessions deletes sessions whose expiry is in the past, in
// batches of at most batchSize rows, and returns the number deleted. The
// sweeper calls it repeatedly until it returns 0 so memory stays bounded
// regardless of backlog.
func (s *Store) SweepExpiredSessions(ctx context.Context, now int64, batchSize int) (int64, error) {
	if batchSize <= 0 || batchSize > 1000 {
		batchSize = 1000
	}
	res, err := s.exec(ctx,
		`DELETE FROM sessions WHERE id IN (
		   SELECT id FROM sessions WHERE expires_at < ? LIMIT ?
		 )`,
		now, batchSize,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearSessions deletes every session. The web-chat bridge calls this at
// startup so no session references upstream state that predates the current
// credential.
func (s *Store) ClearSessions(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListSessions returns sessions ordered by last access, newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]*Session, bool, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY last_accessed DESC LIMIT ? OFFSET ?`,
		limit+1, offset,
	)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// CountSessions returns the number of session rows.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := s.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}
