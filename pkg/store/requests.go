package store

import (
	"context"
	"database/sql"
)

// RequestRecord is one persisted inbound request.
type RequestRecord struct {
	ID              int64  `json:"-"`
	RequestID       string `json:"requestId"`
	SessionID       string `json:"sessionId,omitempty"`
	Timestamp       int64  `json:"timestamp"`
	Method          string `json:"method"`
	Path            string `json:"path"`
	OpenAIRequest   string `json:"openaiRequest,omitempty"`
	ProviderRequest string `json:"providerRequest,omitempty"`
	Model           string `json:"model,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Stream          bool   `json:"stream"`
}

// ResponseRecord is the outcome paired with one request.
type ResponseRecord struct {
	ID               int64  `json:"-"`
	ResponseID       string `json:"responseId"`
	RequestID        string `json:"requestId"`
	SessionID        string `json:"sessionId,omitempty"`
	Timestamp        int64  `json:"timestamp"`
	ProviderResponse string `json:"providerResponse,omitempty"`
	OpenAIResponse   string `json:"openaiResponse,omitempty"`
	ParentID         string `json:"parentId,omitempty"`
	PromptTokens     *int   `json:"promptTokens,omitempty"`
	CompletionTokens *int   `json:"completionTokens,omitempty"`
	TotalTokens      *int   `json:"totalTokens,omitempty"`
	FinishReason     string `json:"finishReason,omitempty"`
	Error            string `json:"error,omitempty"`
	DurationMS       *int64 `json:"durationMs,omitempty"`
}

const requestColumns = `id, request_id, COALESCE(session_id, ''), timestamp, method, path,
	COALESCE(openai_request, ''), COALESCE(provider_request, ''), COALESCE(model, ''), COALESCE(provider, ''), stream`

const responseColumns = `id, response_id, request_id, COALESCE(session_id, ''), timestamp,
	COALESCE(provider_response, ''), COALESCE(openai_response, ''), COALESCE(parent_id, ''),
	prompt_tokens, completion_tokens, total_tokens, COALESCE(finish_reason, ''), COALESCE(error, ''), duration_ms`

func scanRequest(row interface{ Scan(...interface{}) error }) (*RequestRecord, error) {
	var r RequestRecord
	var stream int
	err := row.Scan(&r.ID, &r.RequestID, &r.SessionID, &r.Timestamp, &r.Method, &r.Path,
		&r.OpenAIRequest, &r.ProviderRequest, &r.Model, &r.Provider, &stream)
	if err != nil {
		return nil, err
	}
	r.Stream = stream != 0
	return &r, nil
}

func scanResponse(row interface{ Scan(...interface{}) error }) (*ResponseRecord, error) {
	var r ResponseRecord
	err := row.Scan(&r.ID, &r.ResponseID, &r.RequestID, &r.SessionID, &r.Timestamp,
		&r.ProviderResponse, &r.OpenAIResponse, &r.ParentID,
		&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.FinishReason, &r.Error, &r.DurationMS)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func insertRequest(tx *sql.Tx, r *RequestRecord) error {
	_, err := tx.Exec(
		`INSERT INTO requests (request_id, session_id, timestamp, method, path, openai_request, provider_request, model, provider, stream)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, nullString(r.SessionID), r.Timestamp, r.Method, r.Path,
		nullString(r.OpenAIRequest), nullString(r.ProviderRequest),
		nullString(r.Model), nullString(r.Provider), boolInt(r.Stream),
	)
	return err
}

func insertResponse(tx *sql.Tx, r *ResponseRecord) error {
	_, err := tx.Exec(
		`INSERT INTO responses (response_id, request_id, session_id, timestamp, provider_response, openai_response,
		   parent_id, prompt_tokens, completion_tokens, total_tokens, finish_reason, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ResponseID, r.RequestID, nullString(r.SessionID), r.Timestamp,
		nullString(r.ProviderResponse), nullString(r.OpenAIResponse), nullString(r.ParentID),
		r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		nullString(r.FinishReason), nullString(r.Error), r.DurationMS,
	)
	return err
}

// InsertRequest persists one request row. The streaming path writes the
// request before relaying and the response after the stream ends.
func (s *Store) InsertRequest(ctx context.Context, r *RequestRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertRequest(tx, r)
	})
}

// InsertResponse persists one response row.
func (s *Store) InsertResponse(ctx context.Context, r *ResponseRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertResponse(tx, r)
	})
}

// RecordExchange persists a request and its response atomically. The unary
// path uses this so activity listings never show a request without its
// outcome.
func (s *Store) RecordExchange(ctx context.Context, req *RequestRecord, resp *ResponseRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertRequest(tx, req); err != nil {
			return err
		}
		return insertResponse(tx, resp)
	})
}

// GetRequest returns one request by its public request id, or ErrNotFound.
func (s *Store) GetRequest(ctx context.Context, requestID string) (*RequestRecord, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE request_id = ?`, requestID)
	return scanRequest(row)
}

// GetResponseForRequest returns the response paired with a request, or
// ErrNotFound when the exchange never completed.
func (s *Store) GetResponseForRequest(ctx context.Context, requestID string) (*ResponseRecord, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+responseColumns+` FROM responses WHERE request_id = ?`, requestID)
	return scanResponse(row)
}

// ListRequests returns requests newest first, optionally filtered by session.
func (s *Store) ListRequests(ctx context.Context, sessionID string, limit, offset int) ([]*RequestRecord, bool, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`
	var args []interface{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit+1, offset)

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []*RequestRecord
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, r)
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

// ListResponses returns responses newest first, optionally filtered by
// session.
func (s *Store) ListResponses(ctx context.Context, sessionID string, limit, offset int) ([]*ResponseRecord, bool, error) {
	query := `SELECT ` + responseColumns + ` FROM responses`
	var args []interface{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit+1, offset)

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []*ResponseRecord
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, r)
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

// ActivityEntry pairs a request with its response (when one exists) for the
// control plane's recent-activity view.
type ActivityEntry struct {
	Request  *RequestRecord  `json:"request"`
	Response *ResponseRecord `json:"response,omitempty"`
}

// RecentActivity returns the most recent exchanges, newest first.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]*ActivityEntry, error) {
	reqs, _, err := s.ListRequests(ctx, "", limit, 0)
	if err != nil {
		return nil, err
	}

	out := make([]*ActivityEntry, 0, len(reqs))
	for _, req := range reqs {
		entry := &ActivityEntry{Request: req}
		resp, err := s.GetResponseForRequest(ctx, req.RequestID)
		if err == nil {
			entry.Response = resp
		} else if err != ErrNotFound {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// ActivityStats summarises persisted traffic for the control plane.
type ActivityStats struct {
	TotalRequests   int   `json:"totalRequests"`
	TotalResponses  int   `json:"totalResponses"`
	TotalErrors     int   `json:"totalErrors"`
	TotalTokens     int64 `json:"totalTokens"`
	ActiveSessions  int   `json:"activeSessions"`
	AvgDurationMS   int64 `json:"avgDurationMs"`
	LastRequestAt   int64 `json:"lastRequestAt,omitempty"`
}

// Stats computes aggregate counters over the requests, responses, and
// sessions tables.
func (s *Store) Stats(ctx context.Context) (*ActivityStats, error) {
	var st ActivityStats
	err := s.reader.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM requests),
		  (SELECT COUNT(*) FROM responses),
		  (SELECT COUNT(*) FROM responses WHERE error IS NOT NULL AND error != ''),
		  (SELECT COALESCE(SUM(total_tokens), 0) FROM responses),
		  (SELECT COUNT(*) FROM sessions),
		  (SELECT COALESCE(CAST(AVG(duration_ms) AS INTEGER), 0) FROM responses WHERE duration_ms IS NOT NULL),
		  (SELECT COALESCE(MAX(timestamp), 0) FROM requests)
	`).Scan(&st.TotalRequests, &st.TotalResponses, &st.TotalErrors, &st.TotalTokens,
		&st.ActiveSessions, &st.AvgDurationMS, &st.LastRequestAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
