package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// Config controls session identity and lifecycle.
type Config struct {
	// TTL is how long a session stays alive after its last access.
	// Default: 30 minutes.
	TTL time.Duration

	// CleanupInterval is how often the sweeper runs. Default: 10 minutes.
	CleanupInterval time.Duration

	// SweepBatchSize caps how many sessions one sweep pass deletes.
	SweepBatchSize int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		TTL:             30 * time.Minute,
		CleanupInterval: 10 * time.Minute,
		SweepBatchSize:  1000,
	}
}

// Manager maps conversations to persisted sessions. The session id is
// derived from the first user message, so a client replaying a growing
// message list keeps landing on the same session and the bridge can thread
// upstream parent ids through it.
type Manager struct {
	store  *store.Store
	cfg    *Config
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	cron *cron.Cron
}

// NewManager creates a session manager. Call Start to begin sweeping.
func NewManager(st *store.Store, cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 1000
	}
	return &Manager{
		store:  st,
		cfg:    cfg,
		logger: slog.Default().With("component", "session"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// ID derives the session id for a conversation: the lowercase hex MD5 of
// the first user message's text. MD5 is an identity hash here, not a
// security boundary.
func ID(firstUserMessage string) string {
	sum := md5.Sum([]byte(firstUserMessage))
	return hex.EncodeToString(sum[:])
}

// Resolve returns the live session for the conversation opened by
// firstUserMessage, creating one when none exists or the previous one
// expired. The returned session's access and expiry stamps are refreshed.
func (m *Manager) Resolve(ctx context.Context, firstUserMessage string) (*store.Session, error) {
	id := ID(firstUserMessage)
	now := time.Now().UnixMilli()
	expiresAt := now + m.cfg.TTL.Milliseconds()

	unlock := m.lock(id)
	defer unlock()

	sess, err := m.store.GetSession(ctx, id)
	switch {
	case err == store.ErrNotFound:
		// Fall through to create.
	case err != nil:
		return nil, fmt.Errorf("session: resolve %s: %w", id, err)
	case sess.ExpiresAt < now:
		// Expired but not yet swept. Same id, fresh upstream state.
		if err := m.store.DeleteSession(ctx, id); err != nil {
			return nil, fmt.Errorf("session: replace expired %s: %w", id, err)
		}
	default:
		if err := m.store.TouchSession(ctx, id, now, expiresAt); err != nil {
			return nil, fmt.Errorf("session: touch %s: %w", id, err)
		}
		sess.LastAccessed = now
		sess.ExpiresAt = expiresAt
		return sess, nil
	}

	sess = &store.Session{
		ID:               id,
		FirstUserMessage: firstUserMessage,
		CreatedAt:        now,
		LastAccessed:     now,
		ExpiresAt:        expiresAt,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", id, err)
	}
	m.logger.Debug("session created", "session_id", id)
	return sess, nil
}

// Complete records a finished turn: upstream chat and parent ids (either
// may be empty) plus refreshed expiry.
func (m *Manager) Complete(ctx context.Context, id, chatID, parentID string) error {
	now := time.Now().UnixMilli()

	unlock := m.lock(id)
	defer unlock()

	err := m.store.CompleteSessionTurn(ctx, id, chatID, parentID, now, now+m.cfg.TTL.Milliseconds())
	if err == store.ErrNotFound {
		// Session swept mid-flight. The turn already succeeded; losing the
		// continuity anchor just means the next turn starts a fresh chat.
		m.logger.Warn("session vanished before turn completion", "session_id", id)
		return nil
	}
	return err
}

// lock acquires the per-session mutex and returns its release func.
// Serialising turns per session keeps parent-id threading consistent when a
// client pipelines requests.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Start launches the periodic expiry sweeper.
func (m *Manager) Start() {
	if m.cron != nil {
		return
	}
	m.cron = cron.New()
	m.cron.Schedule(cron.Every(m.cfg.CleanupInterval), cron.FuncJob(m.sweep))
	m.cron.Start()
	m.logger.Info("session sweeper started",
		"ttl", m.cfg.TTL.String(),
		"interval", m.cfg.CleanupInterval.String(),
	)
}

// Stop halts the sweeper and waits for an in-flight sweep to finish.
func (m *Manager) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.cron = nil
}

// sweep deletes expired sessions in batches until none remain.
func (m *Manager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UnixMilli()
	var total int64
	for {
		n, err := m.store.SweepExpiredSessions(ctx, now, m.cfg.SweepBatchSize)
		if err != nil {
			m.logger.Error("session sweep failed", "error", err)
			return
		}
		total += n
		if n == 0 {
			break
		}
	}
	if total > 0 {
		m.logger.Info("swept expired sessions", "count", total)
		m.pruneLocks()
	}
}

// pruneLocks drops mutexes for sessions that no longer exist so the lock
// map does not grow without bound. Holding m.mu here is safe because lock
// holders keep their own *sync.Mutex reference.
func (m *Manager) pruneLocks() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.locks {
		if _, err := m.store.GetSession(ctx, id); err == store.ErrNotFound {
			delete(m.locks, id)
		}
	}
}
