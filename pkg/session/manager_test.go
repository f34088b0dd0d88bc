package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

func newTestManager(t *testing.T, cfg *Config) *Manager {
	t.Helper()
	st, err := store.Open(store.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewManager(st, cfg)
}

func TestIDIsStableMD5(t *testing.T) {
	// Identity must be stable across releases; clients depend on replayed
	// conversations landing on the same session.
	if got := ID("hello"); got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("ID(hello) = %s", got)
	}
	if ID("a") == ID("b") {
		t.Error("distinct messages collided")
	}
}

func TestResolveCreatesThenReuses(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	first, err := m.Resolve(ctx, "what is the capital of France?")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.MessageCount != 0 {
		t.Errorf("new session message count = %d", first.MessageCount)
	}

	if err := m.Complete(ctx, first.ID, "chat-9", "parent-9"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	again, err := m.Resolve(ctx, "what is the capital of France?")
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("session id changed: %s vs %s", again.ID, first.ID)
	}
	if again.ChatID != "chat-9" || again.ParentID != "parent-9" {
		t.Errorf("continuity lost: %+v", again)
	}
	if again.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", again.MessageCount)
	}
}

func TestResolveReplacesExpiredSession(t *testing.T) {
	m := newTestManager(t, &Config{TTL: time.Millisecond, CleanupInterval: time.Hour})
	ctx := context.Background()

	first, err := m.Resolve(ctx, "hello")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := m.Complete(ctx, first.ID, "chat-old", "parent-old"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	fresh, err := m.Resolve(ctx, "hello")
	if err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if fresh.ID != first.ID {
		t.Errorf("id should be stable: %s vs %s", fresh.ID, first.ID)
	}
	if fresh.ChatID != "" || fresh.ParentID != "" || fresh.MessageCount != 0 {
		t.Errorf("expired session state leaked: %+v", fresh)
	}
}

func TestCompleteAfterSweepIsNotAnError(t *testing.T) {
	m := newTestManager(t, nil)
	if err := m.Complete(context.Background(), ID("gone"), "c", "p"); err != nil {
		t.Errorf("Complete on missing session: %v", err)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	m := newTestManager(t, &Config{TTL: time.Millisecond, CleanupInterval: time.Hour})
	ctx := context.Background()

	if _, err := m.Resolve(ctx, "one"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := m.Resolve(ctx, "two"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	m.sweep()

	n, err := m.store.CountSessions(ctx)
	if err != nil {
		t.Fatalf("CountSessions: %v", err)
	}
	if n != 0 {
		t.Errorf("%d sessions survived sweep", n)
	}
}

func TestDefaultConfigSweepInterval(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TTL != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", cfg.TTL)
	}
	if cfg.CleanupInterval != 10*time.Minute {
		t.Errorf("cleanup interval = %v, want 10m", cfg.CleanupInterval)
	}
}
