package providers

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/openai"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

type fakeProvider struct {
	id    string
	built int
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	return nil, nil
}
func (f *fakeProvider) StreamChatCompletion(ctx context.Context, req *openai.ChatCompletionRequest) (<-chan StreamChunk, error) {
	return nil, nil
}
func (f *fakeProvider) ListModels(ctx context.Context) ([]openai.Model, error) { return nil, nil }
func (f *fakeProvider) Test(ctx context.Context) *TestResult                   { return &TestResult{OK: true} }
func (f *fakeProvider) ID() string                                             { return f.id }
func (f *fakeProvider) Type() string                                           { return TypeLocalOpenAI }
func (f *fakeProvider) Close() error                                           { return nil }

func newRegistryFixture(t *testing.T) (*Registry, *store.Store, *int) {
	t.Helper()
	st, err := store.Open(store.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	builds := 0
	r := NewRegistry(st)
	r.RegisterFactory(TypeLocalOpenAI, func(row *store.Provider, config map[string]store.ConfigValue) (Provider, error) {
		builds++
		return &fakeProvider{id: row.ID}, nil
	})
	t.Cleanup(func() { r.Close() })
	return r, st, &builds
}

func seedProvider(t *testing.T, st *store.Store, id string, enabled bool) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateProvider(ctx, &store.Provider{
		ID: id, Name: id, Type: TypeLocalOpenAI, Enabled: enabled,
	}); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if err := st.SetProviderConfigKey(ctx, id, "baseURL", store.ConfigValue{Value: "http://localhost:1234/v1"}); err != nil {
		t.Fatalf("SetProviderConfigKey: %v", err)
	}
}

func TestRegistryCachesUntilInvalidated(t *testing.T) {
	r, st, builds := newRegistryFixture(t)
	seedProvider(t, st, "lm", true)
	ctx := context.Background()

	if _, err := r.Get(ctx, "lm"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := r.Get(ctx, "lm"); err != nil {
		t.Fatalf("Get cached: %v", err)
	}
	if *builds != 1 {
		t.Errorf("builds = %d, want 1", *builds)
	}

	if err := r.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := r.Get(ctx, "lm"); err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if *builds != 2 {
		t.Errorf("builds after invalidate = %d, want 2", *builds)
	}
}

// Two registries over one database model the gateway and control plane
// processes. An invalidation issued by one must make the other rebuild with
// the edited config on its next lookup.
func TestRegistryInvalidationCrossesRegistries(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(store.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	seedProvider(t, st, "lm", true)

	var builds []string
	factory := func(row *store.Provider, config map[string]store.ConfigValue) (Provider, error) {
		builds = append(builds, config["baseURL"].Value)
		return &fakeProvider{id: row.ID}, nil
	}

	serving := NewRegistry(st)
	serving.RegisterFactory(TypeLocalOpenAI, factory)
	t.Cleanup(func() { serving.Close() })
	mutating := NewRegistry(st)
	mutating.RegisterFactory(TypeLocalOpenAI, factory)
	t.Cleanup(func() { mutating.Close() })

	if _, err := serving.Get(ctx, "lm"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	next := store.ConfigValue{Value: "http://localhost:9999/v1"}
	if err := st.SetProviderConfigKey(ctx, "lm", "baseURL", next); err != nil {
		t.Fatalf("SetProviderConfigKey: %v", err)
	}
	if err := mutating.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	if _, err := serving.Get(ctx, "lm"); err != nil {
		t.Fatalf("Get after edit: %v", err)
	}
	if len(builds) != 2 || builds[1] != next.Value {
		t.Fatalf("builds = %v, want rebuild from %s", builds, next.Value)
	}
}

func TestRegistryRejectsDisabledAndUnknown(t *testing.T) {
	r, st, _ := newRegistryFixture(t)
	seedProvider(t, st, "off", false)
	ctx := context.Background()

	if _, err := r.Get(ctx, "off"); err != store.ErrNotFound {
		t.Errorf("disabled: got %v, want ErrNotFound", err)
	}
	if _, err := r.Get(ctx, "nope"); err != store.ErrNotFound {
		t.Errorf("unknown: got %v, want ErrNotFound", err)
	}
}

func TestRegistryRequiresConfig(t *testing.T) {
	r, st, _ := newRegistryFixture(t)
	ctx := context.Background()

	if err := st.CreateProvider(ctx, &store.Provider{
		ID: "bare", Name: "bare", Type: TypeLocalOpenAI, Enabled: true,
	}); err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}

	_, err := r.Get(ctx, "bare")
	cfgErr, ok := err.(*ConfigError)
	if !ok {
		t.Fatalf("got %T (%v), want *ConfigError", err, err)
	}
	if cfgErr.Field != "baseURL" {
		t.Errorf("field = %q", cfgErr.Field)
	}
}
