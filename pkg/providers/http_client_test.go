package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDo_SuccessLeavesBodyOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Provider: "test", BaseURL: srv.URL})
	defer c.Close()

	resp, err := c.Do(context.Background(), http.MethodGet, "/models", nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestDo_UnauthorizedBecomesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Provider: "test", BaseURL: srv.URL})
	defer c.Close()

	_, err := c.Do(context.Background(), http.MethodGet, "/models", nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %T (%v), want *AuthError", err, err)
	}
	if authErr.Provider != "test" {
		t.Errorf("provider = %q", authErr.Provider)
	}
}

func TestDo_ServerErrorBecomesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Provider: "test", BaseURL: srv.URL})
	defer c.Close()

	_, err := c.Do(context.Background(), http.MethodPost, "/chat/completions", []byte("{}"))
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("got %T (%v), want *ProviderError", err, err)
	}
	if provErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d", provErr.Status)
	}
}

func TestDo_RefusedConnectionBecomesConnectionError(t *testing.T) {
	// Bind and immediately close to get a port nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Provider: "test", BaseURL: url})
	defer c.Close()

	_, err := c.Do(context.Background(), http.MethodGet, "/models", nil)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("got %T (%v), want *ConnectionError", err, err)
	}
	if connErr.Code != "ECONNREFUSED" {
		t.Errorf("code = %q, want ECONNREFUSED", connErr.Code)
	}
}

func TestDo_DeadlineBecomesTimeoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Provider: "test", BaseURL: srv.URL})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, http.MethodGet, "/models", nil)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("got %T (%v), want *TimeoutError", err, err)
	}
}

func TestDo_CancellationIsContextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Provider: "test", BaseURL: srv.URL})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Do(ctx, http.MethodGet, "/models", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestDoJSON_ParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewHTTPClient(HTTPClientConfig{Provider: "test", BaseURL: srv.URL})
	defer c.Close()

	var out map[string]interface{}
	err := c.DoJSON(context.Background(), http.MethodGet, "/models", nil, &out)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("got %T (%v), want *ParseError", err, err)
	}
	if parseErr.RawResponse != "not json" {
		t.Errorf("raw = %q", parseErr.RawResponse)
	}
}
