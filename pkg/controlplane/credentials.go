package controlplane

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/bridge"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/events"
	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/store"
)

// credentialsBody is the POST /api/qwen/credentials request shape.
type credentialsBody struct {
	Token     string `json:"token"`
	Cookies   string `json:"cookies"`
	ExpiresAt *int64 `json:"expiresAt"`
}

// credentialsStatus is the masked GET response: validity and previews only,
// never raw values.
type credentialsStatus struct {
	HasCredentials bool   `json:"hasCredentials"`
	IsValid        bool   `json:"isValid"`
	IsExpired      bool   `json:"isExpired"`
	ExpiresAt      *int64 `json:"expiresAt,omitempty"`
	CreatedAt      int64  `json:"createdAt,omitempty"`
	UpdatedAt      int64  `json:"updatedAt,omitempty"`
	TokenPreview   string `json:"tokenPreview,omitempty"`
	CookiePreview  string `json:"cookiePreview,omitempty"`
}

// publishCredentials broadcasts a credentials:updated event.
func (s *Server) publishCredentials(ctx context.Context, action string) {
	payload := map[string]interface{}{
		"action":         action,
		"valid":          false,
		"hasCredentials": false,
	}
	if creds, err := s.store.GetCredentials(ctx); err == nil {
		payload["hasCredentials"] = true
		payload["valid"] = creds.Valid(time.Now())
		if creds.ExpiresAt != nil {
			payload["expiresAt"] = *creds.ExpiresAt
		}
	}
	s.hub.Publish(events.TypeCredentialsUpdated, payload)
}

func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.store.GetCredentials(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		respondJSON(w, http.StatusOK, &credentialsStatus{})
		return
	}
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	now := time.Now()
	respondJSON(w, http.StatusOK, &credentialsStatus{
		HasCredentials: true,
		IsValid:        creds.Valid(now),
		IsExpired:      creds.Expired(now),
		ExpiresAt:      creds.ExpiresAt,
		CreatedAt:      creds.CreatedAt,
		UpdatedAt:      creds.UpdatedAt,
		TokenPreview:   bridge.TokenPreview(creds.Token),
		CookiePreview:  bridge.CookiePreview(creds.Cookies),
	})
}

func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Token == "" {
		validationError(w, r, "token", "token is required")
		return
	}
	if body.Cookies == "" {
		validationError(w, r, "cookies", "cookies is required")
		return
	}

	creds := &store.Credentials{Token: body.Token, Cookies: body.Cookies, ExpiresAt: body.ExpiresAt}
	if err := s.store.SetCredentials(r.Context(), creds); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.logger.Info("credentials updated",
		"token_preview", bridge.TokenPreview(body.Token),
		"cookie_preview", bridge.CookiePreview(body.Cookies),
	)
	s.publishCredentials(r.Context(), "updated")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"updated": true,
		"valid":   creds.Valid(time.Now()),
	})
}

func (s *Server) handleDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCredentials(r.Context()); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.publishCredentials(r.Context(), "deleted")
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})
}
