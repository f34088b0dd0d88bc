package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ChrisColeTech/qwen-proxy-poc-sub016/pkg/events"
)

// settingBody is the PUT /api/settings/{key} request shape.
type settingBody struct {
	Value string `json:"value"`
}

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*$`)

// validateSetting checks the handful of critical keys. Unknown keys are
// accepted without type checks.
func validateSetting(key, value string) error {
	switch key {
	case "server.port":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("server.port must be an integer between 1 and 65535")
		}
	case "server.host":
		if !validHost(value) {
			return fmt.Errorf("server.host must be an IPv4 address or hostname")
		}
	case "server.timeout":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1000 || n > 600000 {
			return fmt.Errorf("server.timeout must be between 1000 and 600000 milliseconds")
		}
	case "logging.level":
		switch value {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging.level must be one of debug, info, warn, error")
		}
	}
	return nil
}

// validHost accepts dotted-quad IPv4 addresses with octets 0-255, or a
// plain hostname.
func validHost(value string) bool {
	if value == "" {
		return false
	}

	parts := strings.Split(value, ".")
	allNumeric := true
	for _, part := range parts {
		if _, err := strconv.Atoi(part); err != nil {
			allNumeric = false
			break
		}
	}
	if allNumeric {
		if len(parts) != 4 {
			return false
		}
		for _, part := range parts {
			n, _ := strconv.Atoi(part)
			if n < 0 || n > 255 {
				return false
			}
		}
		return true
	}
	return hostnamePattern.MatchString(value)
}

// publishSettings broadcasts a settings:updated event.
func (s *Server) publishSettings(ctx context.Context, action string, keys []string) {
	s.hub.Publish(events.TypeSettingsUpdated, map[string]interface{}{
		"action": action,
		"keys":   keys,
	})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListSettings(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"settings": items, "total": len(items)})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	setting, err := s.store.GetSetting(r.Context(), r.PathValue("key"))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, setting)
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var body settingBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := validateSetting(key, body.Value); err != nil {
		validationError(w, r, key, err.Error())
		return
	}
	if err := s.store.SetSetting(r.Context(), key, body.Value); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.publishSettings(r.Context(), "updated", []string{key})
	respondJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": body.Value})
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.store.DeleteSetting(r.Context(), key); err != nil {
		respondStoreError(w, r, err)
		return
	}

	s.publishSettings(r.Context(), "deleted", []string{key})
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": key})
}

// handleBulkSettings writes several settings in one transaction. Validation
// runs for every key before anything is written.
func (s *Server) handleBulkSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if !decodeBody(w, r, &values) {
		return
	}
	if len(values) == 0 {
		validationError(w, r, "body", "at least one setting is required")
		return
	}
	for key, value := range values {
		if err := validateSetting(key, value); err != nil {
			validationError(w, r, key, err.Error())
			return
		}
	}

	if err := s.store.SetSettings(r.Context(), values); err != nil {
		respondStoreError(w, r, err)
		return
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	s.publishSettings(r.Context(), "updated", keys)
	respondJSON(w, http.StatusOK, map[string]interface{}{"updated": len(values)})
}
