package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
)

// Provider is a configured backend that can answer chat completions.
type Provider struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// ConfigValue is one provider config entry.
type ConfigValue struct {
	Value     string `json:"value"`
	Sensitive bool   `json:"isSensitive"`
}

// ProviderIDPattern is the accepted shape of a provider id.
var ProviderIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ErrNotFound is returned when an addressed row does not exist.
var ErrNotFound = sql.ErrNoRows

const providerColumns = `id, name, type, enabled, priority, description, created_at, updated_at`

func scanProvider(row interface{ Scan(...interface{}) error }) (*Provider, error) {
	var p Provider
	var enabled int
	err := row.Scan(&p.ID, &p.Name, &p.Type, &enabled, &p.Priority, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled != 0
	return &p, nil
}

// CreateProvider inserts a provider row.
func (s *Store) CreateProvider(ctx context.Context, p *Provider) error {
	now := nowMS()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.exec(ctx,
		`INSERT INTO providers (id, name, type, enabled, priority, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Type, boolInt(p.Enabled), p.Priority, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetProvider returns the provider with the given id, or ErrNotFound.
func (s *Store) GetProvider(ctx context.Context, id string) (*Provider, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
	return scanProvider(row)
}

// ListProviders returns providers, optionally filtered by type and enabled
// state, ordered by priority descending then id.
func (s *Store) ListProviders(ctx context.Context, typeFilter string, enabledFilter *bool) ([]*Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE 1=1`
	var args []interface{}
	if typeFilter != "" {
		query += ` AND type = ?`
		args = append(args, typeFilter)
	}
	if enabledFilter != nil {
		query += ` AND enabled = ?`
		args = append(args, boolInt(*enabledFilter))
	}
	query += ` ORDER BY priority DESC, id ASC`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProvider updates the mutable fields of a provider row.
func (s *Store) UpdateProvider(ctx context.Context, p *Provider) error {
	p.UpdatedAt = nowMS()
	res, err := s.exec(ctx,
		`UPDATE providers SET name = ?, type = ?, enabled = ?, priority = ?, description = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Type, boolInt(p.Enabled), p.Priority, p.Description, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetProviderEnabled flips the enabled flag. Setting the current value is a
// no-op that still succeeds, so enable/disable endpoints stay idempotent.
func (s *Store) SetProviderEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.exec(ctx,
		`UPDATE providers SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolInt(enabled), nowMS(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteProvider removes a provider; configs and model links cascade.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetProviderConfig returns all config entries for a provider.
func (s *Store) GetProviderConfig(ctx context.Context, providerID string) (map[string]ConfigValue, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT key, value, is_sensitive FROM provider_configs WHERE provider_id = ?`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]ConfigValue)
	for rows.Next() {
		var key, value string
		var sensitive int
		if err := rows.Scan(&key, &value, &sensitive); err != nil {
			return nil, err
		}
		out[key] = ConfigValue{Value: value, Sensitive: sensitive != 0}
	}
	return out, rows.Err()
}

// PutProviderConfig replaces the full config of a provider in one
// transaction.
func (s *Store) PutProviderConfig(ctx context.Context, providerID string, config map[string]ConfigValue) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM provider_configs WHERE provider_id = ?`, providerID); err != nil {
			return err
		}
		for key, cv := range config {
			_, err := tx.Exec(
				`INSERT INTO provider_configs (provider_id, key, value, is_sensitive) VALUES (?, ?, ?, ?)`,
				providerID, key, cv.Value, boolInt(cv.Sensitive),
			)
			if err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`UPDATE providers SET updated_at = ? WHERE id = ?`, nowMS(), providerID); err != nil {
			return err
		}
		return nil
	})
}

// SetProviderConfigKey upserts a single config entry.
func (s *Store) SetProviderConfigKey(ctx context.Context, providerID, key string, cv ConfigValue) error {
	_, err := s.exec(ctx,
		`INSERT INTO provider_configs (provider_id, key, value, is_sensitive) VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider_id, key) DO UPDATE SET value = excluded.value, is_sensitive = excluded.is_sensitive`,
		providerID, key, cv.Value, boolInt(cv.Sensitive),
	)
	return err
}

// DeleteProviderConfigKey removes a single config entry.
func (s *Store) DeleteProviderConfigKey(ctx context.Context, providerID, key string) error {
	res, err := s.exec(ctx,
		`DELETE FROM provider_configs WHERE provider_id = ? AND key = ?`, providerID, key)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CountProviders returns total and enabled provider counts.
func (s *Store) CountProviders(ctx context.Context) (total, enabled int, err error) {
	err = s.reader.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(enabled), 0) FROM providers`).Scan(&total, &enabled)
	return
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// requireRow converts a zero-row mutation into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ValidateProviderID checks the provider id slug shape.
func ValidateProviderID(id string) error {
	if !ProviderIDPattern.MatchString(id) {
		return fmt.Errorf("provider id must match %s", ProviderIDPattern.String())
	}
	return nil
}
