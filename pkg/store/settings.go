package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// registryGenerationKey is the settings row backing provider cache
// invalidation. It lives in the database because the control plane and the
// gateway are separate processes; an in-memory counter would only ever
// invalidate the mutating process's own cache.
const registryGenerationKey = "registry.generation"

// Setting is one key/value configuration entry. Unknown keys are accepted;
// only a handful of critical keys are validated by the control plane.
type Setting struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updatedAt"`
}

// GetSetting returns the value of a setting, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var st Setting
	err := s.reader.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = ?`, key,
	).Scan(&st.Key, &st.Value, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SettingValue returns the setting's value, or fallback when absent.
func (s *Store) SettingValue(ctx context.Context, key, fallback string) string {
	st, err := s.GetSetting(ctx, key)
	if err != nil || st.Value == "" {
		return fallback
	}
	return st.Value
}

// SetSetting upserts a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowMS(),
	)
	return err
}

// SetSettings upserts many settings in one transaction.
func (s *Store) SetSettings(ctx context.Context, values map[string]string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowMS()
		for key, value := range values {
			_, err := tx.Exec(
				`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, value, now,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RegistryGeneration returns the provider cache generation counter. A
// missing row reads as zero.
func (s *Store) RegistryGeneration(ctx context.Context) (uint64, error) {
	var value string
	err := s.reader.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, registryGenerationKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("settings: bad %s value %q", registryGenerationKey, value)
	}
	return gen, nil
}

// BumpRegistryGeneration increments the provider cache generation counter,
// creating it at 1.
func (s *Store) BumpRegistryGeneration(ctx context.Context) error {
	_, err := s.exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, '1', ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = CAST(CAST(value AS INTEGER) + 1 AS TEXT),
		   updated_at = excluded.updated_at`,
		registryGenerationKey, nowMS(),
	)
	return err
}

// DeleteSetting removes a setting.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	res, err := s.exec(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListSettings returns all settings, optionally filtered by key prefix
// (category), ordered by key.
func (s *Store) ListSettings(ctx context.Context, category string) ([]*Setting, error) {
	query := `SELECT key, value, updated_at FROM settings`
	var args []interface{}
	if category != "" {
		query += ` WHERE key LIKE ?`
		args = append(args, strings.TrimSuffix(category, ".")+".%")
	}
	query += ` ORDER BY key ASC`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
