package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

// Model is an independently owned model descriptor.
type Model struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	CreatedAt    int64    `json:"createdAt"`
	UpdatedAt    int64    `json:"updatedAt"`
}

// ProviderModel is a non-owning link between a provider and a model.
type ProviderModel struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
	IsDefault  bool   `json:"isDefault"`
	Config     string `json:"config,omitempty"`
}

func scanModel(row interface{ Scan(...interface{}) error }) (*Model, error) {
	var m Model
	var caps string
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &caps, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &m.Capabilities); err != nil {
		m.Capabilities = nil
	}
	return &m, nil
}

const modelColumns = `id, name, description, capabilities, created_at, updated_at`

// CreateModel inserts a model row. Creating an existing id upserts the
// descriptive fields, which keeps sync-from-provider idempotent.
func (s *Store) CreateModel(ctx context.Context, m *Model) error {
	now := nowMS()
	caps, _ := json.Marshal(m.Capabilities)
	if m.Capabilities == nil {
		caps = []byte("[]")
	}
	_, err := s.exec(ctx,
		`INSERT INTO models (id, name, description, capabilities, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   description = excluded.description,
		   capabilities = excluded.capabilities,
		   updated_at = excluded.updated_at`,
		m.ID, m.Name, m.Description, string(caps), now, now,
	)
	return err
}

// GetModel returns the model with the given id, or ErrNotFound.
func (s *Store) GetModel(ctx context.Context, id string) (*Model, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+modelColumns+` FROM models WHERE id = ?`, id)
	return scanModel(row)
}

// ListModels returns models, optionally filtered by capability tag and/or
// linked provider id.
func (s *Store) ListModels(ctx context.Context, capability, providerID string) ([]*Model, error) {
	query := `SELECT DISTINCT m.id, m.name, m.description, m.capabilities, m.created_at, m.updated_at FROM models m`
	var args []interface{}
	if providerID != "" {
		query += ` JOIN provider_models pm ON pm.model_id = m.id AND pm.provider_id = ?`
		args = append(args, providerID)
	}
	query += ` ORDER BY m.id ASC`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		if capability != "" && !hasCapability(m, capability) {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func hasCapability(m *Model, capability string) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// UpdateModel updates a model's descriptive fields.
func (s *Store) UpdateModel(ctx context.Context, m *Model) error {
	caps, _ := json.Marshal(m.Capabilities)
	if m.Capabilities == nil {
		caps = []byte("[]")
	}
	res, err := s.exec(ctx,
		`UPDATE models SET name = ?, description = ?, capabilities = ?, updated_at = ? WHERE id = ?`,
		m.Name, m.Description, string(caps), nowMS(), m.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteModel removes a model; provider links cascade.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// LinkModel links a model to a provider. Setting isDefault demotes any
// previous default for that provider inside the same transaction, keeping
// the at-most-one-default invariant.
func (s *Store) LinkModel(ctx context.Context, link *ProviderModel) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if link.IsDefault {
			if _, err := tx.Exec(
				`UPDATE provider_models SET is_default = 0 WHERE provider_id = ?`, link.ProviderID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(
			`INSERT INTO provider_models (provider_id, model_id, is_default, config) VALUES (?, ?, ?, ?)
			 ON CONFLICT(provider_id, model_id) DO UPDATE SET is_default = excluded.is_default, config = excluded.config`,
			link.ProviderID, link.ModelID, boolInt(link.IsDefault), nullString(link.Config),
		)
		return err
	})
}

// UnlinkModel drops a provider-model link.
func (s *Store) UnlinkModel(ctx context.Context, providerID, modelID string) error {
	res, err := s.exec(ctx,
		`DELETE FROM provider_models WHERE provider_id = ? AND model_id = ?`, providerID, modelID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ProvidersForModel returns the enabled providers linked to a model, ordered
// by priority descending then id ascending, the router's selection order.
func (s *Store) ProvidersForModel(ctx context.Context, modelID string) ([]*Provider, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT p.id, p.name, p.type, p.enabled, p.priority, p.description, p.created_at, p.updated_at
		 FROM providers p
		 JOIN provider_models pm ON pm.provider_id = p.id
		 WHERE pm.model_id = ? AND p.enabled = 1
		 ORDER BY p.priority DESC, p.id ASC`,
		modelID,
	)
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

// ModelsForProvider returns the links for one provider.
func (s *Store) ModelsForProvider(ctx context.Context, providerID string) ([]*ProviderModel, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT provider_id, model_id, is_default, COALESCE(config, '')
		 FROM provider_models WHERE provider_id = ? ORDER BY model_id ASC`,
		providerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ProviderModel
	for rows.Next() {
		var link ProviderModel
		var isDefault int
		if err := rows.Scan(&link.ProviderID, &link.ModelID, &isDefault, &link.Config); err != nil {
			return nil, err
		}
		link.IsDefault = isDefault != 0
		out = append(out, &link)
	}
	return out, rows.Err()
}

// CountModels returns the number of model rows.
func (s *Store) CountModels(ctx context.Context) (int, error) {
	var n int
	err := s.reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM models`).Scan(&n)
	return n, err
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
