package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mindia/internal/apperror"
	"mindia/internal/auth"
	"mindia/internal/models"
)

var _ auth.APIKeyStore = (*Store)(nil)

// CreateTenant inserts a new tenant in TenantActive status.
func (s *Store) CreateTenant(ctx context.Context, name string) (models.Tenant, error) {
	t := models.Tenant{
		ID:     uuid.NewString(),
		Name:   name,
		Status: models.TenantActive,
	}
	const q = `
		INSERT INTO tenants (id, name, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`
	err := s.pool.QueryRow(ctx, q, t.ID, t.Name, t.Status).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Tenant{}, mapErr(err, "tenant")
	}
	return t, nil
}

// GetTenant fetches a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	const q = `SELECT id, name, status, created_at, updated_at FROM tenants WHERE id = $1`
	var t models.Tenant
	err := s.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Tenant{}, mapErr(err, "tenant")
	}
	return t, nil
}

// SetTenantStatus transitions a tenant's lifecycle status.
func (s *Store) SetTenantStatus(ctx context.Context, id string, status models.TenantStatus) error {
	const q = `UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, status)
	if err != nil {
		return mapErr(err, "tenant")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("tenant not found")
	}
	return nil
}

// CreateAPIKey inserts a new API key row. The caller supplies the hash and
// prefix already computed by auth.GenerateAPIKey; the raw key itself is
// never persisted.
func (s *Store) CreateAPIKey(ctx context.Context, key models.ApiKey) (models.ApiKey, error) {
	key.ID = uuid.NewString()
	const q = `
		INSERT INTO api_keys (id, tenant_id, name, key_hash, key_prefix, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, key.ExpiresAt, key.IsActive,
	).Scan(&key.CreatedAt)
	if err != nil {
		return models.ApiKey{}, mapErr(err, "api key")
	}
	return key, nil
}

// GetAPIKeyByHash implements auth.APIKeyStore.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (models.ApiKey, error) {
	const q = `
		SELECT id, tenant_id, name, key_hash, key_prefix, expires_at, is_active, last_used_at, created_at
		FROM api_keys WHERE key_hash = $1`
	var k models.ApiKey
	err := s.pool.QueryRow(ctx, q, hash).Scan(
		&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.ExpiresAt, &k.IsActive, &k.LastUsedAt, &k.CreatedAt,
	)
	if err != nil {
		return models.ApiKey{}, mapErr(err, "api key")
	}
	return k, nil
}

// UpdateAPIKeyLastUsed implements auth.APIKeyStore.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, at)
	return mapErr(err, "api key")
}

// RevokeAPIKey deactivates an API key.
func (s *Store) RevokeAPIKey(ctx context.Context, tenantID, id string) error {
	const q = `UPDATE api_keys SET is_active = false WHERE tenant_id = $1 AND id = $2`
	tag, err := s.pool.Exec(ctx, q, tenantID, id)
	if err != nil {
		return mapErr(err, "api key")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("api key not found")
	}
	return nil
}

// ListAPIKeys returns every API key belonging to tenantID.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]models.ApiKey, error) {
	const q = `
		SELECT id, tenant_id, name, key_hash, key_prefix, expires_at, is_active, last_used_at, created_at
		FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, mapErr(err, "api key")
	}
	defer rows.Close()

	var out []models.ApiKey
	for rows.Next() {
		var k models.ApiKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.ExpiresAt, &k.IsActive, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, mapErr(err, "api key")
		}
		out = append(out, k)
	}
	return out, mapErr(rows.Err(), "api key")
}
