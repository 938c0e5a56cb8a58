package catalog

import (
	"context"

	"mindia/internal/models"
)

// UpsertEmbedding stores or replaces the vector for one (tenant, entity,
// model) triple, the unit of work generate_embedding tasks write. The
// column is double precision[], so the []float32 model type is widened to
// []float64 on write and narrowed back on read.
func (s *Store) UpsertEmbedding(ctx context.Context, e models.Embedding) error {
	const q = `
		INSERT INTO embeddings (tenant_id, entity_id, entity_type, vector, model)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, entity_id, model) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			vector = EXCLUDED.vector`
	_, err := s.pool.Exec(ctx, q, e.TenantID, e.EntityID, e.EntityType, widenVector(e.Vector), e.Model)
	return mapErr(err, "embedding")
}

// ListEmbeddings returns every embedding a tenant has stored for one model,
// the candidate set a similarity search ranks in application code since the
// vector column is a plain float array rather than a pgvector type.
func (s *Store) ListEmbeddings(ctx context.Context, tenantID, model string) ([]models.Embedding, error) {
	const q = `SELECT tenant_id, entity_id, entity_type, vector, model FROM embeddings WHERE tenant_id = $1 AND model = $2`
	rows, err := s.pool.Query(ctx, q, tenantID, model)
	if err != nil {
		return nil, mapErr(err, "embedding")
	}
	defer rows.Close()

	var out []models.Embedding
	for rows.Next() {
		var e models.Embedding
		var vector []float64
		if err := rows.Scan(&e.TenantID, &e.EntityID, &e.EntityType, &vector, &e.Model); err != nil {
			return nil, mapErr(err, "embedding")
		}
		e.Vector = narrowVector(vector)
		out = append(out, e)
	}
	return out, mapErr(rows.Err(), "embedding")
}

func widenVector(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func narrowVector(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
