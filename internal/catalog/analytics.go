package catalog

import (
	"context"

	"mindia/internal/models"
)

// StorageTypeBreakdown is one media type's contribution to a tenant's
// storage footprint.
type StorageTypeBreakdown struct {
	Type       models.MediaType `json:"type"`
	Count      int64            `json:"count"`
	TotalBytes int64            `json:"totalBytes"`
}

// StorageAnalytics summarizes a tenant's active (non-deleted) media.
type StorageAnalytics struct {
	TotalCount int64                  `json:"totalCount"`
	TotalBytes int64                  `json:"totalBytes"`
	ByType     []StorageTypeBreakdown `json:"byType"`
}

// StorageAnalytics aggregates file counts and byte totals per media type,
// scoped to tenantID and excluding soft-deleted rows.
func (s *Store) StorageAnalytics(ctx context.Context, tenantID string) (StorageAnalytics, error) {
	const q = `
		SELECT entity_type, count(*), coalesce(sum(file_size), 0)
		FROM media
		WHERE tenant_id = $1 AND deleted_at IS NULL
		GROUP BY entity_type
		ORDER BY entity_type`

	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return StorageAnalytics{}, mapErr(err, "media")
	}
	defer rows.Close()

	var out StorageAnalytics
	for rows.Next() {
		var b StorageTypeBreakdown
		if err := rows.Scan(&b.Type, &b.Count, &b.TotalBytes); err != nil {
			return StorageAnalytics{}, mapErr(err, "media")
		}
		out.ByType = append(out.ByType, b)
		out.TotalCount += b.Count
		out.TotalBytes += b.TotalBytes
	}
	return out, mapErr(rows.Err(), "media")
}
