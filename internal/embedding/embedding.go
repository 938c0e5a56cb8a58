// Package embedding is the generate_embedding task handler and semantic
// search surface of spec §4.G/§4.N: given a media row, call an embedding
// provider and write the resulting vector to the catalog; given a query
// string, embed it the same way and rank stored vectors by cosine
// similarity. No embedding/ML client exists anywhere in the example pack
// (see DESIGN.md), so Provider is a narrow interface with a deterministic
// local implementation standing in for a real one — swapping in a live
// provider later means implementing Provider, not touching this package.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"sort"

	"mindia/internal/apperror"
	"mindia/internal/catalog"
	"mindia/internal/models"
)

const (
	// DefaultModel names the deterministic local provider's output, stored
	// alongside each vector so multiple models can coexist per entity.
	DefaultModel = "mindia-local-hash-v1"
	vectorDim    = 32
)

// Provider turns text into a fixed-length embedding vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// HashProvider is a deterministic stand-in for a real embedding model: it
// hashes the input into vectorDim pseudo-random but reproducible floats.
// Same input always yields the same vector, which is all the catalog and
// its tests need from a provider.
type HashProvider struct{}

func (HashProvider) Model() string { return DefaultModel }

func (HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	out := make([]float32, vectorDim)
	for i := 0; i < vectorDim; i++ {
		offset := (i * 4) % (len(sum) - 3)
		bits := binary.BigEndian.Uint32(sum[offset : offset+4])
		out[i] = float32(bits%20000)/10000 - 1 // roughly in [-1, 1)
	}
	return out, nil
}

// Store is the narrow catalog surface the embedding Service needs.
type Store interface {
	GetMedia(ctx context.Context, tenantID, id string) (models.Media, error)
	UpsertEmbedding(ctx context.Context, e models.Embedding) error
	ListEmbeddings(ctx context.Context, tenantID, model string) ([]models.Embedding, error)
}

var _ Store = (*catalog.Store)(nil)

// Service embeds media and answers similarity search queries.
type Service struct {
	store    Store
	provider Provider
	logger   *slog.Logger
}

// NewService builds a Service. provider defaults to HashProvider and logger
// to slog.Default when nil.
func NewService(store Store, provider Provider, logger *slog.Logger) *Service {
	if provider == nil {
		provider = HashProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, provider: provider, logger: logger}
}

type embeddingPayload struct {
	MediaID string `json:"media_id"`
}

// Handle is the worker.Handler entrypoint for models.TaskGenerateEmbedding:
// it embeds the media's original filename (the only text reliably present
// for every media kind) and writes the resulting vector to the catalog.
func (s *Service) Handle(ctx context.Context, task models.Task) (any, error) {
	var payload embeddingPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, apperror.InvalidInput("malformed embedding task payload").WithDetail(err.Error())
	}

	media, err := s.store.GetMedia(ctx, task.TenantID, payload.MediaID)
	if err != nil {
		return nil, err
	}

	vector, err := s.provider.Embed(ctx, embeddingText(media))
	if err != nil {
		return nil, apperror.Internal(err)
	}

	err = s.store.UpsertEmbedding(ctx, models.Embedding{
		TenantID:   task.TenantID,
		EntityID:   media.ID,
		EntityType: string(media.Type),
		Vector:     vector,
		Model:      s.provider.Model(),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity_id": media.ID, "model": s.provider.Model()}, nil
}

func embeddingText(media models.Media) string {
	if media.OriginalFilename != "" {
		return media.OriginalFilename
	}
	return media.Filename
}

// ScoredEntity is one semantic search hit.
type ScoredEntity struct {
	EntityID   string
	EntityType string
	Score      float64
}

// Search embeds query and ranks every stored vector for the tenant and
// model by cosine similarity, descending. Always tenant-scoped per spec's
// Embedding invariant: a result set mixing tenants would be a correctness
// bug, not just an isolation gap.
func (s *Service) Search(ctx context.Context, tenantID, query string, topK int) ([]ScoredEntity, error) {
	queryVector, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	candidates, err := s.store.ListEmbeddings(ctx, tenantID, s.provider.Model())
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredEntity, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, ScoredEntity{
			EntityID:   c.EntityID,
			EntityType: c.EntityType,
			Score:      cosineSimilarity(queryVector, c.Vector),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
