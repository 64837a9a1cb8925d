package repositories

import (
	"context"
	"time"

	"github.com/upb/ai-orchestrator/models"
)

// GenerationRepository handles generation record data operations
type GenerationRepository interface {
	// Create inserts a new generation record
	Create(ctx context.Context, record *models.GenerationRecord) error

	// ListRecent retrieves the newest records first, at most limit of them
	ListRecent(ctx context.Context, limit int) ([]*models.GenerationRecord, error)

	// SummarizeByProvider aggregates records created at or after since, one row per provider.
	// Requests where every attempt failed are grouped under an empty provider name.
	SummarizeByProvider(ctx context.Context, since time.Time) ([]*models.ProviderUsageSummary, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Generations GenerationRepository
}
