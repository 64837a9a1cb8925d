package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/ai-orchestrator/models"
	"github.com/upb/ai-orchestrator/repositories"
)

// DefaultListLimit caps ListRecent when the caller passes a non-positive limit
const DefaultListLimit = 100

// GenerationRepository implements the repositories.GenerationRepository interface
type GenerationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGenerationRepository creates a new generation repository
func NewGenerationRepository(db *DB, logger *zap.Logger) repositories.GenerationRepository {
	return &GenerationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new generation record
func (r *GenerationRepository) Create(ctx context.Context, record *models.GenerationRecord) error {
	query := `
		INSERT INTO generation_records (
			id, request_id, status, provider, model, attempts, prompt_chars,
			tokens_used, cost, latency_ms, error_type, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.RequestID,
		record.Status,
		record.Provider,
		record.Model,
		record.Attempts,
		record.PromptChars,
		record.TokensUsed,
		record.Cost,
		record.LatencyMs,
		record.ErrorType,
		record.ErrorMessage,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert generation record: %w", err)
	}

	r.logger.Debug("generation record inserted",
		zap.String("id", record.ID.String()),
		zap.String("request_id", record.RequestID),
		zap.String("status", string(record.Status)))
	return nil
}

// ListRecent retrieves the newest generation records
func (r *GenerationRepository) ListRecent(ctx context.Context, limit int) ([]*models.GenerationRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, request_id, status, provider, model, attempts, prompt_chars,
		       tokens_used, cost, latency_ms, error_type, error_message, created_at
		FROM generation_records
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation records: %w", err)
	}
	defer rows.Close()

	var records []*models.GenerationRecord
	for rows.Next() {
		record := &models.GenerationRecord{}
		if err := rows.Scan(
			&record.ID,
			&record.RequestID,
			&record.Status,
			&record.Provider,
			&record.Model,
			&record.Attempts,
			&record.PromptChars,
			&record.TokensUsed,
			&record.Cost,
			&record.LatencyMs,
			&record.ErrorType,
			&record.ErrorMessage,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan generation record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation records: %w", err)
	}

	return records, nil
}

// SummarizeByProvider aggregates usage per provider since the given time
func (r *GenerationRepository) SummarizeByProvider(ctx context.Context, since time.Time) ([]*models.ProviderUsageSummary, error) {
	query := `
		SELECT provider,
		       COUNT(*) AS requests,
		       COUNT(*) FILTER (WHERE status = $2) AS failures,
		       COALESCE(SUM(tokens_used), 0) AS total_tokens,
		       COALESCE(SUM(cost), 0) AS total_cost,
		       COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
		FROM generation_records
		WHERE created_at >= $1
		GROUP BY provider
		ORDER BY provider
	`

	rows, err := r.db.QueryContext(ctx, query, since, models.GenerationStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize generation records: %w", err)
	}
	defer rows.Close()

	summaries := make([]*models.ProviderUsageSummary, 0)
	for rows.Next() {
		s := &models.ProviderUsageSummary{}
		var avgLatency sql.NullFloat64
		if err := rows.Scan(
			&s.Provider,
			&s.Requests,
			&s.Failures,
			&s.TotalTokens,
			&s.TotalCost,
			&avgLatency,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		s.AvgLatencyMs = avgLatency.Float64
		summaries = append(summaries, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summaries: %w", err)
	}

	return summaries, nil
}
