package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"thumbforge/internal/models"
)

const (
	insertJobQuery = `
		INSERT INTO generation_jobs (
			id, prompt, frames, layout_image, variants_requested,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	getJobByIDQuery = `
		SELECT id, prompt, frames, layout_image, variants_requested,
		       status, result_urls, error_message, created_at, updated_at
		FROM generation_jobs
		WHERE id = $1
	`
	// Равенство created_at разруливаем по id, чтобы порядок claim был
	// детерминированным.
	findOldestQueuedQuery = `
		SELECT id, prompt, frames, layout_image, variants_requested,
		       status, result_urls, error_message, created_at, updated_at
		FROM generation_jobs
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT 1
	`
	compareAndSetStatusQuery = `
		UPDATE generation_jobs
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	updateTerminalQuery = `
		UPDATE generation_jobs
		SET status = $2, result_urls = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1
	`
)

type pgJobRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Compile-time check to ensure pgJobRepository implements JobRepository
var _ JobRepository = (*pgJobRepository)(nil)

// NewPgJobRepository создает новый экземпляр репозитория задач на PostgreSQL.
func NewPgJobRepository(pool *pgxpool.Pool, logger *zap.Logger) JobRepository {
	return &pgJobRepository{
		pool:   pool,
		logger: logger.Named("PgJobRepo"),
	}
}

// Insert сохраняет новую задачу со статусом queued.
func (r *pgJobRepository) Insert(ctx context.Context, spec models.JobSpec) (uuid.UUID, error) {
	if err := spec.Validate(); err != nil {
		return uuid.Nil, err
	}
	spec.Normalize()

	id := uuid.New()
	now := time.Now().UTC()

	logFields := []zap.Field{
		zap.String("jobID", id.String()),
		zap.Int("frameCount", len(spec.Frames)),
		zap.Int("variants", spec.Variants),
	}

	_, err := r.pool.Exec(ctx, insertJobQuery,
		id, spec.Prompt, spec.Frames, spec.LayoutImage, spec.Variants,
		models.JobStatusQueued, now,
	)
	if err != nil {
		r.logger.Error("Failed to insert generation job", append(logFields, zap.Error(err))...)
		return uuid.Nil, fmt.Errorf("failed to insert generation job: %w", err)
	}

	r.logger.Info("Generation job inserted", logFields...)
	return id, nil
}

// GetByID возвращает задачу по id.
func (r *pgJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := pgxscan.Get(ctx, r.pool, &job, getJobByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("Generation job not found", zap.String("jobID", id.String()))
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get generation job", zap.String("jobID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get generation job %s: %w", id, err)
	}
	return &job, nil
}

// FindOldestQueued возвращает самую старую задачу в статусе queued.
func (r *pgJobRepository) FindOldestQueued(ctx context.Context) (*models.Job, error) {
	var job models.Job
	err := pgxscan.Get(ctx, r.pool, &job, findOldestQueuedQuery, models.JobStatusQueued)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to query oldest queued job", zap.Error(err))
		return nil, fmt.Errorf("failed to query oldest queued job: %w", err)
	}
	return &job, nil
}

// CompareAndSetStatus атомарно меняет статус при совпадении ожидаемого.
// Атомарность обеспечивается одним условным UPDATE: проигравший видит
// RowsAffected == 0, и это не ошибка.
func (r *pgJobRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next models.JobStatus) (bool, error) {
	logFields := []zap.Field{
		zap.String("jobID", id.String()),
		zap.String("expected", string(expected)),
		zap.String("next", string(next)),
	}

	tag, err := r.pool.Exec(ctx, compareAndSetStatusQuery, id, expected, next)
	if err != nil {
		r.logger.Error("Failed to execute compare-and-set", append(logFields, zap.Error(err))...)
		return false, fmt.Errorf("failed to compare-and-set job status: %w", err)
	}

	won := tag.RowsAffected() == 1
	if won {
		r.logger.Info("Job status transitioned", logFields...)
	} else {
		r.logger.Debug("Compare-and-set lost, status already changed", logFields...)
	}
	return won, nil
}

// UpdateTerminal безусловно записывает терминальное состояние.
func (r *pgJobRepository) UpdateTerminal(ctx context.Context, id uuid.UUID, status models.JobStatus, resultURLs []string, errorMessage *string) error {
	logFields := []zap.Field{
		zap.String("jobID", id.String()),
		zap.String("status", string(status)),
		zap.Int("resultCount", len(resultURLs)),
	}
	if errorMessage != nil {
		logFields = append(logFields, zap.Stringp("errorMessage", errorMessage))
	}

	tag, err := r.pool.Exec(ctx, updateTerminalQuery, id, status, resultURLs, errorMessage)
	if err != nil {
		r.logger.Error("Failed to update job terminal state", append(logFields, zap.Error(err))...)
		return fmt.Errorf("failed to update terminal state for job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("No rows affected when writing terminal state (job not found?)", logFields...)
		return models.ErrNotFound
	}

	r.logger.Info("Job terminal state written", logFields...)
	return nil
}
