package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"thumbforge/internal/models"
)

// memoryJobRepository - потокобезопасная in-memory реализация JobRepository.
// Используется в юнит-тестах воркера и обработчиков, где PostgreSQL избыточен;
// семантика compare-and-swap и FIFO идентична pg-реализации.
type memoryJobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	// Монотонный счетчик вставок разруливает равные created_at.
	order map[uuid.UUID]int
	seq   int
}

var _ JobRepository = (*memoryJobRepository)(nil)

// NewMemoryJobRepository создает пустое in-memory хранилище задач.
func NewMemoryJobRepository() JobRepository {
	return &memoryJobRepository{
		jobs:  make(map[uuid.UUID]*models.Job),
		order: make(map[uuid.UUID]int),
	}
}

func (r *memoryJobRepository) Insert(_ context.Context, spec models.JobSpec) (uuid.UUID, error) {
	if err := spec.Validate(); err != nil {
		return uuid.Nil, err
	}
	spec.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	job := &models.Job{
		ID:                uuid.New(),
		Prompt:            spec.Prompt,
		Frames:            append([]string(nil), spec.Frames...),
		LayoutImage:       spec.LayoutImage,
		VariantsRequested: spec.Variants,
		Status:            models.JobStatusQueued,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.seq++
	r.jobs[job.ID] = job
	r.order[job.ID] = r.seq
	return job.ID, nil
}

func (r *memoryJobRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyJob(job), nil
}

func (r *memoryJobRepository) FindOldestQueued(_ context.Context) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queued := make([]*models.Job, 0)
	for _, job := range r.jobs {
		if job.Status == models.JobStatusQueued {
			queued = append(queued, job)
		}
	}
	if len(queued) == 0 {
		return nil, models.ErrNotFound
	}
	sort.Slice(queued, func(i, j int) bool {
		if !queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].CreatedAt.Before(queued[j].CreatedAt)
		}
		return r.order[queued[i].ID] < r.order[queued[j].ID]
	})
	return copyJob(queued[0]), nil
}

func (r *memoryJobRepository) CompareAndSetStatus(_ context.Context, id uuid.UUID, expected, next models.JobStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != expected {
		return false, nil
	}
	job.Status = next
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *memoryJobRepository) UpdateTerminal(_ context.Context, id uuid.UUID, status models.JobStatus, resultURLs []string, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	job.Status = status
	job.ResultURLs = append([]string(nil), resultURLs...)
	job.ErrorMessage = errorMessage
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func copyJob(job *models.Job) *models.Job {
	c := *job
	c.Frames = append([]string(nil), job.Frames...)
	c.ResultURLs = append([]string(nil), job.ResultURLs...)
	return &c
}
