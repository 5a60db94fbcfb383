package repository

import (
	"context"

	"github.com/google/uuid"

	"thumbforge/internal/models"
)

// JobRepository - контракт хранилища задач генерации. Единственный примитив
// конкурентности всего конвейера - CompareAndSetStatus: он атомарно переводит
// queued -> processing и тем самым выдает эксклюзивное право исполнения ровно
// одному воркеру. Никакого внешнего lock-менеджера не требуется.
type JobRepository interface {
	// Insert сохраняет новую задачу со статусом queued и возвращает ее id.
	// Возвращает ErrValidation при пустом prompt или отсутствии кадров.
	Insert(ctx context.Context, spec models.JobSpec) (uuid.UUID, error)

	// GetByID возвращает задачу или ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// FindOldestQueued возвращает самую старую задачу в статусе queued
	// (FIFO по created_at) или ErrNotFound, если очередь пуста.
	FindOldestQueued(ctx context.Context) (*models.Job, error)

	// CompareAndSetStatus атомарно меняет статус задачи, только если текущий
	// статус равен expected. false означает, что статус уже изменил другой
	// участник - вызывающий обязан отказаться от задачи.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next models.JobStatus) (bool, error)

	// UpdateTerminal безусловно записывает терминальное состояние задачи.
	// Компенсирующего compare-and-swap здесь нет: до этой точки доходит только
	// победитель claim, повторная запись - overwrite last-write-wins.
	UpdateTerminal(ctx context.Context, id uuid.UUID, status models.JobStatus, resultURLs []string, errorMessage *string) error
}
