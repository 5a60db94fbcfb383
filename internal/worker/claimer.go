package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"thumbforge/internal/models"
	"thumbforge/internal/repository"
)

// Claimer выбирает задачи из очереди и захватывает их через compare-and-swap.
// Несколько воркеров могут работать над одной очередью: кто выиграл CAS, тот
// и выполняет, проигравший возвращается к выборке и не трогает чужую задачу.
type Claimer struct {
	repo     repository.JobRepository
	executor *Executor
	logger   *zap.Logger

	// Буфер на один сигнал: проснуться нужно один раз,
	// сколько бы wake ни пришло подряд.
	wakeCh chan struct{}
}

// NewClaimer создает цикл захвата задач.
func NewClaimer(repo repository.JobRepository, executor *Executor, logger *zap.Logger) *Claimer {
	return &Claimer{
		repo:     repo,
		executor: executor,
		logger:   logger.Named("Claimer"),
		wakeCh:   make(chan struct{}, 1),
	}
}

// Wake будит цикл захвата вне расписания. Неблокирующий: если сигнал уже
// висит в буфере, повторный просто сливается.
func (c *Claimer) Wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// Run крутит цикл захвата до отмены контекста. Просыпается по wake-сигналу
// или по таймеру (страховка от потерянных сигналов) и вычерпывает очередь
// до пустоты.
func (c *Claimer) Run(ctx context.Context, interval time.Duration) {
	c.logger.Info("Claim loop started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Первая выборка сразу при старте: очередь могла накопиться, пока воркер лежал.
	c.drain(ctx)

	for {
		select {
		case <-c.wakeCh:
			c.logger.Debug("Woken by queue signal")
			c.drain(ctx)
		case <-ticker.C:
			c.drain(ctx)
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping claim loop...")
			return
		}
	}
}

// drain обрабатывает задачи по одной, пока очередь не опустеет
// или не случится ошибка выборки.
func (c *Claimer) drain(ctx context.Context) {
	for {
		processed, err := c.ProcessNext(ctx)
		if err != nil {
			c.logger.Error("Failed to process queue", zap.Error(err))
			return
		}
		if !processed {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// ProcessNext захватывает и выполняет не больше одной задачи.
// Возвращает false, если очередь пуста. Проигранный CAS не ошибка:
// выборка повторяется, пока не найдется свободная задача или очередь
// не опустеет.
func (c *Claimer) ProcessNext(ctx context.Context) (bool, error) {
	for {
		job, err := c.repo.FindOldestQueued(ctx)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return false, nil
			}
			return false, err
		}

		won, err := c.repo.CompareAndSetStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusProcessing)
		if err != nil {
			return false, err
		}
		if !won {
			// Другой воркер успел первым. Его задачу не трогаем - перевыбираем.
			metricsClaimConflict()
			c.logger.Debug("Lost claim to another worker, re-querying",
				zap.String("jobID", job.ID.String()))
			continue
		}

		metricsJobClaimed()
		if err := c.executor.Execute(ctx, job); err != nil {
			// Терминальное состояние уже записано исполнителем,
			// здесь остается только залогировать.
			c.logger.Warn("Job finished with error", zap.String("jobID", job.ID.String()), zap.Error(err))
		}
		return true, nil
	}
}
