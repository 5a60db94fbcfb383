package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thumbforge/internal/models"
	"thumbforge/internal/provider"
	"thumbforge/internal/provider/mocks"
	"thumbforge/internal/repository"
)

func TestClaimer_ProcessNext_EmptyQueue(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	mockProvider := mocks.NewMockProvider(t)
	executor := NewExecutor(repo, mockProvider, newTestStore(t), "key", zap.NewNop())
	claimer := NewClaimer(repo, executor, zap.NewNop())

	processed, err := claimer.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestClaimer_ProcessNext_ClaimsOldestFirst(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	mockProvider := mocks.NewMockProvider(t)
	executor := NewExecutor(repo, mockProvider, newTestStore(t), "key", zap.NewNop())
	claimer := NewClaimer(repo, executor, zap.NewNop())
	ctx := context.Background()

	firstID, err := repo.Insert(ctx, models.JobSpec{Prompt: "first", Frames: []string{"f"}, Variants: 1})
	require.NoError(t, err)
	secondID, err := repo.Insert(ctx, models.JobSpec{Prompt: "second", Frames: []string{"f"}, Variants: 1})
	require.NoError(t, err)

	mockProvider.On("Generate", mock.Anything, mock.Anything, mock.Anything, 1).
		Return([]provider.GeneratedImage{{Bytes: pngBytes, MIME: "image/png"}}, nil)

	processed, err := claimer.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	first, err := repo.GetByID(ctx, firstID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, secondID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, first.Status, "oldest job is claimed first")
	assert.Equal(t, models.JobStatusQueued, second.Status)

	processed, err = claimer.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	second, err = repo.GetByID(ctx, secondID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, second.Status)
}

func TestClaimer_ProcessNext_FailedJobIsStillProcessed(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	mockProvider := mocks.NewMockProvider(t)
	executor := NewExecutor(repo, mockProvider, newTestStore(t), "key", zap.NewNop())
	claimer := NewClaimer(repo, executor, zap.NewNop())
	ctx := context.Background()

	id, err := repo.Insert(ctx, models.JobSpec{Prompt: "p", Frames: []string{"f"}, Variants: 1})
	require.NoError(t, err)

	mockProvider.On("Generate", mock.Anything, mock.Anything, mock.Anything, 1).
		Return(nil, assert.AnError).Once()

	// Терминальная ошибка задачи не ломает цикл захвата.
	processed, err := claimer.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	job, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, job.Status)
}

func TestClaimer_Wake_NonBlocking(t *testing.T) {
	repo := repository.NewMemoryJobRepository()
	mockProvider := mocks.NewMockProvider(t)
	executor := NewExecutor(repo, mockProvider, newTestStore(t), "key", zap.NewNop())
	claimer := NewClaimer(repo, executor, zap.NewNop())

	// Повторные wake не блокируют: лишние сигналы сливаются.
	for i := 0; i < 10; i++ {
		claimer.Wake()
	}
}
