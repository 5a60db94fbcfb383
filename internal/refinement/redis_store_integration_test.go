package refinement_test // Используем _test пакет для изоляции

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	// Докер клиент для проверки доступности
	"github.com/docker/docker/client"

	"thumbforge/internal/models"
	"thumbforge/internal/refinement"
)

// Лимит историй на сессию в тестах, маленький, чтобы вытеснение было дешево проверить.
const testMaxHistories = 3

// HistoryStoreIntegrationSuite гоняет хранилище историй правок против
// настоящего Redis: дисциплина емкости (индекс-ZSET, вытеснение старейших
// по updatedAt) и сброс inline-данных проверяются именно на персистированном
// состоянии, а не на объектах в памяти.
type HistoryStoreIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	rdContainer *tcredis.RedisContainer
	redisClient *redis.Client
	store       *refinement.HistoryStore
	logger      *zap.Logger
}

func (s *HistoryStoreIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.logger, err = zap.NewDevelopment()
	require.NoError(s.T(), err, "Failed to create logger for tests")

	s.rdContainer, err = tcredis.Run(s.ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(1*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start redis container")

	redisHost, err := s.rdContainer.Host(s.ctx)
	require.NoError(s.T(), err, "Failed to get redis host")
	redisPort, err := s.rdContainer.MappedPort(s.ctx, "6379/tcp")
	require.NoError(s.T(), err, "Failed to get redis port")

	s.redisClient = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	require.NoError(s.T(), s.redisClient.Ping(s.ctx).Err(), "Failed to ping test redis")

	s.store = refinement.NewHistoryStore(s.redisClient, testMaxHistories, s.logger)
}

func (s *HistoryStoreIntegrationSuite) TearDownSuite() {
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	if s.rdContainer != nil {
		if err := s.rdContainer.Terminate(s.ctx); err != nil {
			s.logger.Error("Failed to terminate redis container", zap.Error(err))
		}
	}
}

func (s *HistoryStoreIntegrationSuite) SetupTest() {
	require.NoError(s.T(), s.redisClient.FlushDB(s.ctx).Err(), "Failed to flush test redis")
}

// newHistoryAt строит историю из двух итераций с заданным updatedAt,
// чтобы порядок в индексе сессии был детерминированным.
func (s *HistoryStoreIntegrationSuite) newHistoryAt(updatedAt time.Time) *models.RefinementHistory {
	h := refinement.CreateFromBase("http://img/root.png", "root-inline-data", "a thumbnail", "tpl-1")
	_, err := refinement.AddIteration(h, h.CurrentIterationID, "more contrast", "a thumbnail, more contrast",
		"http://img/v2.png", "v2-inline-data", 1)
	require.NoError(s.T(), err)
	h.UpdatedAt = updatedAt
	return h
}

func (s *HistoryStoreIntegrationSuite) TestSaveAndGetRoundTrip() {
	h := s.newHistoryAt(time.Now().UTC())

	require.NoError(s.T(), s.store.Save(s.ctx, "sess-1", h))

	loaded, err := s.store.Get(s.ctx, "sess-1", h.ID)
	require.NoError(s.T(), err)
	s.Equal(h.ID, loaded.ID)
	s.Equal("a thumbnail", loaded.OriginalPrompt)
	s.Equal(h.CurrentIterationID, loaded.CurrentIterationID)
	s.Len(loaded.Iterations, 2)
}

func (s *HistoryStoreIntegrationSuite) TestSavePersistsOnlyCurrentInlinePayload() {
	h := s.newHistoryAt(time.Now().UTC())
	require.NoError(s.T(), s.store.Save(s.ctx, "sess-1", h))

	loaded, err := s.store.Get(s.ctx, "sess-1", h.ID)
	require.NoError(s.T(), err)

	for id, it := range loaded.Iterations {
		if id == loaded.CurrentIterationID {
			s.Equal("v2-inline-data", it.ImageData, "current iteration keeps inline payload")
		} else {
			s.Empty(it.ImageData, "non-current iterations must lose inline payload")
		}
		s.NotEmpty(it.ImageURL, "stripping must never touch image URLs")
	}

	// Исходная история в памяти не мутирована.
	for _, it := range h.Iterations {
		s.NotEmpty(it.ImageData)
	}
}

func (s *HistoryStoreIntegrationSuite) TestGetMissingIsNotFound() {
	_, err := s.store.Get(s.ctx, "sess-1", "no-such-history")
	s.ErrorIs(err, models.ErrNotFound)
}

func (s *HistoryStoreIntegrationSuite) TestListIDsNewestFirst() {
	base := time.Now().UTC().Truncate(time.Millisecond)

	var ids []string
	for i := 0; i < testMaxHistories; i++ {
		h := s.newHistoryAt(base.Add(time.Duration(i) * 10 * time.Millisecond))
		require.NoError(s.T(), s.store.Save(s.ctx, "sess-1", h))
		ids = append(ids, h.ID)
	}

	listed, err := s.store.ListIDs(s.ctx, "sess-1")
	require.NoError(s.T(), err)
	require.Len(s.T(), listed, testMaxHistories)
	// От новых к старым.
	for i := 0; i < testMaxHistories; i++ {
		s.Equal(ids[testMaxHistories-1-i], listed[i])
	}
}

func (s *HistoryStoreIntegrationSuite) TestEvictsOldestBeyondCapacity() {
	base := time.Now().UTC().Truncate(time.Millisecond)

	const total = testMaxHistories + 2
	var ids []string
	for i := 0; i < total; i++ {
		h := s.newHistoryAt(base.Add(time.Duration(i) * 10 * time.Millisecond))
		require.NoError(s.T(), s.store.Save(s.ctx, "sess-1", h))
		ids = append(ids, h.ID)
	}

	// Две старейшие истории вытеснены: и значение, и запись в индексе.
	for _, id := range ids[:total-testMaxHistories] {
		_, err := s.store.Get(s.ctx, "sess-1", id)
		s.ErrorIs(err, models.ErrNotFound, "evicted history must be gone")
	}
	for _, id := range ids[total-testMaxHistories:] {
		_, err := s.store.Get(s.ctx, "sess-1", id)
		s.NoError(err, "surviving history must stay readable")
	}

	listed, err := s.store.ListIDs(s.ctx, "sess-1")
	require.NoError(s.T(), err)
	require.Len(s.T(), listed, testMaxHistories)
	s.Equal(ids[total-1], listed[0], "index keeps the newest histories only")
	s.NotContains(listed, ids[0])
	s.NotContains(listed, ids[1])
}

func (s *HistoryStoreIntegrationSuite) TestSessionsAreIsolated() {
	h := s.newHistoryAt(time.Now().UTC())
	require.NoError(s.T(), s.store.Save(s.ctx, "sess-a", h))

	_, err := s.store.Get(s.ctx, "sess-b", h.ID)
	s.ErrorIs(err, models.ErrNotFound)

	listed, err := s.store.ListIDs(s.ctx, "sess-b")
	require.NoError(s.T(), err)
	s.Empty(listed)
}

func TestHistoryStoreIntegrationSuite(t *testing.T) {
	// Пропускаем тесты, если запущены с флагом -short
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	// Проверяем доступность Docker перед запуском
	cli, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		t.Fatalf("Docker client init error: %v. Ensure Docker is running and accessible.", err)
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		t.Fatalf("Docker daemon is not running or accessible: %v", err)
	}
	cli.Close()

	suite.Run(t, new(HistoryStoreIntegrationSuite))
}
