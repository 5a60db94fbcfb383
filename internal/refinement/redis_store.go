package refinement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"thumbforge/internal/models"
)

// HistoryStore персистирует истории правок в Redis с ограничением емкости:
// на сессию хранится не больше maxHistories историй, старейшие (по updatedAt)
// вытесняются. Inline-данные изображения сохраняются только у текущей итерации
// каждой истории - остальные держат только URL, чтобы ограничить размер
// хранилища, не теряя возможности перезагрузить картинку.
type HistoryStore struct {
	client       *redis.Client
	maxHistories int
	logger       *zap.Logger
}

// NewHistoryStore создает Redis-хранилище историй правок.
func NewHistoryStore(client *redis.Client, maxHistories int, logger *zap.Logger) *HistoryStore {
	if maxHistories <= 0 {
		maxHistories = 20
	}
	return &HistoryStore{
		client:       client,
		maxHistories: maxHistories,
		logger:       logger.Named("RefinementHistoryStore"),
	}
}

func historyKey(sessionID, historyID string) string {
	return fmt.Sprintf("refinement:%s:%s", sessionID, historyID)
}

func indexKey(sessionID string) string {
	return fmt.Sprintf("refinement:index:%s", sessionID)
}

// Save сохраняет историю (целиком, last-write-wins) и поддерживает индекс
// сессии и лимит емкости.
func (s *HistoryStore) Save(ctx context.Context, sessionID string, h *models.RefinementHistory) error {
	log := s.logger.With(zap.String("sessionID", sessionID), zap.String("historyID", h.ID))

	stored := StripInlinePayloads(h)
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal refinement history: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, historyKey(sessionID, h.ID), data, 0)
	pipe.ZAdd(ctx, indexKey(sessionID), redis.Z{
		Score:  float64(h.UpdatedAt.UnixMilli()),
		Member: h.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error("Failed to save refinement history", zap.Error(err))
		return fmt.Errorf("failed to save refinement history: %w", err)
	}

	if err := s.evictOldest(ctx, sessionID); err != nil {
		// Вытеснение best-effort: история уже сохранена.
		log.Warn("Failed to evict old refinement histories", zap.Error(err))
	}

	log.Debug("Refinement history saved", zap.Int("iterations", len(h.Iterations)))
	return nil
}

// Get возвращает историю или ErrNotFound.
func (s *HistoryStore) Get(ctx context.Context, sessionID, historyID string) (*models.RefinementHistory, error) {
	data, err := s.client.Get(ctx, historyKey(sessionID, historyID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("Failed to get refinement history", zap.String("historyID", historyID), zap.Error(err))
		return nil, fmt.Errorf("failed to get refinement history: %w", err)
	}

	var h models.RefinementHistory
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refinement history: %w", err)
	}
	return &h, nil
}

// ListIDs возвращает id историй сессии от новых к старым.
func (s *HistoryStore) ListIDs(ctx context.Context, sessionID string) ([]string, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list refinement histories: %w", err)
	}
	return ids, nil
}

// evictOldest удаляет старейшие истории сверх лимита.
func (s *HistoryStore) evictOldest(ctx context.Context, sessionID string) error {
	idx := indexKey(sessionID)

	count, err := s.client.ZCard(ctx, idx).Result()
	if err != nil {
		return err
	}
	excess := count - int64(s.maxHistories)
	if excess <= 0 {
		return nil
	}

	oldest, err := s.client.ZRange(ctx, idx, 0, excess-1).Result()
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	for _, id := range oldest {
		pipe.Del(ctx, historyKey(sessionID, id))
	}
	pipe.ZRemRangeByRank(ctx, idx, 0, excess-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	s.logger.Info("Evicted old refinement histories",
		zap.String("sessionID", sessionID), zap.Int64("evicted", excess))
	return nil
}

// StripInlinePayloads возвращает копию истории, в которой inline-данные
// изображений оставлены только у текущей итерации. Исходная история
// не мутируется.
func StripInlinePayloads(h *models.RefinementHistory) *models.RefinementHistory {
	stripped := *h
	stripped.Iterations = make(map[string]*models.RefinementIteration, len(h.Iterations))
	for id, it := range h.Iterations {
		c := *it
		if id != h.CurrentIterationID {
			c.ImageData = ""
		}
		stripped.Iterations[id] = &c
	}
	return &stripped
}
