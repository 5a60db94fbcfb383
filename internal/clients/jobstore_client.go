package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thumbforge/internal/models"
)

// JobStoreClient - клиент внутреннего API хранилища задач.
// Бюджет каждого вызова задает вызывающий через контекст; превышение бюджета
// отменяет сам HTTP запрос, а не только ожидание ответа.
type JobStoreClient interface {
	// InsertJob ставит задачу в очередь и возвращает ее id.
	// ErrTimeout означает неизвестный исход: вставка могла пройти.
	InsertJob(ctx context.Context, spec models.JobSpec) (uuid.UUID, error)

	// GetJob возвращает текущее состояние задачи или ErrNotFound.
	GetJob(ctx context.Context, id string) (*models.Job, error)
}

type httpJobStoreClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Compile-time check to ensure implementation satisfies the interface.
var _ JobStoreClient = (*httpJobStoreClient)(nil)

// NewHTTPJobStoreClient создает HTTP клиент хранилища задач.
// Таймаут на http.Client намеренно не ставим: бюджеты приходят в контексте
// и отличаются для enqueue и status.
func NewHTTPJobStoreClient(baseURL string, logger *zap.Logger) JobStoreClient {
	return &httpJobStoreClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger.Named("HTTPJobStoreClient"),
	}
}

func (c *httpJobStoreClient) InsertJob(ctx context.Context, spec models.JobSpec) (uuid.UUID, error) {
	log := c.logger.With(zap.Int("frameCount", len(spec.Frames)))
	log.Debug("Inserting job via internal store API")

	jsonData, err := json.Marshal(spec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal job spec: %w", err)
	}

	endpointURL := c.baseURL + "/internal/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create insert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isDeadline(ctx, err) {
			log.Warn("Insert call exceeded its budget, outcome unknown")
			return uuid.Nil, fmt.Errorf("%w: job store insert", models.ErrTimeout)
		}
		log.Error("Failed to execute insert request", zap.Error(err))
		return uuid.Nil, fmt.Errorf("failed to call job store: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		log.Error("Job store returned non-success status on insert",
			zap.Int("status_code", resp.StatusCode), zap.ByteString("body", body))
		return uuid.Nil, &models.UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		JobID uuid.UUID `json:"jobId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode insert response: %w", err)
	}

	log.Debug("Job inserted", zap.String("jobID", payload.JobID.String()))
	return payload.JobID, nil
}

func (c *httpJobStoreClient) GetJob(ctx context.Context, id string) (*models.Job, error) {
	log := c.logger.With(zap.String("jobID", id))

	endpointURL := c.baseURL + "/internal/jobs/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isDeadline(ctx, err) {
			return nil, fmt.Errorf("%w: job store status", models.ErrTimeout)
		}
		log.Error("Failed to execute status request", zap.Error(err))
		return nil, fmt.Errorf("failed to call job store: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		log.Error("Job store returned non-success status on get",
			zap.Int("status_code", resp.StatusCode), zap.ByteString("body", body))
		return nil, &models.UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var job models.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job response: %w", err)
	}
	return &job, nil
}

// isDeadline отличает превышение бюджета от прочих сетевых ошибок.
func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
