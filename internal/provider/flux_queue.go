package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"thumbforge/internal/config"
	"thumbforge/internal/models"
	"thumbforge/internal/storage"
)

// Статусы задач во внешней очереди генерации.
const (
	queueStatusInQueue    = "IN_QUEUE"
	queueStatusInProgress = "IN_PROGRESS"
	queueStatusCompleted  = "COMPLETED"
	queueStatusFailed     = "FAILED"
)

// fluxQueueProvider - асинхронный провайдер поверх внешней очереди генерации
// (submit/poll/fetch). Для каждого варианта последовательно: загрузка входов
// до достижимых URL, постановка задачи, опрос статуса с фиксированным
// интервалом и ограничением по числу попыток, затем выборка результата.
// Циклы вариантов независимы и не конвейеризуются.
type fluxQueueProvider struct {
	baseURL         string
	model           string
	apiKey          string
	pollInterval    time.Duration
	pollMaxAttempts int
	httpClient      *http.Client
	store           *storage.FileStore
	logger          *zap.Logger
}

var _ Provider = (*fluxQueueProvider)(nil)

// NewFluxQueueProvider создает провайдер внешней очереди.
func NewFluxQueueProvider(cfg config.ProviderConfig, store *storage.FileStore, logger *zap.Logger) (Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("flux-queue provider requires IMAGE_PROVIDER_BASE_URL")
	}
	return &fluxQueueProvider{
		baseURL:         cfg.BaseURL,
		model:           cfg.Model,
		apiKey:          cfg.APIKey,
		pollInterval:    cfg.PollInterval,
		pollMaxAttempts: cfg.PollMaxAttempts,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		store:  store,
		logger: logger.Named("FluxQueueProvider"),
	}, nil
}

type queueSubmitRequest struct {
	Prompt    string   `json:"prompt"`
	ImageURLs []string `json:"image_urls,omitempty"`
	NumImages int      `json:"num_images"`
}

type queueSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type queueStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type queueResultImage struct {
	URL         string `json:"url"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
}

type queueResultResponse struct {
	Images []queueResultImage `json:"images"`
}

// Generate выполняет по одному циклу submit/poll/fetch на каждый вариант.
func (p *fluxQueueProvider) Generate(ctx context.Context, prompt string, inputs []InputImage, count int) ([]GeneratedImage, error) {
	log := p.logger.With(zap.String("model", p.model), zap.Int("count", count), zap.Int("inputs", len(inputs)))
	log.Info("Generating images via queue provider")

	// Входы одинаковы для всех вариантов, загружаем один раз.
	inputURLs, err := p.uploadInputs(inputs)
	if err != nil {
		return nil, err
	}

	var results []GeneratedImage
	for variant := 0; variant < count; variant++ {
		images, err := p.generateOne(ctx, prompt, inputURLs)
		if err != nil {
			log.Error("Queue provider variant failed", zap.Int("variant", variant), zap.Error(err))
			return nil, fmt.Errorf("queue variant %d failed: %w", variant, err)
		}
		results = append(results, images...)
	}

	log.Info("Queue generation finished", zap.Int("images", len(results)))
	return results, nil
}

// uploadInputs кладет входные изображения в файловое хранилище, чтобы очередь
// могла скачать их по публичному URL.
func (p *fluxQueueProvider) uploadInputs(inputs []InputImage) ([]string, error) {
	urls := make([]string, 0, len(inputs))
	for i, input := range inputs {
		url, err := p.store.SaveInput(input.Bytes, extForMIME(input.MIME))
		if err != nil {
			return nil, fmt.Errorf("failed to upload input image %d: %w", i, err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (p *fluxQueueProvider) generateOne(ctx context.Context, prompt string, inputURLs []string) ([]GeneratedImage, error) {
	submitted, err := p.submit(ctx, prompt, inputURLs)
	if err != nil {
		return nil, err
	}

	log := p.logger.With(zap.String("request_id", submitted.RequestID))
	log.Debug("Queue job submitted, polling status")

	if err := p.poll(ctx, submitted.StatusURL, log); err != nil {
		return nil, err
	}

	return p.fetchResult(ctx, submitted.ResponseURL)
}

// submit ставит одну задачу (count=1) во внешнюю очередь.
func (p *fluxQueueProvider) submit(ctx context.Context, prompt string, inputURLs []string) (*queueSubmitResponse, error) {
	body, err := json.Marshal(queueSubmitRequest{
		Prompt:    prompt,
		ImageURLs: inputURLs,
		NumImages: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submit payload: %w", err)
	}

	endpointURL := p.baseURL + "/v1/queue/" + p.model
	respBody, err := p.doRequest(ctx, http.MethodPost, endpointURL, body)
	if err != nil {
		return nil, fmt.Errorf("queue submit failed: %w", err)
	}

	var submitted queueSubmitResponse
	if err := json.Unmarshal(respBody, &submitted); err != nil {
		return nil, fmt.Errorf("failed to decode submit response: %w", err)
	}
	if submitted.StatusURL == "" || submitted.ResponseURL == "" {
		return nil, fmt.Errorf("queue submit response is missing status/response URLs")
	}
	return &submitted, nil
}

// poll опрашивает статус с фиксированным интервалом. Ограничение именно по
// числу попыток: исчерпание попыток - ErrTimeout, статус FAILED - немедленная
// ошибка.
func (p *fluxQueueProvider) poll(ctx context.Context, statusURL string, log *zap.Logger) error {
	for attempt := 1; attempt <= p.pollMaxAttempts; attempt++ {
		respBody, err := p.doRequest(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return fmt.Errorf("queue status poll failed: %w", err)
		}

		var status queueStatusResponse
		if err := json.Unmarshal(respBody, &status); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		switch status.Status {
		case queueStatusCompleted:
			log.Debug("Queue job completed", zap.Int("attempts", attempt))
			return nil
		case queueStatusFailed:
			return fmt.Errorf("queue job failed: %s", status.Error)
		case queueStatusInQueue, queueStatusInProgress:
			// Ждем следующей попытки
		default:
			log.Warn("Unknown queue status, continuing to poll", zap.String("status", status.Status))
		}

		// После последней попытки не спим: исчерпание фиксируется сразу.
		if attempt == p.pollMaxAttempts {
			break
		}

		select {
		case <-time.After(p.pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: queue job did not complete after %d poll attempts", models.ErrTimeout, p.pollMaxAttempts)
}

// fetchResult забирает результат и скачивает байты каждого изображения.
func (p *fluxQueueProvider) fetchResult(ctx context.Context, responseURL string) ([]GeneratedImage, error) {
	respBody, err := p.doRequest(ctx, http.MethodGet, responseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("queue result fetch failed: %w", err)
	}

	var result queueResultResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result response: %w", err)
	}

	images := make([]GeneratedImage, 0, len(result.Images))
	for _, img := range result.Images {
		data, err := p.download(ctx, img.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to download result image: %w", err)
		}
		width, height := img.Width, img.Height
		if width == 0 || height == 0 {
			width, height = probeDimensions(data)
		}
		mime := img.ContentType
		if mime == "" {
			mime = "image/png"
		}
		images = append(images, GeneratedImage{Bytes: data, MIME: mime, Width: width, Height: height})
	}
	return images, nil
}

func (p *fluxQueueProvider) download(ctx context.Context, url string) ([]byte, error) {
	return p.doRequest(ctx, http.MethodGet, url, nil)
}

// doRequest выполняет HTTP запрос с bearer-авторизацией и возвращает тело
// успешного ответа.
func (p *fluxQueueProvider) doRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", models.ErrTimeout, err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("queue API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return respBody, nil
}

func extForMIME(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
