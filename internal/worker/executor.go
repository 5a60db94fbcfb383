package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"thumbforge/internal/models"
	"thumbforge/internal/provider"
	"thumbforge/internal/repository"
	"thumbforge/internal/storage"
)

// Причины терминальных ошибок для метрик и сообщений в записи задачи.
const (
	failReasonMissingCredentials = "missing_credentials"
	failReasonBadInput           = "bad_input"
	failReasonProvider           = "provider_error"
	failReasonStorage            = "storage_error"
)

// Executor выполняет захваченную задачу генерации от начала до терминального
// состояния. Все ошибки выполнения терминальны: ретраев нет, задача переходит
// в error с сообщением, клиент решает сам, ставить ли новую.
type Executor struct {
	repo       repository.JobRepository
	provider   provider.Provider
	store      *storage.FileStore
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewExecutor создает исполнитель задач. apiKey может быть пустым: воркер
// стартует без ключа, но каждая задача завершается ошибкой отсутствия
// учетных данных.
func NewExecutor(repo repository.JobRepository, p provider.Provider, store *storage.FileStore, apiKey string, logger *zap.Logger) *Executor {
	return &Executor{
		repo:     repo,
		provider: p,
		store:    store,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("Executor"),
	}
}

// Execute проводит задачу от processing до done или error.
// Возвращаемая ошибка - только для логирования вызывающим: терминальное
// состояние к этому моменту уже записано (или запись не удалась, и задача
// останется висеть в processing до ручного вмешательства).
func (e *Executor) Execute(ctx context.Context, job *models.Job) error {
	start := time.Now()
	log := e.logger.With(zap.String("jobID", job.ID.String()))
	log.Info("Executing generation job",
		zap.Int("frames", len(job.Frames)),
		zap.Int("variants", job.VariantsRequested))

	// Проверка учетных данных до любых внешних вызовов.
	if e.apiKey == "" {
		log.Error("Provider credentials are not configured, failing job")
		return e.fail(ctx, job, failReasonMissingCredentials, models.ErrMissingCredentials.Error(), start)
	}

	inputs, err := e.normalizeInputs(ctx, job)
	if err != nil {
		log.Error("Failed to normalize job inputs", zap.Error(err))
		return e.fail(ctx, job, failReasonBadInput, err.Error(), start)
	}

	images, err := e.provider.Generate(ctx, job.Prompt, inputs, job.VariantsRequested)
	if err != nil {
		// Частичный результат отбрасывается целиком: задача либо дает все
		// варианты, либо ни одного.
		log.Error("Provider failed to generate images", zap.Error(err))
		return e.fail(ctx, job, failReasonProvider, fmt.Sprintf("%v: %v", models.ErrProviderFailed, err), start)
	}

	resultURLs := make([]string, 0, len(images))
	for i, img := range images {
		url, saveErr := e.store.SaveVariant(job.ID, i, img.Bytes, img.Ext())
		if saveErr != nil {
			log.Error("Failed to save generated variant", zap.Int("variant", i), zap.Error(saveErr))
			return e.fail(ctx, job, failReasonStorage, fmt.Sprintf("failed to save variant %d: %v", i, saveErr), start)
		}
		resultURLs = append(resultURLs, url)
	}

	if err := e.repo.UpdateTerminal(ctx, job.ID, models.JobStatusDone, resultURLs, nil); err != nil {
		log.Error("Failed to mark job as done", zap.Error(err))
		return fmt.Errorf("failed to mark job %s as done: %w", job.ID, err)
	}

	metricsJobSucceeded(time.Since(start), len(images))
	log.Info("Generation job completed",
		zap.Int("images", len(images)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// fail записывает терминальную ошибку задачи.
func (e *Executor) fail(ctx context.Context, job *models.Job, reason, message string, start time.Time) error {
	if err := e.repo.UpdateTerminal(ctx, job.ID, models.JobStatusError, nil, &message); err != nil {
		e.logger.Error("Failed to mark job as failed",
			zap.String("jobID", job.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to mark job %s as failed: %w", job.ID, err)
	}
	metricsJobFailed(reason, time.Since(start))
	return fmt.Errorf("job %s failed: %s", job.ID, message)
}

// normalizeInputs приводит разнородные ссылки на изображения (data URI,
// http(s) URL, сырой base64) к байтам. Кадров уходит не больше
// MaxFramesPerGeneration; layout, если задан, добавляется после кадров
// и в лимит кадров не входит.
func (e *Executor) normalizeInputs(ctx context.Context, job *models.Job) ([]provider.InputImage, error) {
	frames := job.Frames
	if len(frames) > models.MaxFramesPerGeneration {
		e.logger.Debug("Truncating reference frames",
			zap.String("jobID", job.ID.String()),
			zap.Int("received", len(frames)),
			zap.Int("used", models.MaxFramesPerGeneration))
		frames = frames[:models.MaxFramesPerGeneration]
	}

	inputs := make([]provider.InputImage, 0, len(frames)+1)
	for i, ref := range frames {
		img, err := e.resolveImageRef(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		inputs = append(inputs, img)
	}

	if job.LayoutImage != nil && *job.LayoutImage != "" {
		img, err := e.resolveImageRef(ctx, *job.LayoutImage)
		if err != nil {
			return nil, fmt.Errorf("layout image: %w", err)
		}
		inputs = append(inputs, img)
	}

	return inputs, nil
}

// resolveImageRef превращает одну ссылку на изображение в байты.
func (e *Executor) resolveImageRef(ctx context.Context, ref string) (provider.InputImage, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return decodeDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return e.fetchImage(ctx, ref)
	default:
		// Сырой base64 без data URI обертки; если не декодируется,
		// считаем байты уже бинарными.
		if data, err := base64.StdEncoding.DecodeString(ref); err == nil {
			return provider.InputImage{Bytes: data, MIME: sniffMIME(data)}, nil
		}
		return provider.InputImage{Bytes: []byte(ref), MIME: sniffMIME([]byte(ref))}, nil
	}
}

// decodeDataURI разбирает data:image/png;base64,... ссылку.
func decodeDataURI(ref string) (provider.InputImage, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return provider.InputImage{}, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return provider.InputImage{}, fmt.Errorf("malformed data URI: missing payload")
	}

	mime, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return provider.InputImage{}, fmt.Errorf("unsupported data URI encoding %q", encoding)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return provider.InputImage{}, fmt.Errorf("failed to decode data URI payload: %w", err)
	}
	if mime == "" {
		mime = sniffMIME(data)
	}
	return provider.InputImage{Bytes: data, MIME: mime}, nil
}

// fetchImage скачивает изображение по URL и возвращает байты с MIME из ответа.
func (e *Executor) fetchImage(ctx context.Context, imageURL string) (provider.InputImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return provider.InputImage{}, fmt.Errorf("failed to create image fetch request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return provider.InputImage{}, fmt.Errorf("failed to fetch image %s: %w", imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.InputImage{}, fmt.Errorf("failed to fetch image %s: status %d", imageURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.InputImage{}, fmt.Errorf("failed to read image body: %w", err)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = sniffMIME(data)
	}
	return provider.InputImage{Bytes: data, MIME: mime}, nil
}

func sniffMIME(data []byte) string {
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "image/png"
	}
	return mime
}
