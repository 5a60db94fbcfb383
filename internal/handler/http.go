package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"thumbforge/internal/clients"
	"thumbforge/internal/messaging"
	"thumbforge/internal/models"
)

// JobsHandler - публичные эндпоинты постановки задач генерации и опроса статуса.
// Хранилище задач живет в другом сервисе, поэтому каждый вызов идет по сети
// под своим бюджетом времени.
type JobsHandler struct {
	store         clients.JobStoreClient
	wakePublisher messaging.Publisher
	enqueueBudget time.Duration
	statusBudget  time.Duration
	logger        *zap.Logger
}

// NewJobsHandler создает обработчик задач генерации.
// wakePublisher может быть nil - тогда воркеры просыпаются только по таймеру.
func NewJobsHandler(store clients.JobStoreClient, wakePublisher messaging.Publisher, enqueueBudget, statusBudget time.Duration, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{
		store:         store,
		wakePublisher: wakePublisher,
		enqueueBudget: enqueueBudget,
		statusBudget:  statusBudget,
		logger:        logger.Named("JobsHandler"),
	}
}

// RegisterRoutes регистрирует маршруты задач.
func (h *JobsHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api")
	{
		api.POST("/jobs", h.enqueueJob)
		api.GET("/jobs/status", h.getJobStatus)
	}
}

// enqueueJob принимает задачу генерации и ставит ее в очередь.
// Ответ 202: задача принята, результат забирается опросом статуса.
func (h *JobsHandler) enqueueJob(c *gin.Context) {
	var spec models.JobSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		h.logger.Warn("Failed to bind enqueue request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	// Валидация до похода в хранилище: невалидный запрос не тратит бюджет.
	if err := spec.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec.Normalize()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.enqueueBudget)
	defer cancel()

	jobID, err := h.store.InsertJob(ctx, spec)
	if err != nil {
		h.respondStoreError(c, err, "enqueue")
		return
	}

	// Wake-сигнал best-effort: его потеря лишь задерживает обработку
	// до следующего тика воркера, на ответ клиенту не влияет.
	if h.wakePublisher != nil {
		payload := messaging.JobQueuedPayload{JobID: jobID.String()}
		if pubErr := h.wakePublisher.Publish(c.Request.Context(), payload, jobID.String()); pubErr != nil {
			h.logger.Warn("Failed to publish wake signal",
				zap.String("jobID", jobID.String()), zap.Error(pubErr))
		}
	}

	h.logger.Info("Job enqueued", zap.String("jobID", jobID.String()),
		zap.Int("variants", spec.Variants))
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID.String()})
}

// getJobStatus возвращает текущее состояние задачи по id.
func (h *JobsHandler) getJobStatus(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id query parameter is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.statusBudget)
	defer cancel()

	job, err := h.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.respondStoreError(c, err, "status")
		return
	}

	resp := gin.H{"status": job.Status}
	if len(job.ResultURLs) > 0 {
		resp["resultUrls"] = job.ResultURLs
	}
	if job.ErrorMessage != nil {
		resp["error"] = *job.ErrorMessage
	}
	c.JSON(http.StatusOK, resp)
}

// respondStoreError переводит ошибки хранилища в HTTP статусы:
// превышение бюджета - 504 (исход неизвестен), ошибка хранилища - 502
// с его статусом и телом, прочее - 500.
func (h *JobsHandler) respondStoreError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, models.ErrTimeout):
		h.logger.Warn("Job store call exceeded budget", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "job store did not respond in time"})
	default:
		if upstream, ok := models.IsUpstreamError(err); ok {
			h.logger.Error("Job store returned error",
				zap.String("op", op),
				zap.Int("upstream_status", upstream.StatusCode),
				zap.String("upstream_body", upstream.Body))
			c.JSON(http.StatusBadGateway, gin.H{
				"error":          "job store error",
				"upstreamStatus": upstream.StatusCode,
				"upstreamBody":   upstream.Body,
			})
			return
		}
		h.logger.Error("Unexpected job store failure", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
