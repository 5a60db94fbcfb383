package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"thumbforge/internal/models"
	"thumbforge/internal/repository"
)

// StoreHandler - внутреннее API хранилища задач, которое воркер отдает
// шлюзу. Наружу эти эндпоинты не публикуются.
type StoreHandler struct {
	repo   repository.JobRepository
	logger *zap.Logger
}

// NewStoreHandler создает обработчик внутреннего API хранилища.
func NewStoreHandler(repo repository.JobRepository, logger *zap.Logger) *StoreHandler {
	return &StoreHandler{
		repo:   repo,
		logger: logger.Named("StoreHandler"),
	}
}

// RegisterRoutes регистрирует внутренние маршруты хранилища.
func (h *StoreHandler) RegisterRoutes(router gin.IRouter) {
	internal := router.Group("/internal")
	{
		internal.POST("/jobs", h.insertJob)
		internal.GET("/jobs/:id", h.getJob)
	}
}

func (h *StoreHandler) insertJob(c *gin.Context) {
	var spec models.JobSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	jobID, err := h.repo.Insert(c.Request.Context(), spec)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to insert job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to insert job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"jobId": jobID.String()})
}

func (h *StoreHandler) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("Failed to get job", zap.String("jobID", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, job)
}
