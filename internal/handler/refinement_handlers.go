package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"thumbforge/internal/models"
	"thumbforge/internal/refinement"
)

const sessionHeader = "X-Session-ID"

// RefinementHandler - эндпоинты историй итеративных правок изображений.
// Истории приватны для сессии: принадлежность определяется заголовком
// X-Session-ID, чужая история неотличима от несуществующей.
type RefinementHandler struct {
	store  *refinement.HistoryStore
	logger *zap.Logger
}

// NewRefinementHandler создает обработчик историй правок.
func NewRefinementHandler(store *refinement.HistoryStore, logger *zap.Logger) *RefinementHandler {
	return &RefinementHandler{
		store:  store,
		logger: logger.Named("RefinementHandler"),
	}
}

// RegisterRoutes регистрирует маршруты историй правок.
func (h *RefinementHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/refinements")
	{
		api.POST("", h.createHistory)
		api.GET("", h.listHistories)
		api.GET("/:id", h.getHistory)
		api.POST("/:id/iterations", h.addIteration)
		api.POST("/:id/rollback", h.rollback)
		api.GET("/:id/chain", h.getChain)
	}
}

type createHistoryRequest struct {
	ImageURL   string `json:"imageUrl" binding:"required"`
	ImageData  string `json:"imageData"`
	Prompt     string `json:"prompt" binding:"required"`
	TemplateID string `json:"templateId"`
}

type addIterationRequest struct {
	ParentID       string `json:"parentId"`
	FeedbackPrompt string `json:"feedbackPrompt" binding:"required"`
	CombinedPrompt string `json:"combinedPrompt" binding:"required"`
	ImageURL       string `json:"imageUrl" binding:"required"`
	ImageData      string `json:"imageData"`
	CreditsUsed    int    `json:"creditsUsed"`
}

type rollbackRequest struct {
	IterationID string `json:"iterationId" binding:"required"`
}

// sessionID извлекает идентификатор сессии; без него запрос отклоняется.
func (h *RefinementHandler) sessionID(c *gin.Context) (string, bool) {
	sessionID := c.GetHeader(sessionHeader)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": sessionHeader + " header is required"})
		return "", false
	}
	return sessionID, true
}

// createHistory заводит историю правок от базового изображения.
func (h *RefinementHandler) createHistory(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req createHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	history := refinement.CreateFromBase(req.ImageURL, req.ImageData, req.Prompt, req.TemplateID)
	if err := h.store.Save(c.Request.Context(), sessionID, history); err != nil {
		h.logger.Error("Failed to save new refinement history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save refinement history"})
		return
	}

	h.logger.Info("Refinement history created",
		zap.String("historyID", history.ID), zap.String("sessionID", sessionID))
	c.JSON(http.StatusCreated, history)
}

// listHistories возвращает id историй сессии от новых к старым.
func (h *RefinementHandler) listHistories(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	ids, err := h.store.ListIDs(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to list refinement histories", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list refinement histories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"historyIds": ids})
}

// getHistory возвращает историю целиком.
func (h *RefinementHandler) getHistory(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	history, err := h.loadHistory(c, sessionID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, history)
}

// addIteration добавляет правку к истории. Родитель по умолчанию - текущая
// итерация; явный parentId позволяет ветвиться из любой точки истории.
func (h *RefinementHandler) addIteration(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req addIterationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	history, err := h.loadHistory(c, sessionID)
	if err != nil {
		return
	}

	parentID := req.ParentID
	if parentID == "" {
		parentID = history.CurrentIterationID
	}

	iteration, err := refinement.AddIteration(history, parentID, req.FeedbackPrompt, req.CombinedPrompt, req.ImageURL, req.ImageData, req.CreditsUsed)
	if err != nil {
		if errors.Is(err, models.ErrInvalidParent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to add refinement iteration", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add iteration"})
		return
	}

	if err := h.store.Save(c.Request.Context(), sessionID, history); err != nil {
		h.logger.Error("Failed to save refinement history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save refinement history"})
		return
	}

	c.JSON(http.StatusOK, iteration)
}

// rollback переводит указатель текущей итерации на более раннюю.
// Недеструктивен: откаченные итерации остаются доступны.
func (h *RefinementHandler) rollback(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	history, err := h.loadHistory(c, sessionID)
	if err != nil {
		return
	}

	if err := refinement.Rollback(history, req.IterationID); err != nil {
		if errors.Is(err, models.ErrInvalidIteration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to rollback refinement history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rollback"})
		return
	}

	if err := h.store.Save(c.Request.Context(), sessionID, history); err != nil {
		h.logger.Error("Failed to save refinement history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save refinement history"})
		return
	}

	c.JSON(http.StatusOK, history)
}

// getChain возвращает цепочку правок от корня до указанной итерации
// (по умолчанию - до текущей).
func (h *RefinementHandler) getChain(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	history, err := h.loadHistory(c, sessionID)
	if err != nil {
		return
	}

	iterationID := c.Query("iterationId")
	if iterationID == "" {
		iterationID = history.CurrentIterationID
	}

	chain, err := refinement.GetChain(history, iterationID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidIteration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to build refinement chain",
			zap.String("historyID", history.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build chain"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chain": chain})
}

// loadHistory загружает историю сессии; при ошибке ответ уже записан.
func (h *RefinementHandler) loadHistory(c *gin.Context, sessionID string) (*models.RefinementHistory, error) {
	history, err := h.store.Get(c.Request.Context(), sessionID, c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "refinement history not found"})
			return nil, err
		}
		h.logger.Error("Failed to load refinement history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load refinement history"})
		return nil, err
	}
	return history, nil
}
