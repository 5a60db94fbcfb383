package models

import "time"

// RefinementIteration - одна итерация правок поверх сгенерированного изображения.
// Итерации неизменяемы после создания; цепочка parentId всегда заканчивается
// в корневой итерации (циклы невозможны по построению: родитель обязан
// существовать на момент создания потомка).
type RefinementIteration struct {
	ID             string    `json:"id"`
	ParentID       *string   `json:"parentId,omitempty"` // nil только у корня
	OriginalPrompt string    `json:"originalPrompt"`
	FeedbackPrompt string    `json:"feedbackPrompt"`
	CombinedPrompt string    `json:"combinedPrompt"`
	ImageURL       string    `json:"imageUrl"`
	ImageData      string    `json:"imageData,omitempty"` // inline payload, может быть сброшен при персистенции
	TemplateID     string    `json:"templateId"`
	CreatedAt      time.Time `json:"createdAt"`
	CreditsUsed    int       `json:"creditsUsed"`
}

// RefinementHistory - дерево итераций с одним указателем "current".
// Iterations append-only; Rollback лишь переставляет CurrentIterationID,
// никогда не удаляя итерации (полная история undo сохраняется).
type RefinementHistory struct {
	ID                 string                          `json:"id"`
	TemplateID         string                          `json:"templateId"`
	OriginalPrompt     string                          `json:"originalPrompt"`
	Iterations         map[string]*RefinementIteration `json:"iterations"`
	CurrentIterationID string                          `json:"currentIterationId"`
	CreatedAt          time.Time                       `json:"createdAt"`
	UpdatedAt          time.Time                       `json:"updatedAt"`
}
