package refinement

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"thumbforge/internal/models"
)

// Операции над историей правок. История - арена итераций, адресуемых по id,
// с одним подвижным указателем "current". Итерации только добавляются;
// откат лишь переставляет указатель, поэтому все ветки остаются достижимыми.

// CreateFromBase строит историю с единственной корневой итерацией.
// У корня нет родителя, нет feedback-промпта и нулевая стоимость.
func CreateFromBase(imageURL, imageData, prompt, templateID string) *models.RefinementHistory {
	now := time.Now().UTC()
	root := &models.RefinementIteration{
		ID:             uuid.NewString(),
		ParentID:       nil,
		OriginalPrompt: prompt,
		FeedbackPrompt: "",
		CombinedPrompt: prompt,
		ImageURL:       imageURL,
		ImageData:      imageData,
		TemplateID:     templateID,
		CreatedAt:      now,
		CreditsUsed:    0,
	}
	return &models.RefinementHistory{
		ID:                 uuid.NewString(),
		TemplateID:         templateID,
		OriginalPrompt:     prompt,
		Iterations:         map[string]*models.RefinementIteration{root.ID: root},
		CurrentIterationID: root.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// AddIteration добавляет итерацию-потомка указанного родителя и переводит
// указатель current на нее. Родитель обязан существовать - это и делает циклы
// непостроимыми. Существующие итерации не мутируются и не удаляются.
func AddIteration(h *models.RefinementHistory, parentID, feedbackPrompt, combinedPrompt, imageURL, imageData string, creditsUsed int) (*models.RefinementIteration, error) {
	if _, ok := h.Iterations[parentID]; !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidParent, parentID)
	}

	now := time.Now().UTC()
	parentRef := parentID
	iteration := &models.RefinementIteration{
		ID:             uuid.NewString(),
		ParentID:       &parentRef,
		OriginalPrompt: h.OriginalPrompt,
		FeedbackPrompt: feedbackPrompt,
		CombinedPrompt: combinedPrompt,
		ImageURL:       imageURL,
		ImageData:      imageData,
		TemplateID:     h.TemplateID,
		CreatedAt:      now,
		CreditsUsed:    creditsUsed,
	}

	h.Iterations[iteration.ID] = iteration
	h.CurrentIterationID = iteration.ID
	h.UpdatedAt = now
	return iteration, nil
}

// Rollback переставляет указатель current на существующую итерацию.
// Недеструктивен: повторная правка из старой точки создает новую ветку,
// брошенная ветка остается в Iterations и достижима по id.
func Rollback(h *models.RefinementHistory, iterationID string) error {
	if _, ok := h.Iterations[iterationID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrInvalidIteration, iterationID)
	}
	h.CurrentIterationID = iterationID
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// GetChain идет по ссылкам parentId от заданной итерации к корню и возвращает
// цепочку в порядке от корня к цели. Цикл в персистированных данных означает
// их повреждение - завершаемся ошибкой, а не зависанием.
func GetChain(h *models.RefinementHistory, iterationID string) ([]*models.RefinementIteration, error) {
	current, ok := h.Iterations[iterationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidIteration, iterationID)
	}

	visited := make(map[string]bool, len(h.Iterations))
	var reversed []*models.RefinementIteration
	for current != nil {
		if visited[current.ID] {
			return nil, fmt.Errorf("refinement history %s is corrupted: cycle at iteration %s", h.ID, current.ID)
		}
		visited[current.ID] = true
		reversed = append(reversed, current)

		if current.ParentID == nil {
			break
		}
		parent, ok := h.Iterations[*current.ParentID]
		if !ok {
			return nil, fmt.Errorf("refinement history %s is corrupted: missing parent %s", h.ID, *current.ParentID)
		}
		current = parent
	}

	chain := make([]*models.RefinementIteration, len(reversed))
	for i, it := range reversed {
		chain[len(reversed)-1-i] = it
	}
	return chain, nil
}
