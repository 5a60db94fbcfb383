package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus - статус задачи генерации.
// Переходы монотонны, за одним исключением: queued -> processing обратим только
// проигрышем compare-and-swap (см. JobRepository.CompareAndSetStatus).
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

const (
	// MaxFramesPerGeneration - сколько референсных кадров реально уходит провайдеру,
	// сколько бы их ни прислал клиент.
	MaxFramesPerGeneration = 3

	// DefaultVariants / MaxVariants - границы для variants_requested.
	DefaultVariants = 4
	MinVariants     = 1
	MaxVariants     = 8
)

// JobSpec - входные данные на создание задачи генерации.
type JobSpec struct {
	Prompt      string   `json:"prompt"`
	Frames      []string `json:"frames"`
	Variants    int      `json:"variants,omitempty"`
	LayoutImage *string  `json:"layoutImage,omitempty"`
}

// Validate проверяет обязательные поля. Ошибки валидации никогда не ретраятся
// и возвращаются вызывающему как есть.
func (s *JobSpec) Validate() error {
	if strings.TrimSpace(s.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrValidation)
	}
	if len(s.Frames) == 0 {
		return fmt.Errorf("%w: at least one reference frame is required", ErrValidation)
	}
	return nil
}

// Normalize приводит количество вариантов к допустимому диапазону [1,8],
// по умолчанию 4.
func (s *JobSpec) Normalize() {
	if s.Variants == 0 {
		s.Variants = DefaultVariants
	}
	if s.Variants < MinVariants {
		s.Variants = MinVariants
	}
	if s.Variants > MaxVariants {
		s.Variants = MaxVariants
	}
}

// Job - запись задачи генерации. Единственный источник правды о состоянии задачи.
// После выигранного claim запись мутирует только воркер-победитель.
type Job struct {
	ID                uuid.UUID `json:"id" db:"id"`
	Prompt            string    `json:"prompt" db:"prompt"`
	Frames            []string  `json:"frames" db:"frames"`
	LayoutImage       *string   `json:"layoutImage,omitempty" db:"layout_image"`
	VariantsRequested int       `json:"variantsRequested" db:"variants_requested"`
	Status            JobStatus `json:"status" db:"status"`
	ResultURLs        []string  `json:"resultUrls,omitempty" db:"result_urls"`
	ErrorMessage      *string   `json:"error,omitempty" db:"error_message"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// IsTerminal сообщает, достигла ли задача терминального состояния.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusError
}
