package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // Регистрация декодеров для чтения размеров
	_ "image/png"

	"go.uber.org/zap"

	"thumbforge/internal/config"
	"thumbforge/internal/storage"
)

// Имена провайдеров, допустимые в конфигурации.
const (
	NameOpenAI    = "openai"
	NameFluxQueue = "flux-queue"
)

// InputImage - нормализованное входное изображение (кадр или layout).
type InputImage struct {
	Bytes []byte
	MIME  string
}

// GeneratedImage - результат генерации. Ширина/высота заполняются best-effort:
// нулевые значения означают, что размеры определить не удалось.
type GeneratedImage struct {
	Bytes  []byte
	MIME   string
	Width  int
	Height int
}

// Ext возвращает расширение файла по MIME-типу изображения.
func (g GeneratedImage) Ext() string {
	return extForMIME(g.MIME)
}

// Provider - единый контракт над разнородными бэкендами генерации изображений.
// Одна реализация - синхронный multi-call API, другая - внешняя очередь
// submit/poll/fetch; воркеру форма ответа безразлична.
//
// Ошибка любого внутреннего вызова прерывает весь Generate; вызов, вернувший
// ноль изображений, сам по себе ошибкой не является.
type Provider interface {
	Generate(ctx context.Context, prompt string, inputs []InputImage, count int) ([]GeneratedImage, error)
}

// New выбирает реализацию провайдера по конфигурации. Сам адаптер решений
// о провайдере или модели не принимает.
func New(cfg config.ProviderConfig, store *storage.FileStore, logger *zap.Logger) (Provider, error) {
	switch cfg.Name {
	case NameOpenAI:
		return NewOpenAIProvider(cfg, logger), nil
	case NameFluxQueue:
		return NewFluxQueueProvider(cfg, store, logger)
	default:
		return nil, fmt.Errorf("unknown image provider %q", cfg.Name)
	}
}

// probeDimensions пытается определить размеры изображения. Ошибки глотаем:
// метаданные best-effort.
func probeDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
