package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"thumbforge/internal/config"
)

// openAIProvider - синхронный multi-call провайдер поверх OpenAI Images API.
// На каждый запрошенный вариант выполняется независимый request/response вызов;
// все вернувшиеся изображения конкатенируются в общий результат.
type openAIProvider struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var _ Provider = (*openAIProvider)(nil)

// NewOpenAIProvider создает синхронный провайдер. Пустой BaseURL означает
// стандартный эндпоинт API.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *zap.Logger) Provider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &openAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger.Named("OpenAIProvider"),
	}
}

// Generate выполняет count независимых вызовов. Вызов с нулем изображений -
// не ошибка (задача легитимно может получить меньше вариантов, чем просила);
// ошибка любого вызова прерывает весь Generate.
func (p *openAIProvider) Generate(ctx context.Context, prompt string, inputs []InputImage, count int) ([]GeneratedImage, error) {
	log := p.logger.With(zap.String("model", p.model), zap.Int("count", count), zap.Int("inputs", len(inputs)))
	log.Info("Generating images via synchronous provider")

	var results []GeneratedImage
	for call := 0; call < count; call++ {
		images, err := p.generateOne(ctx, prompt, inputs)
		if err != nil {
			log.Error("Synchronous provider call failed", zap.Int("call", call), zap.Error(err))
			return nil, fmt.Errorf("provider call %d failed: %w", call, err)
		}
		if len(images) == 0 {
			log.Warn("Provider call returned no images", zap.Int("call", call))
		}
		results = append(results, images...)
	}

	log.Info("Synchronous generation finished", zap.Int("images", len(results)))
	return results, nil
}

func (p *openAIProvider) generateOne(ctx context.Context, prompt string, inputs []InputImage) ([]GeneratedImage, error) {
	var data []openai.ImageResponseDataInner

	if len(inputs) == 0 {
		resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          p.model,
			N:              1,
			Size:           openai.CreateImageSize1024x1024,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		})
		if err != nil {
			return nil, fmt.Errorf("image generation request failed: %w", err)
		}
		data = resp.Data
	} else {
		// Images API принимает одно базовое изображение на правку; используем
		// первый нормализованный кадр, остальные остаются контекстом промпта.
		baseImage, err := writeTempImage(inputs[0].Bytes)
		if err != nil {
			return nil, err
		}
		defer func() {
			baseImage.Close()
			os.Remove(baseImage.Name())
		}()

		resp, err := p.client.CreateEditImage(ctx, openai.ImageEditRequest{
			Image:          baseImage,
			Prompt:         prompt,
			Model:          p.model,
			N:              1,
			Size:           openai.CreateImageSize1024x1024,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		})
		if err != nil {
			return nil, fmt.Errorf("image edit request failed: %w", err)
		}
		data = resp.Data
	}

	images := make([]GeneratedImage, 0, len(data))
	for _, d := range data {
		if d.B64JSON == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode provider image payload: %w", err)
		}
		w, h := probeDimensions(raw)
		images = append(images, GeneratedImage{Bytes: raw, MIME: "image/png", Width: w, Height: h})
	}
	return images, nil
}

// writeTempImage кладет изображение во временный файл: клиент API принимает
// на вход *os.File.
func writeTempImage(data []byte) (*os.File, error) {
	f, err := os.CreateTemp("", "thumbforge-input-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp image file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write temp image file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to rewind temp image file: %w", err)
	}
	return f, nil
}
