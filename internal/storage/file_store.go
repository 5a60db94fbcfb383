package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thumbforge/internal/config"
)

// FileStore сохраняет изображения на диск и отдает стабильные публичные URL.
// Раздачей файлов занимается внешний веб-сервер поверх SavePath; сервису
// достаточно записать файл и вернуть адрес.
type FileStore struct {
	savePath      string
	publicBaseURL string
	logger        *zap.Logger
}

// NewFileStore создает файловое хранилище изображений.
func NewFileStore(cfg config.StorageConfig, logger *zap.Logger) (*FileStore, error) {
	if cfg.SavePath == "" {
		return nil, fmt.Errorf("image save path (IMAGE_SAVE_PATH) is not configured")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("image public base URL (IMAGE_PUBLIC_BASE_URL) is not configured")
	}
	return &FileStore{
		savePath:      cfg.SavePath,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		logger:        logger.Named("FileStore"),
	}, nil
}

// SaveVariant сохраняет результат генерации под путем {jobID}/{variantIndex}.{ext}
// и возвращает публичный URL. Порядок вызовов задает порядок result_locations.
func (s *FileStore) SaveVariant(jobID uuid.UUID, variantIndex int, data []byte, ext string) (string, error) {
	relPath := filepath.Join(jobID.String(), fmt.Sprintf("%d.%s", variantIndex, normalizeExt(ext)))
	return s.save(relPath, data)
}

// SaveInput сохраняет входное изображение (кадр или layout) во временной зоне
// inputs/, чтобы асинхронный провайдер получил достижимый URL.
func (s *FileStore) SaveInput(data []byte, ext string) (string, error) {
	relPath := filepath.Join("inputs", fmt.Sprintf("%s.%s", uuid.NewString(), normalizeExt(ext)))
	return s.save(relPath, data)
}

func (s *FileStore) save(relPath string, data []byte) (string, error) {
	fullPath := filepath.Join(s.savePath, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		s.logger.Error("Failed to create image directory", zap.String("path", fullPath), zap.Error(err))
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		s.logger.Error("Failed to save image to file", zap.String("path", fullPath), zap.Error(err))
		return "", fmt.Errorf("failed to save image: %w", err)
	}

	url := s.publicBaseURL + "/" + filepath.ToSlash(relPath)
	s.logger.Debug("Image saved", zap.String("path", fullPath), zap.String("url", url), zap.Int("size_bytes", len(data)))
	return url, nil
}

func normalizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		return "png"
	}
	return ext
}
