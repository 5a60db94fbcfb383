package config

import (
	"fmt"
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"thumbforge/internal/logger"
)

// WorkerConfig - конфигурация процесса воркера (claim-and-execute + внутренний
// API хранилища задач).
type WorkerConfig struct {
	AppEnv string `env:"APP_ENV" env-default:"development"`
	Logger logger.Config

	// Внутренний HTTP API (insert/get задач), который вызывает публичный шлюз.
	InternalPort string `env:"WORKER_INTERNAL_PORT" env-default:"8091"`

	DB             PostgresConfig
	RabbitMQ       RabbitMQConfig
	Provider       ProviderConfig
	Storage        StorageConfig
	MigrationsPath string `env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Интервал фонового опроса очереди. Wake-сигнал из RabbitMQ будит воркер
	// раньше, тикер - страховка на случай потерянного сигнала.
	ClaimInterval time.Duration `env:"CLAIM_INTERVAL" env-default:"15s"`

	PushGatewayURL string `env:"PUSHGATEWAY_URL" env-default:""`
}

// PostgresConfig - настройки подключения к PostgreSQL.
type PostgresConfig struct {
	Host     string `env:"DB_HOST" env-required:"true"`
	Port     string `env:"DB_PORT" env-default:"5432"`
	User     string `env:"DB_USER" env-required:"true"`
	Name     string `env:"DB_NAME" env-required:"true"`
	SSLMode  string `env:"DB_SSL_MODE" env-default:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNECTIONS" env-default:"10"`
	// Секретное поле БЕЗ env тега
	Password string
}

// DSN возвращает строку подключения для PostgreSQL.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RabbitMQConfig - подключение к RabbitMQ и очередь wake-сигналов.
type RabbitMQConfig struct {
	URL          string `env:"RABBITMQ_URL" env-required:"true"`
	WakeQueue    string `env:"GENERATION_WAKE_QUEUE" env-default:"generation_wake"`
	ConsumerName string `env:"RABBITMQ_CONSUMER_NAME" env-default:"thumbforge_worker"`
}

// ProviderConfig - выбор и параметры провайдера генерации изображений.
// Какой провайдер и какая модель используются - решение конфигурации,
// не адаптера.
type ProviderConfig struct {
	Name  string `env:"IMAGE_PROVIDER" env-default:"openai"` // openai | flux-queue
	Model string `env:"IMAGE_PROVIDER_MODEL" env-default:"dall-e-2"`

	// BaseURL обязателен для flux-queue; для openai пустое значение означает
	// стандартный эндпоинт API.
	BaseURL string `env:"IMAGE_PROVIDER_BASE_URL" env-default:""`

	// Параметры цикла submit/poll/fetch асинхронного провайдера. Ограничиваем
	// именно число попыток, а не только длительность, чтобы ограничить
	// худший случай по стоимости.
	PollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" env-default:"2s"`
	PollMaxAttempts int           `env:"QUEUE_POLL_MAX_ATTEMPTS" env-default:"60"`

	RequestTimeout time.Duration `env:"PROVIDER_REQUEST_TIMEOUT" env-default:"120s"`

	// Секретное поле БЕЗ env тега
	APIKey string
}

// StorageConfig - локальное файловое хранилище результатов с публичным base URL.
type StorageConfig struct {
	SavePath      string `env:"IMAGE_SAVE_PATH" env-required:"true"`
	PublicBaseURL string `env:"IMAGE_PUBLIC_BASE_URL" env-required:"true"`
}

// LoadWorker загружает конфигурацию воркера из переменных окружения и секретов.
func LoadWorker() (*WorkerConfig, error) {
	// Загружаем .env файл (игнорируем ошибку, если файла нет)
	_ = godotenv.Load()

	var cfg WorkerConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("error loading worker configuration: %w", err)
	}

	var loadErr error
	cfg.DB.Password, loadErr = ReadSecret("db_password")
	if loadErr != nil {
		return nil, loadErr
	}

	// Ключ провайдера намеренно не обязателен: его отсутствие - терминальная
	// ошибка задачи, а не процесса.
	cfg.Provider.APIKey = ReadSecretOrEnv("image_provider_api_key", "IMAGE_PROVIDER_API_KEY")
	if cfg.Provider.APIKey == "" {
		log.Printf("[Config] WARNING: provider API key is not configured, claimed jobs will fail terminally")
	}

	return &cfg, nil
}
