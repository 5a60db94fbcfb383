package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// APIConfig содержит конфигурацию публичного API (шлюз постановки задач,
// отчеты о статусе, история правок).
type APIConfig struct {
	Port     string `envconfig:"API_SERVER_PORT" default:"8080"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Адрес внутреннего API хранилища задач (процесс воркера).
	JobStoreURL string `envconfig:"JOB_STORE_URL" required:"true"`

	// Бюджеты на сетевые вызовы к хранилищу. Оба должны быть короче таймаута
	// клиента, чтобы клиент получил осмысленный 504, а не обрыв соединения.
	EnqueueBudget time.Duration `envconfig:"ENQUEUE_BUDGET" default:"25s"`
	StatusBudget  time.Duration `envconfig:"STATUS_BUDGET" default:"10s"`

	// RabbitMQ для fire-and-forget wake-сигнала воркеру.
	RabbitMQURL string `envconfig:"RABBITMQ_URL" required:"true"`
	WakeQueue   string `envconfig:"GENERATION_WAKE_QUEUE" default:"generation_wake"`

	// Redis для историй правок.
	RedisAddr     string `envconfig:"REDIS_ADDR" required:"true"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPassword string

	// Сколько историй правок храним на сессию; старейшие вытесняются.
	RefinementMaxHistories int `envconfig:"REFINEMENT_MAX_HISTORIES" default:"20"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

// GetAllowedOrigins разбирает список разрешенных origins из конфигурации.
func (c *APIConfig) GetAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadAPI загружает конфигурацию API сервиса из переменных окружения и секретов.
func LoadAPI() (*APIConfig, error) {
	_ = godotenv.Load()

	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error loading api configuration: %w", err)
	}

	// Пароль Redis опционален (локальная разработка без пароля).
	if secret, err := ReadSecret("redis_password"); err == nil {
		cfg.RedisPassword = secret
	}

	return &cfg, nil
}
