package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Access   AccessConfig   `mapstructure:"access"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Export   ExportConfig   `mapstructure:"export"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигналы).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// AccessConfig — параметры контура допусков.
type AccessConfig struct {
	// ClearanceCacheTTL — окно bounded staleness для отзыва допуска.
	ClearanceCacheTTL time.Duration `mapstructure:"clearance_cache_ttl"`
}

// SyncConfig — параметры движка синхронизации подписок.
// Ничего из этого не захардкожено в логике.
type SyncConfig struct {
	MaxWorkers      int           `mapstructure:"max_workers"`
	BatchSize       int           `mapstructure:"batch_size"`
	MinPollInterval time.Duration `mapstructure:"min_poll_interval"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	SchedulerTick   time.Duration `mapstructure:"scheduler_tick"`

	// Remotes: source_notebook_id -> удаленный деплой, отдающий этот ноутбук.
	// Источники без записи здесь считаются локальными (тот же Postgres).
	Remotes map[string]RemoteSourceConfig `mapstructure:"remotes"`
}

// RemoteSourceConfig — адрес и сервисный токен чужого деплоя.
type RemoteSourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// AuditConfig — параметры очереди аудита.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// OverflowPath — локальный журнал, куда сбрасываются батчи при недоступности БД.
	OverflowPath string `mapstructure:"overflow_path"`
}

// ExportConfig — ключи для air-gapped обмена.
type ExportConfig struct {
	SigningKeyPath string `mapstructure:"signing_key_path"` // ed25519 private (PEM/hex)
	SigningKey     []byte
	// PeerKeys: source_org_id -> hex(ed25519 public). Чужие бандлы проверяем
	// строго по зарегистрированному ключу их организации.
	PeerKeys map[string]string `mapstructure:"peer_keys"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	// Сначала проверяем, не лежит ли сам ключ в ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")
	cfg.Export.SigningKey = loadKeyResource(cfg.Export.SigningKeyPath, "EXPORT_SIGNING_KEY_DATA")

	if err := cfg.Sync.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("access.clearance_cache_ttl", 30*time.Second)
	v.SetDefault("sync.max_workers", 4)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.min_poll_interval", 30*time.Second)
	v.SetDefault("sync.max_poll_interval", 24*time.Hour)
	v.SetDefault("sync.backoff_cap", time.Hour)
	v.SetDefault("sync.fetch_timeout", 30*time.Second)
	v.SetDefault("sync.scheduler_tick", 5*time.Second)
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)
	v.SetDefault("audit.overflow_path", "./audit-overflow.jsonl")
}

func (s SyncConfig) validate() error {
	if s.MaxWorkers < 1 {
		return fmt.Errorf("sync.max_workers must be >= 1, got %d", s.MaxWorkers)
	}
	if s.MinPollInterval <= 0 || s.MaxPollInterval < s.MinPollInterval {
		return fmt.Errorf("sync poll interval bounds are invalid: [%v, %v]", s.MinPollInterval, s.MaxPollInterval)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be >= 1, got %d", s.BatchSize)
	}
	return nil
}

// loadKeyResource — универсальный хелпер: ключ либо напрямую в ENV, либо файлом.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
