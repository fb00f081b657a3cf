package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the process-wide configuration for the API server and the
// worker. Values come from the environment (after the .env overlay); an
// optional YAML file loaded with LoadFile wins over both.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Providers  ProvidersConfig  `yaml:"providers"`
	OCR        OCRConfig        `yaml:"ocr"`
	Extraction ExtractionConfig `yaml:"extraction"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"` // gin mode: debug, release, test
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
	File     string `yaml:"file"`
}

type StorageConfig struct {
	// Type selects the blob backend: s3, minio or memory.
	Type string `yaml:"type"`
}

type DatabaseConfig struct {
	// URL is a pgx connection string. Empty selects the in-memory store.
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	Queue       string `yaml:"queue"`
	Concurrency int    `yaml:"concurrency"`
}

type ProvidersConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Ollama OllamaConfig `yaml:"ollama"`
}

type OpenAIConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

type OllamaConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	MaxPoolSize int           `yaml:"max_pool_size"`
	PoolTimeout time.Duration `yaml:"pool_timeout"`
}

type OCRConfig struct {
	// Engine selects the OCR backend: tesseract or textract.
	Engine            string   `yaml:"engine"`
	Languages         []string `yaml:"languages"`
	MinWordConfidence float64  `yaml:"min_word_confidence"`
}

type ExtractionConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	ConfidenceFloor float64       `yaml:"confidence_floor"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MaxFileSize     int64         `yaml:"max_file_size"`
}

// GetAppConfig reads the configuration from the environment.
func GetAppConfig() *AppConfig {
	loadEnv()
	return &AppConfig{
		Server: ServerConfig{
			Addr: envStr("SERVER_ADDR", ":8080"),
			Mode: envStr("GIN_MODE", "release"),
		},
		Log: LogConfig{
			Level:    envStr("LOG_LEVEL", "info"),
			Encoding: envStr("LOG_ENCODING", "json"),
			File:     envStr("LOG_FILE", ""),
		},
		Storage: StorageConfig{
			Type: envStr("STORAGE_TYPE", "minio"),
		},
		Database: DatabaseConfig{
			URL: envStr("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:        envStr("REDIS_ADDR", "localhost:6379"),
			Password:    envStr("REDIS_PASSWORD", ""),
			DB:          envInt("REDIS_DB", 0),
			Queue:       envStr("REDIS_QUEUE", "default"),
			Concurrency: envInt("WORKER_CONCURRENCY", 10),
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				Endpoint: envStr("OPENAI_ENDPOINT", "https://api.openai.com"),
				APIKey:   envStr("OPENAI_API_KEY", ""),
				Model:    envStr("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Ollama: OllamaConfig{
				Endpoint:    envStr("OLLAMA_ENDPOINT", "http://localhost:11434"),
				Model:       envStr("OLLAMA_MODEL", "llama3.2"),
				MaxPoolSize: envInt("OLLAMA_MAX_POOL_SIZE", 4),
				PoolTimeout: envDuration("OLLAMA_POOL_TIMEOUT", 30*time.Second),
			},
		},
		OCR: OCRConfig{
			Engine:            envStr("OCR_ENGINE", "tesseract"),
			Languages:         []string{envStr("OCR_LANGUAGE", "eng")},
			MinWordConfidence: envFloat("OCR_MIN_WORD_CONFIDENCE", 60.0),
		},
		Extraction: ExtractionConfig{
			MaxRetries:      envInt("EXTRACTION_MAX_RETRIES", 3),
			BackoffBase:     envDuration("EXTRACTION_BACKOFF_BASE", 30*time.Second),
			BackoffMax:      envDuration("EXTRACTION_BACKOFF_MAX", 10*time.Minute),
			ConfidenceFloor: envFloat("EXTRACTION_CONFIDENCE_FLOOR", 0.30),
			CallTimeout:     envDuration("EXTRACTION_CALL_TIMEOUT", 30*time.Second),
			StaleAfter:      envDuration("EXTRACTION_STALE_AFTER", 10*time.Minute),
			SweepInterval:   envDuration("EXTRACTION_SWEEP_INTERVAL", time.Minute),
			MaxFileSize:     int64(envInt("EXTRACTION_MAX_FILE_SIZE", 50*1024*1024)),
		},
	}
}

// LoadFile overlays a YAML config file on top of cfg. Unset YAML keys keep
// the values already present.
func LoadFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
