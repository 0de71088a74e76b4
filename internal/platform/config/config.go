package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jinford/resume-matcher/internal/core/matching"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ストアのバックエンド
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// LLMプロバイダ
const (
	LLMProviderOpenAI = "openai"
	LLMProviderGemini = "gemini"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	Database DatabaseConfig
	Store    StoreConfig
	OpenAI   OpenAIConfig
	LLM      LLMConfig
	Import   ImportConfig
	Match    MatchConfig
	Scoring  matching.ScoringPolicy
	Log      LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// StoreConfig はプロフィールストアの設定
type StoreConfig struct {
	Backend string // "postgres" or "memory"
	// SearchMode は "exact" または "approximate"
	SearchMode string
	Overfetch  int
}

// OpenAIConfig はOpenAI API設定（Embeddings + LLM）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbedTimeout       time.Duration
}

// LLMConfig はプロフィール抽出とリランク用のLLM設定
type LLMConfig struct {
	Provider          string // "openai" or "gemini"
	Model             string
	GeminiAPIKey      string
	MaxRetries        int
	RequestsPerMinute int
	ErrorLogDir       string
	MaxInputTokens    int
	ExtractTimeout    time.Duration
	ScoreTimeout      time.Duration
}

// ImportConfig は取り込み設定
type ImportConfig struct {
	Workers     int
	MaxFileSize int64
}

// MatchConfig はマッチング設定
type MatchConfig struct {
	RerankConcurrency int
	TopN              int
	Candidates        int
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "matcher"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "resume_matcher"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
			SearchMode: strings.ToLower(getEnv("SEARCH_MODE", "exact")),
			Overfetch:  getEnvAsInt("SEARCH_OVERFETCH", 4),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 1024),
			EmbedTimeout:       getEnvAsDuration("EMBED_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			Provider:          strings.ToLower(getEnv("LLM_PROVIDER", LLMProviderOpenAI)),
			Model:             getEnv("LLM_MODEL", ""),
			GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
			MaxRetries:        getEnvAsInt("LLM_MAX_RETRIES", 2),
			RequestsPerMinute: getEnvAsInt("LLM_REQUESTS_PER_MINUTE", 60),
			ErrorLogDir:       getEnv("LLM_ERROR_LOG_DIR", ""),
			MaxInputTokens:    getEnvAsInt("LLM_MAX_INPUT_TOKENS", 6000),
			ExtractTimeout:    getEnvAsDuration("EXTRACT_TIMEOUT", 90*time.Second),
			ScoreTimeout:      getEnvAsDuration("SCORE_TIMEOUT", 60*time.Second),
		},
		Import: ImportConfig{
			Workers:     getEnvAsInt("IMPORT_WORKERS", 4),
			MaxFileSize: int64(getEnvAsInt("IMPORT_MAX_FILE_SIZE", 20<<20)),
		},
		Match: MatchConfig{
			RerankConcurrency: getEnvAsInt("RERANK_CONCURRENCY", 4),
			TopN:              getEnvAsInt("MATCH_TOP_N", 10),
			Candidates:        getEnvAsInt("MATCH_CANDIDATES", 30),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	policy, err := loadScoringPolicy(getEnv("SCORING_POLICY_FILE", ""))
	if err != nil {
		return nil, err
	}
	policy.LLMWeight = getEnvAsFloat("SCORING_LLM_WEIGHT", policy.LLMWeight)
	policy.EmbeddingWeight = getEnvAsFloat("SCORING_EMBEDDING_WEIGHT", policy.EmbeddingWeight)
	cfg.Scoring = policy

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadScoringPolicy はYAMLのスコアリング方針を読み込む
// ファイルにないキーはデフォルト値のまま
func loadScoringPolicy(path string) (matching.ScoringPolicy, error) {
	policy := matching.DefaultScoringPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read scoring policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("failed to parse scoring policy: %w", err)
	}
	return policy, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND: %s", c.Store.Backend))
	}
	switch c.LLM.Provider {
	case LLMProviderOpenAI, LLMProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER: %s", c.LLM.Provider))
	}
	if c.OpenAI.EmbeddingDimension <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be positive: %d", c.OpenAI.EmbeddingDimension))
	}
	if c.Import.Workers <= 0 {
		errs = append(errs, fmt.Errorf("IMPORT_WORKERS must be positive: %d", c.Import.Workers))
	}
	if c.Match.RerankConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("RERANK_CONCURRENCY must be positive: %d", c.Match.RerankConcurrency))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("LLM_MAX_RETRIES must not be negative: %d", c.LLM.MaxRetries))
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid scoring policy: %w", err))
	}

	return errors.Join(errs...)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "30s" 形式または秒数として取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
