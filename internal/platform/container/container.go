package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	coreingestion "github.com/jinford/resume-matcher/internal/core/ingestion"
	corellm "github.com/jinford/resume-matcher/internal/core/llm"
	"github.com/jinford/resume-matcher/internal/core/matching"
	"github.com/jinford/resume-matcher/internal/core/profile"
	"github.com/jinford/resume-matcher/internal/infra/filesource"
	"github.com/jinford/resume-matcher/internal/infra/gemini"
	"github.com/jinford/resume-matcher/internal/infra/llm"
	"github.com/jinford/resume-matcher/internal/infra/memory"
	"github.com/jinford/resume-matcher/internal/infra/openai"
	"github.com/jinford/resume-matcher/internal/infra/postgres"
	"github.com/jinford/resume-matcher/internal/infra/textract"
	"github.com/jinford/resume-matcher/internal/platform/config"
	"github.com/jinford/resume-matcher/internal/platform/database"
)

// Embedder は取り込みとマッチングで共有する Embedding 生成器
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ServiceContainer はアプリケーションの依存関係を保持する。
// 外部クライアントとDBプールは1度だけ構築し、Close で解放する。
type ServiceContainer struct {
	ImportPipeline *coreingestion.ImportPipeline
	MatchService   *matching.Service
	ProfileService *profile.Service
	Store          profile.Repository

	// LLMAvailable は LLM クライアントが構成済みかどうか
	LLMAvailable bool

	logger     *slog.Logger
	database   *database.DB
	failureLog *llm.FailureLog
	throttled  *llm.ThrottledClient
}

type containerOptions struct {
	logger    *slog.Logger
	store     profile.Repository
	embedder  Embedder
	llmClient corellm.Client
	progress  coreingestion.ProgressFunc
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerStore はプロフィールストアを差し替える
func WithContainerStore(store profile.Repository) ContainerOption {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える
func WithContainerLLMClient(client corellm.Client) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithContainerImportProgress は取り込みの進捗コールバックを設定する
func WithContainerImportProgress(fn coreingestion.ProgressFunc) ContainerOption {
	return func(opts *containerOptions) {
		opts.progress = fn
	}
}

// NewContainer は設定からコンテナを生成する。
// STORE_BACKEND=postgres の場合は接続後にスキーマを適用する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := applyOptions(opts)
	if options.store != nil || cfg.Store.Backend == config.StoreBackendMemory {
		return NewContainerWithDB(ctx, cfg, nil, opts...)
	}

	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマ適用に失敗しました: %w", err)
	}

	c, err := NewContainerWithDB(ctx, cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// OpenDatabase は設定から接続プールを作成する。
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}
	return db, nil
}

// NewContainerWithDB は既存の DB を受け取りコンテナを生成する。
// db が nil の場合はオプションのストアかインメモリストアを使う。
func NewContainerWithDB(ctx context.Context, cfg *config.Config, db *database.DB, opts ...ContainerOption) (*ServiceContainer, error) {
	options := applyOptions(opts)
	logger := options.logger

	// Store
	store := options.store
	if store == nil {
		var err error
		store, err = newStore(cfg, db)
		if err != nil {
			return nil, err
		}
	}

	// Embedder (OpenAI)
	embedder := options.embedder
	if embedder == nil {
		embedder = openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			openai.WithEmbeddingBaseURL(cfg.OpenAI.BaseURL),
		)
	}

	// LLMClient (OpenAI / Gemini)
	llmAvailable := true
	baseClient := options.llmClient
	if baseClient == nil {
		client, err := newLLMClient(ctx, cfg)
		if err != nil {
			logger.Warn("LLMクライアントを構成できません。プロフィール抽出とリランクは無効です", "provider", cfg.LLM.Provider, "error", err)
			client = unavailableClient{cause: err}
			llmAvailable = false
		}
		baseClient = client
	}
	throttled := llm.NewThrottledClient(
		baseClient,
		llm.NewRateLimiter(cfg.LLM.RequestsPerMinute, cfg.Match.RerankConcurrency),
	)

	// TokenCounter (取得できない場合は推定値で代用する)
	tokenCounter, err := llm.NewTokenCounter()
	if err != nil {
		logger.Warn("TokenCounter 初期化に失敗。推定値を使用します", "error", err)
		tokenCounter = nil
	}

	failureLog, err := llm.NewFailureLog(cfg.LLM.ErrorLogDir, logger)
	if err != nil {
		return nil, fmt.Errorf("LLM失敗ログの初期化に失敗しました: %w", err)
	}

	analyzer := llm.NewAnalyzer(
		throttled,
		llm.WithTokenCounter(tokenCounter),
		llm.WithFailureLog(failureLog),
		llm.WithMaxInputTokens(cfg.LLM.MaxInputTokens),
		llm.WithAnalyzerLogger(logger),
	)

	normalizer := textract.NewNormalizer()

	// ImportPipeline
	pipelineOpts := []coreingestion.PipelineOption{
		coreingestion.WithPipelineConfig(coreingestion.PipelineConfig{
			Workers:        cfg.Import.Workers,
			EmbedTimeout:   cfg.OpenAI.EmbedTimeout,
			ExtractTimeout: cfg.LLM.ExtractTimeout,
			MaxFileSize:    cfg.Import.MaxFileSize,
		}),
		coreingestion.WithImportLogger(logger),
	}
	if options.progress != nil {
		pipelineOpts = append(pipelineOpts, coreingestion.WithProgress(options.progress))
	}
	pipeline := coreingestion.NewImportPipeline(
		store,
		normalizer,
		embedder,
		analyzer,
		filesource.New(textract.SupportedExtensions()),
		pipelineOpts...,
	)

	// MatchService
	engine := matching.NewMatchEngine(
		store,
		embedder,
		matching.WithVacancyCleaner(normalizer),
		matching.WithEngineEmbedTimeout(cfg.OpenAI.EmbedTimeout),
		matching.WithEngineLogger(logger),
	)
	matchOpts := []matching.ServiceOption{
		matching.WithStatsReader(store),
		matching.WithMatchLogger(logger),
	}
	if llmAvailable {
		reranker := matching.NewReranker(
			analyzer,
			analyzer,
			matching.WithScoringPolicy(cfg.Scoring),
			matching.WithRerankerConfig(matching.RerankerConfig{
				Concurrency:  cfg.Match.RerankConcurrency,
				ScoreTimeout: cfg.LLM.ScoreTimeout,
				ParseTimeout: cfg.LLM.ScoreTimeout,
				MaxRetries:   cfg.LLM.MaxRetries,
			}),
			matching.WithRerankLogger(logger),
		)
		matchOpts = append(matchOpts, matching.WithReranker(reranker))
	}

	return &ServiceContainer{
		ImportPipeline: pipeline,
		MatchService:   matching.NewService(engine, matchOpts...),
		ProfileService: profile.NewService(store, profile.WithServiceLogger(logger)),
		Store:          store,
		LLMAvailable:   llmAvailable,
		logger:         logger,
		database:       db,
		failureLog:     failureLog,
		throttled:      throttled,
	}, nil
}

func applyOptions(opts []ContainerOption) containerOptions {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	return options
}

func newStore(cfg *config.Config, db *database.DB) (profile.Repository, error) {
	if cfg.Store.Backend == config.StoreBackendMemory || db == nil {
		return memory.NewProfileStore(), nil
	}

	mode, err := postgres.ParseSearchMode(cfg.Store.SearchMode)
	if err != nil {
		return nil, fmt.Errorf("検索方式の設定が不正です: %w", err)
	}
	return postgres.NewProfileRepository(
		db,
		postgres.WithSearchMode(mode),
		postgres.WithOverfetch(cfg.Store.Overfetch),
	), nil
}

func newLLMClient(ctx context.Context, cfg *config.Config) (corellm.Client, error) {
	switch cfg.LLM.Provider {
	case config.LLMProviderGemini:
		return gemini.NewClient(
			ctx,
			cfg.LLM.GeminiAPIKey,
			gemini.WithModel(cfg.LLM.Model),
			gemini.WithMaxRetries(cfg.LLM.MaxRetries),
		)
	default:
		return openai.NewClient(
			cfg.OpenAI.APIKey,
			openai.WithModel(cfg.LLM.Model),
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithMaxRetries(cfg.LLM.MaxRetries),
		)
	}
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if err := c.failureLog.Close(); err != nil {
		c.Logger().Warn("LLM失敗ログのクローズに失敗", "error", err)
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す。インメモリ構成では nil。
func (c *ServiceContainer) Database() *database.DB {
	if c == nil {
		return nil
	}
	return c.database
}

// RateLimiterStatus は LLM レート制限の現在の状態を返す。
func (c *ServiceContainer) RateLimiterStatus() llm.RateLimiterStatus {
	return c.throttled.Status()
}

// errLLMNotConfigured は LLM クライアントが構成されていない場合の原因
var errLLMNotConfigured = errors.New("llm client is not configured")

// unavailableClient は LLM が構成されていない場合に常に unavailable を返す。
type unavailableClient struct {
	cause error
}

func (c unavailableClient) GenerateCompletion(context.Context, corellm.CompletionRequest) (corellm.CompletionResponse, error) {
	return corellm.CompletionResponse{}, corellm.NewError(corellm.KindUnavailable, "generate", fmt.Errorf("%w: %v", errLLMNotConfigured, c.cause))
}
