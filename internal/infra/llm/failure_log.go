package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	corellm "github.com/jinford/resume-matcher/internal/core/llm"
)

// Operation はLLM呼び出しの種類
type Operation string

const (
	OperationExtractProfile Operation = "extract_profile"
	OperationParseVacancy   Operation = "parse_vacancy"
	OperationScoreCandidate Operation = "score_candidate"
)

const maxLoggedLength = 5000

// FailureRecord は失敗したLLM呼び出しのログレコード
type FailureRecord struct {
	Timestamp     time.Time    `json:"timestamp"`
	Kind          corellm.Kind `json:"kind"`
	Operation     Operation    `json:"operation"`
	PromptVersion string       `json:"prompt_version"`
	Prompt        string       `json:"prompt"`
	Response      string       `json:"response"`
	ErrorMessage  string       `json:"error_message"`
}

// FailureLog は失敗したLLM呼び出しを JSONL に追記する
// ディレクトリ未指定の場合は slog への警告のみ行う
type FailureLog struct {
	mu      sync.Mutex
	file    *os.File
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewFailureLog は新しい FailureLog を作成する
func NewFailureLog(dir string, logger *slog.Logger) (*FailureLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fl := &FailureLog{logger: logger, nowFunc: time.Now}
	if dir == "" {
		return fl, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// 日付でローテーション
	name := fmt.Sprintf("llm_failures_%s.jsonl", time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	fl.file = file
	return fl, nil
}

// Close はログファイルを閉じる
func (l *FailureLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Record は失敗を記録する
func (l *FailureLog) Record(op Operation, prompt, response string, err error) {
	if l == nil || err == nil {
		return
	}

	rec := FailureRecord{
		Timestamp:     l.nowFunc().UTC(),
		Kind:          corellm.KindOf(err),
		Operation:     op,
		PromptVersion: PromptVersion,
		Prompt:        truncateForLog(prompt),
		Response:      truncateForLog(response),
		ErrorMessage:  err.Error(),
	}

	l.logger.Warn("LLM呼び出しに失敗", "operation", op, "kind", rec.Kind, "error", err)

	if l.file == nil {
		return
	}

	data, mErr := json.Marshal(rec)
	if mErr != nil {
		l.logger.Error("失敗ログのエンコードに失敗", "error", mErr)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, wErr := l.file.Write(append(data, '\n')); wErr != nil {
		l.logger.Error("失敗ログの書き込みに失敗", "error", wErr)
	}
}

func truncateForLog(s string) string {
	runes := []rune(s)
	if len(runes) <= maxLoggedLength {
		return s
	}
	return string(runes[:maxLoggedLength]) + "... (truncated)"
}
