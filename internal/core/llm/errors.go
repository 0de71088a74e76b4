package llm

import (
	"errors"
	"fmt"
)

// Kind はLLM呼び出しの失敗種別
type Kind string

const (
	KindRateLimited     Kind = "rate_limited"
	KindMalformedOutput Kind = "malformed_output"
	KindUnavailable     Kind = "unavailable"
)

// Error はLLM境界で発生したエラー
// errors.Is(err, ErrRateLimited) のように種別で判定できる
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// ErrRetriesExhausted はクライアント側で再試行を使い切ったことを示す
var ErrRetriesExhausted = errors.New("retries exhausted")

var (
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrMalformedOutput = &Error{Kind: KindMalformedOutput}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
)

// NewError は種別と操作名を付けてエラーを包む
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("llm %s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("llm %s", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は種別が一致すれば true を返す
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf はエラーから種別を取り出す。LLMエラーでなければ unavailable とみなす
func KindOf(err error) Kind {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind
	}
	return KindUnavailable
}

// IsRetryable は再試行で回復し得るエラーかどうかを返す
// クライアントが既に再試行を使い切ったエラーは対象外
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
