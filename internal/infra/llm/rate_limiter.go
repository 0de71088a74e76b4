package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	corellm "github.com/jinford/resume-matcher/internal/core/llm"
)

// RateLimiter は1分あたりのリクエスト数と同時実行数を制限する
type RateLimiter struct {
	mu sync.Mutex

	// perWindow は1ウィンドウあたりの最大リクエスト数
	perWindow int
	window    time.Duration

	tokens     int
	lastRefill time.Time
	waiting    int

	// slots は同時実行数を制御するセマフォ
	slots chan struct{}

	now      func() time.Time
	pollWait time.Duration
}

// NewRateLimiter は新しいRateLimiterを作成する
// maxConcurrent が0以下の場合は requestsPerMinute を上限とする
func NewRateLimiter(requestsPerMinute, maxConcurrent int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if maxConcurrent <= 0 {
		maxConcurrent = requestsPerMinute
	}
	return &RateLimiter{
		perWindow:  requestsPerMinute,
		window:     time.Minute,
		tokens:     requestsPerMinute,
		lastRefill: time.Now(),
		slots:      make(chan struct{}, maxConcurrent),
		now:        time.Now,
		pollWait:   time.Second,
	}
}

// Wait は実行権限を取得するまで待機する
// 成功した場合は必ず Release を呼ぶこと
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case rl.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		rl.mu.Lock()
		rl.refill()
		if rl.tokens > 0 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		rl.waiting++
		rl.mu.Unlock()

		timer := time.NewTimer(rl.pollWait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			rl.mu.Lock()
			rl.waiting--
			rl.mu.Unlock()
			<-rl.slots
			return ctx.Err()
		}

		rl.mu.Lock()
		rl.waiting--
		rl.mu.Unlock()
	}
}

// Release は実行権限を解放する
func (rl *RateLimiter) Release() {
	<-rl.slots
}

// refill は経過したウィンドウ分のトークンを補充する
// 呼び出し側でロックを取得していること
func (rl *RateLimiter) refill() {
	elapsed := rl.now().Sub(rl.lastRefill)
	if elapsed < rl.window {
		return
	}
	windows := int(elapsed / rl.window)
	rl.tokens = min(rl.tokens+windows*rl.perWindow, rl.perWindow)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(windows) * rl.window)
}

// Status は現在の状態を返す
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	return RateLimiterStatus{
		RequestsPerMinute: rl.perWindow,
		AvailableTokens:   rl.tokens,
		WaitingRequests:   rl.waiting,
		ActiveRequests:    len(rl.slots),
	}
}

// RateLimiterStatus はレート制限の状態
type RateLimiterStatus struct {
	RequestsPerMinute int
	AvailableTokens   int
	WaitingRequests   int
	ActiveRequests    int
}

func (s RateLimiterStatus) String() string {
	return fmt.Sprintf(
		"RateLimiter: max=%d/min, available=%d, waiting=%d, active=%d",
		s.RequestsPerMinute,
		s.AvailableTokens,
		s.WaitingRequests,
		s.ActiveRequests,
	)
}

// ThrottledClient はレート制限付きのLLMクライアント
type ThrottledClient struct {
	client  corellm.Client
	limiter *RateLimiter
}

// NewThrottledClient はレート制限付きのLLMクライアントを作成する
func NewThrottledClient(client corellm.Client, limiter *RateLimiter) *ThrottledClient {
	return &ThrottledClient{client: client, limiter: limiter}
}

// GenerateCompletion はレート制限に従ってLLM APIを呼び出す
func (tc *ThrottledClient) GenerateCompletion(ctx context.Context, req corellm.CompletionRequest) (corellm.CompletionResponse, error) {
	if err := tc.limiter.Wait(ctx); err != nil {
		return corellm.CompletionResponse{}, corellm.NewError(corellm.KindUnavailable, "rate_limiter.wait", err)
	}
	defer tc.limiter.Release()

	return tc.client.GenerateCompletion(ctx, req)
}

// Status はレート制限の状態を返す
func (tc *ThrottledClient) Status() RateLimiterStatus {
	return tc.limiter.Status()
}

var _ corellm.Client = (*ThrottledClient)(nil)
