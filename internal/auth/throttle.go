package auth

import (
	"context"
	"sync"
	"time"
)

// Throttle はログイン失敗回数を数え、一定回数を超えたクライアントを一時的にロックします。
type Throttle interface {
	// Check はロック中なら残り時間を返します。0 なら試行できます。
	Check(ctx context.Context, key string) (time.Duration, error)
	// Fail は失敗を記録し、ロックまでの残り回数を返します。
	Fail(ctx context.Context, key string) (int, error)
	// Reset は key の記録を消します。
	Reset(ctx context.Context, key string) error
}

// ThrottleLimits はロックの条件です。
type ThrottleLimits struct {
	MaxAttempts int           // Window 内にこの回数失敗するとロック
	Window      time.Duration // 失敗回数を数える期間
	Lock        time.Duration // ロック時間
}

// DefaultThrottleLimits は 15 分間に 5 回失敗で 10 分ロックです。
var DefaultThrottleLimits = ThrottleLimits{
	MaxAttempts: 5,
	Window:      15 * time.Minute,
	Lock:        10 * time.Minute,
}

func (l ThrottleLimits) withDefaults() ThrottleLimits {
	if l.MaxAttempts <= 0 {
		l.MaxAttempts = DefaultThrottleLimits.MaxAttempts
	}
	if l.Window <= 0 {
		l.Window = DefaultThrottleLimits.Window
	}
	if l.Lock <= 0 {
		l.Lock = DefaultThrottleLimits.Lock
	}
	return l
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// stale は集計期間もロックも終わった記録です。
func (s *attemptState) stale(now time.Time, window time.Duration) bool {
	return now.Sub(s.firstAttempt) > window && !now.Before(s.lockedUntil)
}

// MemoryThrottle はプロセス内で失敗回数を保持する Throttle です。
type MemoryThrottle struct {
	limits ThrottleLimits
	now    func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
}

var _ Throttle = (*MemoryThrottle)(nil)

// NewMemoryThrottle は MemoryThrottle を作成します。
func NewMemoryThrottle(limits ThrottleLimits) *MemoryThrottle {
	return &MemoryThrottle{
		limits:   limits.withDefaults(),
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

func (t *MemoryThrottle) Check(_ context.Context, key string) (time.Duration, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	state, ok := t.attempts[key]
	if !ok {
		return 0, nil
	}
	now := t.now()
	if state.stale(now, t.limits.Window) {
		delete(t.attempts, key)
		return 0, nil
	}
	if !now.Before(state.lockedUntil) {
		return 0, nil
	}
	return state.lockedUntil.Sub(now), nil
}

func (t *MemoryThrottle) Fail(_ context.Context, key string) (int, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	now := t.now()
	t.sweep(now)
	state, ok := t.attempts[key]
	if !ok || now.Sub(state.firstAttempt) > t.limits.Window {
		state = &attemptState{firstAttempt: now}
		t.attempts[key] = state
	}

	state.count++
	if state.count >= t.limits.MaxAttempts {
		state.lockedUntil = now.Add(t.limits.Lock)
		state.count = t.limits.MaxAttempts
	}

	remaining := t.limits.MaxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// sweep は古い記録を捨てます。t.lock を保持して呼びます。
func (t *MemoryThrottle) sweep(now time.Time) {
	for key, state := range t.attempts {
		if state.stale(now, t.limits.Window) {
			delete(t.attempts, key)
		}
	}
}

func (t *MemoryThrottle) Reset(_ context.Context, key string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.attempts, key)
	return nil
}
