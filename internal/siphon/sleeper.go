package siphon

import (
	"context"
	"time"
)

// Sleeper 是可被提前唤醒的等待。多次 Wake 在一次等待内合并为一次。
type Sleeper struct {
	wake chan struct{}
}

// NewSleeper 创建 Sleeper。
func NewSleeper() *Sleeper {
	return &Sleeper{wake: make(chan struct{}, 1)}
}

// Wake 请求提前结束当前或下一次等待，不会阻塞。
func (s *Sleeper) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wait 等待 d、唤醒请求或 ctx 结束。返回 true 表示被提前唤醒。
func (s *Sleeper) Wait(ctx context.Context, d time.Duration) (bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-s.wake:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}
