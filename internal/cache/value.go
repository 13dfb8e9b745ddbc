// Package cache holds timestamped values with a per-value time-to-live.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/pkg/logger"
)

// FetchFunc reads a fresh value from its source.
type FetchFunc[T any] func() (T, error)

// Value 是带刷新时间戳与 TTL 的缓存值。零时间戳表示从未成功获取过，永远视为过期。
//
// Value 可以被并发读取；写入只应来自拥有它的 tick 循环。
type Value[T any] struct {
	mu          sync.RWMutex
	value       T
	refreshedAt time.Time
	ttl         time.Duration
	invalidated bool
}

// New 创建一个尚未获取过的缓存值。
func New[T any](ttl time.Duration) *Value[T] {
	return &Value[T]{ttl: ttl}
}

// Get 返回当前缓存值，从未获取过时为零值。
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// RefreshedAt 返回最近一次成功刷新的时间。
func (v *Value[T]) RefreshedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshedAt
}

// TTL 返回刷新间隔。
func (v *Value[T]) TTL() time.Duration {
	return v.ttl
}

// Fetched 报告该值是否至少成功获取过一次。
func (v *Value[T]) Fetched() bool {
	return !v.RefreshedAt().IsZero()
}

// IsStale 判断 now 是否已到达 refreshedAt + ttl。
func (v *Value[T]) IsStale(now time.Time) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.refreshedAt.IsZero() || v.invalidated {
		return true
	}
	return !now.Before(v.refreshedAt.Add(v.ttl))
}

// DueIn 返回距离下次刷新的剩余时间，已过期时返回 0。
func (v *Value[T]) DueIn(now time.Time) time.Duration {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.refreshedAt.IsZero() || v.invalidated {
		return 0
	}
	remaining := v.refreshedAt.Add(v.ttl).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Set 直接写入值并更新时间戳，用于动作成功后立即推进本地状态。
func (v *Value[T]) Set(value T, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
	v.refreshedAt = now
	v.invalidated = false
}

// Invalidate 保留当前值但令其立即过期。
func (v *Value[T]) Invalidate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invalidated = true
}

// Refresh 无视 TTL 调用 fetch。失败时值与时间戳保持不变并返回错误。
func (v *Value[T]) Refresh(now time.Time, fetch FetchFunc[T]) (T, error) {
	fresh, err := fetch()
	if err != nil {
		return v.Get(), err
	}
	v.Set(fresh, now)
	return fresh, nil
}

// RefreshIfStale 仅在过期时刷新。失败只记录日志，返回之前的值，错误不会继续向上传播，
// 由于时间戳未变化，下一个 tick 会再次尝试。
func (v *Value[T]) RefreshIfStale(now time.Time, name string, fetch FetchFunc[T]) T {
	if !v.IsStale(now) {
		return v.Get()
	}
	value, err := v.Refresh(now, fetch)
	if err != nil {
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(xerrors.CodeReadFailure, err, "刷新缓存失败")
		}
		logger.Named("cache").Log(context.Background(), xerrors.LogLevel(err), "缓存刷新失败，保留旧值",
			slog.String("value", name),
			slog.Any("error", err),
		)
	}
	return value
}
