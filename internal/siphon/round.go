package siphon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"OrchestratorSiphon/internal/cache"
	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/observability/metrics"
	"OrchestratorSiphon/internal/web3"
)

// RoundState 是 RoundsManager 的当前轮次与锁定状态。
type RoundState struct {
	Number uint64
	Locked bool
}

// RoundGate 缓存轮次状态。轮次号只增不减，首次成功刷新前 Locked 为 false。
type RoundGate struct {
	current *cache.Value[RoundState]
}

// NewRoundGate 创建尚未获取的轮次闸门。
func NewRoundGate(ttl time.Duration) *RoundGate {
	return &RoundGate{current: cache.New[RoundState](ttl)}
}

// Refresh 在过期时读取轮次与锁定状态。返回值表示轮次是否严格前进；
// 读到比缓存更小的轮次视为瞬时读取错误，保留原值。
func (g *RoundGate) Refresh(ctx context.Context, now time.Time, reader web3.Reader) bool {
	if !g.current.IsStale(now) {
		return false
	}
	prev := g.current.Get()
	hadPrev := g.current.Fetched()

	next := g.current.RefreshIfStale(now, string(CategoryRound), func() (RoundState, error) {
		number, err := reader.CurrentRound(ctx)
		if err != nil {
			metrics.ObserveReadFailure(string(CategoryRound))
			return RoundState{}, err
		}
		locked, err := reader.RoundLocked(ctx)
		if err != nil {
			metrics.ObserveReadFailure(string(CategoryRound))
			return RoundState{}, err
		}
		if hadPrev && number < prev.Number {
			metrics.ObserveReadFailure(string(CategoryRound))
			return RoundState{}, xerrors.New(xerrors.CodeReadFailure,
				fmt.Sprintf("读取到的轮次 %d 小于已缓存的 %d", number, prev.Number))
		}
		return RoundState{Number: number, Locked: locked}, nil
	})

	if next != prev {
		componentLog().Debug("轮次状态已刷新",
			slog.Uint64("round", next.Number),
			slog.Bool("locked", next.Locked))
	}
	return hadPrev && next.Number > prev.Number
}

// Round 返回缓存的轮次号。
func (g *RoundGate) Round() uint64 { return g.current.Get().Number }

// Locked 报告当前轮次是否已锁定。
func (g *RoundGate) Locked() bool { return g.current.Get().Locked }

// State 返回完整的轮次状态。
func (g *RoundGate) State() RoundState { return g.current.Get() }

// Fetched 报告是否至少成功读取过一次。
func (g *RoundGate) Fetched() bool { return g.current.Fetched() }

// RefreshedAt 返回最近一次成功刷新的时间。
func (g *RoundGate) RefreshedAt() time.Time { return g.current.RefreshedAt() }

// IsStale 报告闸门是否需要刷新。
func (g *RoundGate) IsStale(now time.Time) bool { return g.current.IsStale(now) }
