package siphon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/observability/alerting"
	"OrchestratorSiphon/internal/observability/metrics"
	"OrchestratorSiphon/internal/web3"
	"OrchestratorSiphon/pkg/logger"
)

func componentLog() *slog.Logger { return logger.Named("siphon") }

// Options 汇总构建 Engine 所需的依赖。
type Options struct {
	Chain         web3.Chain
	Accounts      []*Account
	Thresholds    Thresholds
	Intervals     Intervals
	ParallelReads bool
	DryRun        bool
	Dispatcher    alerting.Dispatcher
	Sinks         []SnapshotSink
	// Now 默认为 time.Now，测试中可替换。
	Now func() time.Time
}

// Engine 是单 goroutine 的 tick 循环，拥有全部账户状态。
type Engine struct {
	chain      web3.Chain
	accounts   []*Account
	gate       *RoundGate
	thresholds Thresholds
	intervals  Intervals
	refresher  *refresher
	executor   *Executor
	dispatcher alerting.Dispatcher
	sinks      []SnapshotSink
	sleeper    *Sleeper
	dryRun     bool
	now        func() time.Time

	paused atomic.Bool

	mu       sync.RWMutex
	lastTick time.Time
	ticks    uint64
}

// New 校验依赖并创建引擎。
func New(opts Options) (*Engine, error) {
	if opts.Chain == nil {
		return nil, xerrors.New(xerrors.CodeConfigFailure, "缺少链客户端")
	}
	if len(opts.Accounts) == 0 {
		return nil, xerrors.New(xerrors.CodeConfigFailure, "至少需要一个账户")
	}
	if err := opts.Thresholds.validate(); err != nil {
		return nil, err
	}
	if opts.Intervals.Idle <= 0 {
		opts.Intervals.Idle = time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		chain:      opts.Chain,
		accounts:   opts.Accounts,
		gate:       NewRoundGate(opts.Intervals.Round),
		thresholds: opts.Thresholds,
		intervals:  opts.Intervals,
		refresher:  &refresher{reader: opts.Chain, parallel: opts.ParallelReads},
		executor:   NewExecutor(opts.Chain, opts.Dispatcher, opts.Intervals.Confirmation, opts.DryRun),
		dispatcher: opts.Dispatcher,
		sinks:      opts.Sinks,
		sleeper:    NewSleeper(),
		dryRun:     opts.DryRun,
		now:        now,
	}, nil
}

func (t Thresholds) validate() error {
	required := []struct {
		name  string
		value *big.Int
	}{
		{"stake_threshold", t.StakeThreshold},
		{"stake_min_retained", t.StakeMinRetained},
		{"fee_threshold", t.FeeThreshold},
		{"balance_threshold", t.BalanceThreshold},
		{"balance_min_retained", t.BalanceMinRetained},
	}
	for _, r := range required {
		if r.value == nil {
			return xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("阈值 %s 未设置", r.name))
		}
	}
	switch t.SweepMode {
	case SweepTransfer, SweepDeposit:
	default:
		return xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("未知的 sweep 模式 %q", t.SweepMode))
	}
	return nil
}

// Gate 暴露轮次闸门，供只读查询。
func (e *Engine) Gate() *RoundGate { return e.gate }

// Accounts 返回受管账户。
func (e *Engine) Accounts() []*Account { return e.accounts }

// RunTick 执行一次完整的刷新与评估。重复调用是安全的：未过期的类别不会重新读取，
// 未达阈值的类别不会派发动作。
func (e *Engine) RunTick(ctx context.Context, now time.Time) {
	started := time.Now()
	tickID := uuid.NewString()
	log := componentLog().With(slog.String("tick", tickID))

	if e.gate.Refresh(ctx, now, e.chain) {
		e.onRoundAdvanced(ctx, log)
	}
	round := e.gate.State()
	metrics.SetRound(round.Number, round.Locked)

	for _, acct := range e.accounts {
		if ctx.Err() != nil {
			log.Info("tick 被中断", slog.Any("error", ctx.Err()))
			break
		}
		e.refresher.RefreshAccount(ctx, now, acct)
		e.evaluate(ctx, now, acct, log)
		e.recordAccountMetrics(acct)
	}

	e.mu.Lock()
	e.lastTick = now
	e.ticks++
	e.mu.Unlock()
	metrics.ObserveTick(time.Since(started))
}

func (e *Engine) onRoundAdvanced(ctx context.Context, log *slog.Logger) {
	round := e.gate.Round()
	for _, acct := range e.accounts {
		acct.LastClaimedRound.Invalidate()
	}
	log.Info("进入新轮次", slog.Uint64("round", round), slog.Bool("locked", e.gate.Locked()))
	event := alerting.NewEvent(alerting.KindRoundAdvanced, fmt.Sprintf("进入轮次 %d", round))
	event.Category = string(CategoryRound)
	event.Metadata = map[string]string{"round": fmt.Sprint(round)}
	publish(ctx, e.dispatcher, event)
}

// evaluate 按 质押 -> 手续费 -> 余额 -> 奖励 的顺序评估，每个类别至多一个动作。
func (e *Engine) evaluate(ctx context.Context, now time.Time, acct *Account, log *slog.Logger) {
	th := e.thresholds
	log = log.With(slog.String("account", acct.Name()))

	action, decision := PlanStake(acct.PendingStake.Get(), e.gate.Locked(), th, acct.StakeReceiver())
	if e.handle(ctx, acct, action, decision, log).Confirmed() {
		e.refresher.ForceRefresh(ctx, now, acct, CategoryStake)
	}

	action, decision = PlanFees(acct.PendingFees.Get(), acct.WalletBalance.Get(), th, acct.Address(), acct.FeeReceiver())
	if e.handle(ctx, acct, action, decision, log).Confirmed() {
		e.refresher.ForceRefresh(ctx, now, acct, CategoryFees)
		e.refresher.ForceRefresh(ctx, now, acct, CategoryBalance)
	}

	action, decision = PlanSweep(acct.WalletBalance.Get(), th, acct.FeeReceiver())
	if e.handle(ctx, acct, action, decision, log).Confirmed() {
		e.refresher.ForceRefresh(ctx, now, acct, CategoryBalance)
	}

	action, decision = PlanReward(acct.CallReward(), e.gate.State(), e.gate.Fetched(),
		acct.LastClaimedRound.Fetched(), acct.LastClaimedRound.Get())
	if res := e.handle(ctx, acct, action, decision, log); res.Confirmed() {
		if claim, ok := res.Action.(RewardClaim); ok {
			acct.LastClaimedRound.Set(claim.Round, now)
		}
	}
}

func (e *Engine) handle(ctx context.Context, acct *Account, action Action, decision Decision, log *slog.Logger) Result {
	attrs := []any{slog.String("category", string(decision.Category)), slog.String("reason", decision.Reason)}
	switch decision.Outcome {
	case OutcomeSkip:
		log.Debug("无需动作", attrs...)
		return Result{}
	case OutcomeBlocked:
		policy := decision.blockError()
		log.Log(ctx, xerrors.LogLevel(policy), "动作被策略阻止",
			slog.String("category", string(decision.Category)),
			slog.String("code", string(policy.Code())),
			slog.String("reason", policy.Message()),
		)
		return Result{}
	}
	if action == nil {
		return Result{}
	}
	if ctx.Err() != nil {
		log.Info("关停中，跳过新动作", attrs...)
		return Result{}
	}
	log.Info("派发动作", attrs...)
	return e.executor.Execute(ctx, acct, action)
}

func (e *Engine) recordAccountMetrics(acct *Account) {
	metrics.SetAccountValue(acct.Name(), string(CategoryStake), acct.PendingStake.Get())
	metrics.SetAccountValue(acct.Name(), string(CategoryFees), acct.PendingFees.Get())
	metrics.SetAccountValue(acct.Name(), string(CategoryBalance), acct.WalletBalance.Get())
	if acct.LastClaimedRound.Fetched() {
		metrics.SetLastClaimedRound(acct.Name(), acct.LastClaimedRound.Get())
	}
}

// Run 循环执行 tick 直到 ctx 结束。暂停时只等待不执行。
func (e *Engine) Run(ctx context.Context) error {
	log := componentLog()
	log.Info("引擎启动",
		slog.Int("accounts", len(e.accounts)),
		slog.Duration("idle", e.intervals.Idle),
		slog.Bool("dry_run", e.dryRun))
	for {
		if e.paused.Load() {
			log.Debug("引擎已暂停，跳过 tick")
		} else {
			e.RunTick(ctx, e.now())
			e.publishSnapshot(ctx)
		}
		woken, err := e.sleeper.Wait(ctx, e.intervals.Idle)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("引擎停止")
				return nil
			}
			return err
		}
		if woken {
			log.Info("收到唤醒请求，提前执行 tick")
		}
	}
}

func (e *Engine) publishSnapshot(ctx context.Context) {
	if len(e.sinks) == 0 {
		return
	}
	snap := e.Snapshot()
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, sink := range e.sinks {
		if err := sink.Save(saveCtx, snap); err != nil {
			if _, ok := xerrors.From(err); !ok {
				err = xerrors.Wrap(xerrors.CodeStoreFailure, err, "保存快照失败")
			}
			componentLog().Log(ctx, xerrors.LogLevel(err), "保存快照失败", slog.Any("error", err))
		}
	}
}

// Wake 请求提前执行下一个 tick。
func (e *Engine) Wake() { e.sleeper.Wake() }

// Pause 使循环跳过 tick，直到 Resume。
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		metrics.SetPaused(true)
		componentLog().Info("引擎已暂停")
	}
}

// Resume 恢复 tick 并立即唤醒循环。
func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		metrics.SetPaused(false)
		componentLog().Info("引擎已恢复")
		e.Wake()
	}
}

// Paused 报告是否处于暂停状态。
func (e *Engine) Paused() bool { return e.paused.Load() }

// Snapshot 复制当前状态，供 HTTP、报表与存储读取。
func (e *Engine) Snapshot() Snapshot {
	now := e.now()
	e.mu.RLock()
	snap := Snapshot{
		TakenAt:  now,
		LastTick: e.lastTick,
		Ticks:    e.ticks,
		Paused:   e.paused.Load(),
		DryRun:   e.dryRun,
	}
	e.mu.RUnlock()

	state := e.gate.State()
	snap.Round = RoundSnapshot{
		Round:       state.Number,
		Locked:      state.Locked,
		Fetched:     e.gate.Fetched(),
		Stale:       e.gate.IsStale(now),
		RefreshedAt: e.gate.RefreshedAt(),
	}
	snap.Accounts = make([]AccountSnapshot, 0, len(e.accounts))
	for _, acct := range e.accounts {
		snap.Accounts = append(snap.Accounts, snapshotAccount(acct, now))
	}
	return snap
}
