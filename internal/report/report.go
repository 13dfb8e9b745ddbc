// Package report 按 cron 表达式定期发送账户状态摘要。
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/observability/alerting"
	"OrchestratorSiphon/internal/siphon"
	"OrchestratorSiphon/pkg/logger"
)

// Source 提供最新快照，通常是 *siphon.Engine。
type Source interface {
	Snapshot() siphon.Snapshot
}

// Reporter 在 cron 调度下生成 summary 事件。
type Reporter struct {
	cron       *cron.Cron
	source     Source
	dispatcher alerting.Dispatcher
}

// New 注册摘要任务。spec 支持标准五段式表达式与 @daily 这类描述符。
func New(spec string, source Source, dispatcher alerting.Dispatcher) (*Reporter, error) {
	r := &Reporter{
		cron:       cron.New(),
		source:     source,
		dispatcher: dispatcher,
	}
	if _, err := r.cron.AddFunc(spec, func() { r.Send(context.Background()) }); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, fmt.Sprintf("无效的 summary_cron: %q", spec))
	}
	return r, nil
}

// Start 启动调度。
func (r *Reporter) Start() {
	r.cron.Start()
	logger.Named("report").Info("摘要调度已启动", slog.Time("next", r.Next()))
}

// Stop 停止调度并等待正在执行的任务结束。
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

// Next 返回下一次触发时间。
func (r *Reporter) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if next := entries[0].Next; !next.IsZero() {
		return next
	}
	return entries[0].Schedule.Next(time.Now())
}

// Send 立即生成并投递一次摘要。
func (r *Reporter) Send(ctx context.Context) error {
	snap := r.source.Snapshot()
	event := alerting.NewEvent(alerting.KindSummary, Render(snap))
	event.Metadata = map[string]string{
		"round":    fmt.Sprint(snap.Round.Round),
		"accounts": fmt.Sprint(len(snap.Accounts)),
	}
	if r.dispatcher == nil {
		return nil
	}
	if err := r.dispatcher.Notify(ctx, event); err != nil {
		logger.Named("report").Log(ctx, xerrors.LogLevel(err), "摘要投递失败", slog.Any("error", err))
		return err
	}
	return nil
}

// Render 把快照渲染为多行文本。
func Render(snap siphon.Snapshot) string {
	var b strings.Builder
	round := "未知"
	if snap.Round.Fetched {
		round = fmt.Sprintf("%d", snap.Round.Round)
		if snap.Round.Locked {
			round += " (已锁定)"
		}
	}
	fmt.Fprintf(&b, "轮次: %s\ntick 次数: %d", round, snap.Ticks)
	if snap.Paused {
		b.WriteString("\n状态: 已暂停")
	}
	if snap.DryRun {
		b.WriteString("\n模式: dry-run")
	}
	for _, acct := range snap.Accounts {
		fmt.Fprintf(&b, "\n\n%s (%s)", acct.Name, acct.Address)
		fmt.Fprintf(&b, "\n  待领取质押: %s LPT", amount(acct.PendingStake))
		fmt.Fprintf(&b, "\n  待领取手续费: %s ETH", amount(acct.PendingFees))
		fmt.Fprintf(&b, "\n  钱包余额: %s ETH", amount(acct.WalletBalance))
		if acct.CallReward {
			claimed := "未知"
			if acct.LastClaimedRound.Fetched {
				claimed = fmt.Sprintf("%d", acct.LastClaimedRound.Round)
			}
			fmt.Fprintf(&b, "\n  最近领取奖励轮次: %s", claimed)
		}
	}
	return b.String()
}

func amount(v siphon.AmountView) string {
	if !v.Fetched || v.Amount == "" {
		return "未知"
	}
	if v.Stale {
		return v.Amount + " (过期)"
	}
	return v.Amount
}
