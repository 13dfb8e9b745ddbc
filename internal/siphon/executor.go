package siphon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/observability/alerting"
	"OrchestratorSiphon/internal/observability/metrics"
	"OrchestratorSiphon/internal/web3"
	"OrchestratorSiphon/pkg/logger"
)

// TxStatus 是一次动作在 Execute 内部的生命周期状态，不会被持久化。
type TxStatus string

const (
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxDryRun    TxStatus = "dry_run"
)

// Result 描述 Execute 的结果。
type Result struct {
	Account string
	Action  Action
	Status  TxStatus
	Handle  web3.TxHandle
	Receipt web3.Receipt
	Err     error
}

// Confirmed 报告交易是否已成功上链。
func (r Result) Confirmed() bool { return r.Status == TxConfirmed }

// Executor 把动作映射为链上写操作，提交后等待确认。
type Executor struct {
	chain          web3.Writer
	dispatcher     alerting.Dispatcher
	confirmTimeout time.Duration
	dryRun         bool
}

// NewExecutor 创建执行器。dispatcher 可以为 nil。
func NewExecutor(chain web3.Writer, dispatcher alerting.Dispatcher, confirmTimeout time.Duration, dryRun bool) *Executor {
	if confirmTimeout <= 0 {
		confirmTimeout = 5 * time.Minute
	}
	return &Executor{chain: chain, dispatcher: dispatcher, confirmTimeout: confirmTimeout, dryRun: dryRun}
}

// Execute 提交动作并等待确认。等待确认使用脱离 ctx 取消的上下文，
// 关停信号不会打断已广播交易的确认。任何失败都不会修改缓存。
func (e *Executor) Execute(ctx context.Context, acct *Account, action Action) Result {
	res := Result{Account: acct.Name(), Action: action}
	category := string(action.Category())

	if e.dryRun {
		res.Status = TxDryRun
		metrics.ObserveAction(category, string(TxDryRun))
		componentLog().Info("dry-run：跳过提交", actionAttrs(acct, action)...)
		return res
	}

	handle, err := e.submit(ctx, acct, action)
	if err != nil {
		return e.fail(ctx, res, err)
	}
	res.Handle = handle
	res.Status = TxSubmitted
	componentLog().Info("交易已提交", append(actionAttrs(acct, action),
		slog.String("tx", handle.Hash.Hex()),
		slog.Uint64("nonce", handle.Nonce))...)

	confirmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.confirmTimeout)
	defer cancel()
	receipt, err := e.chain.AwaitConfirmation(confirmCtx, handle)
	res.Receipt = receipt
	if err != nil {
		return e.fail(ctx, res, err)
	}

	res.Status = TxConfirmed
	metrics.ObserveAction(category, string(TxConfirmed))
	attrs := append(actionAttrs(acct, action),
		slog.String("tx", handle.Hash.Hex()),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Uint64("gas_used", receipt.GasUsed))
	componentLog().Info("交易已确认", attrs...)
	logger.Audit().Info("action_confirmed", attrs...)

	event := alerting.NewEvent(alerting.KindActionConfirmed, describe(action)+" 已确认")
	event.Account = acct.Name()
	event.Category = category
	event.TxHash = handle.Hash.Hex()
	e.publish(ctx, event)
	return res
}

func (e *Executor) submit(ctx context.Context, acct *Account, action Action) (web3.TxHandle, error) {
	cred := acct.Credential()
	switch a := action.(type) {
	case StakeTransfer:
		return e.chain.TransferStake(ctx, cred, a.To, a.Amount)
	case FeeWithdraw:
		return e.chain.WithdrawFees(ctx, cred, a.To, a.Amount)
	case BalanceSweep:
		if a.Deposit {
			return e.chain.FundDeposit(ctx, cred, a.To, a.Amount)
		}
		return e.chain.SweepBalance(ctx, cred, a.To, a.Amount)
	case RewardClaim:
		return e.chain.ClaimReward(ctx, cred)
	default:
		return web3.TxHandle{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知动作类型 %T", action))
	}
}

func (e *Executor) fail(ctx context.Context, res Result, err error) Result {
	if _, ok := xerrors.From(err); !ok {
		err = xerrors.Wrap(xerrors.CodeWriteFailure, err, "执行动作失败")
	}
	res.Status = TxFailed
	res.Err = err
	category := string(res.Action.Category())
	metrics.ObserveAction(category, string(TxFailed))

	attrs := append(actionAttrsFor(res.Account, res.Action), slog.Any("error", err))
	if res.Handle.Tx != nil {
		attrs = append(attrs, slog.String("tx", res.Handle.Hash.Hex()))
	}
	componentLog().Log(ctx, xerrors.LogLevel(err), "动作执行失败，下一个 tick 重新评估", attrs...)
	logger.Audit().Warn("action_failed", attrs...)

	event := alerting.NewEvent(alerting.KindActionFailed, describe(res.Action)+" 失败").FromError(err)
	event.Account = res.Account
	event.Category = category
	if res.Handle.Tx != nil {
		event.TxHash = res.Handle.Hash.Hex()
	}
	e.publish(ctx, event)
	return res
}

func (e *Executor) publish(ctx context.Context, event alerting.Event) {
	publish(ctx, e.dispatcher, event)
}

// publish 投递事件；失败只记录日志，不影响 tick。
func publish(ctx context.Context, dispatcher alerting.Dispatcher, event alerting.Event) {
	if dispatcher == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := dispatcher.Notify(notifyCtx, event); err != nil {
		componentLog().Log(ctx, xerrors.LogLevel(err), "事件投递失败",
			slog.String("event_id", event.ID),
			slog.String("kind", string(event.Kind)),
			slog.Any("error", err))
	}
}

func actionAttrs(acct *Account, action Action) []any {
	return actionAttrsFor(acct.Name(), action)
}

func actionAttrsFor(account string, action Action) []any {
	attrs := []any{
		slog.String("account", account),
		slog.String("category", string(action.Category())),
	}
	switch a := action.(type) {
	case StakeTransfer:
		attrs = append(attrs, slog.String("to", a.To.Hex()), slog.String("amount_lpt", web3.FormatAmount(a.Amount)))
	case FeeWithdraw:
		attrs = append(attrs, slog.String("to", a.To.Hex()), slog.String("amount_eth", web3.FormatAmount(a.Amount)), slog.Bool("to_self", a.ToSelf))
	case BalanceSweep:
		attrs = append(attrs, slog.String("to", a.To.Hex()), slog.String("amount_eth", web3.FormatAmount(a.Amount)), slog.Bool("deposit", a.Deposit))
	case RewardClaim:
		attrs = append(attrs, slog.Uint64("round", a.Round))
	}
	return attrs
}

func describe(action Action) string {
	switch a := action.(type) {
	case StakeTransfer:
		return fmt.Sprintf("转出 %s LPT 质押", web3.FormatAmount(a.Amount))
	case FeeWithdraw:
		return fmt.Sprintf("提取 %s ETH 手续费", web3.FormatAmount(a.Amount))
	case BalanceSweep:
		if a.Deposit {
			return fmt.Sprintf("充值 %s ETH 存款", web3.FormatAmount(a.Amount))
		}
		return fmt.Sprintf("转出 %s ETH 余额", web3.FormatAmount(a.Amount))
	case RewardClaim:
		return fmt.Sprintf("领取轮次 %d 奖励", a.Round)
	default:
		return string(action.Category())
	}
}
