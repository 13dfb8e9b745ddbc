package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"OrchestratorSiphon/internal/observability/alerting"
	"OrchestratorSiphon/internal/siphon"
	"OrchestratorSiphon/internal/web3"
)

var (
	accountFlag = &cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "账户名称或地址"}
	dryRunFlag  = &cli.BoolFlag{Name: "dry-run", Usage: "只评估不提交交易"}
)

func fundDepositCommand() *cli.Command {
	return &cli.Command{
		Name:  "fund-deposit",
		Usage: "把钱包中超出保留值的余额充值到接收方的 TicketBroker 存款",
		Flags: []cli.Flag{accountFlag, dryRunFlag},
		Action: func(c *cli.Context) error {
			return runDeposit(c, false)
		},
	}
}

func withdrawIntoDepositCommand() *cli.Command {
	return &cli.Command{
		Name:  "withdraw-fees-into-deposit",
		Usage: "先把待提取手续费提回自身，再充值接收方存款",
		Flags: []cli.Flag{accountFlag, dryRunFlag},
		Action: func(c *cli.Context) error {
			return runDeposit(c, true)
		},
	}
}

func runDeposit(c *cli.Context, withdraw bool) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	thresholds, err := siphon.ThresholdsFromConfig(cfg.Thresholds)
	if err != nil {
		return err
	}
	acct, err := unlockAccount(cfg, c.String("account"))
	if err != nil {
		return err
	}
	chain, closeChain, err := dialChain(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeChain()

	dryRun := cfg.Engine.DryRun || c.Bool("dry-run")
	exec := siphon.NewExecutor(chain, alerting.NewFanout(alerting.LogNotifier{}), cfg.Intervals.Confirmation.Std(), dryRun)
	return fundDeposit(c.Context, depositJob{
		chain:      chain,
		exec:       exec,
		account:    acct,
		thresholds: thresholds,
		withdraw:   withdraw,
		out:        c.App.Writer,
	})
}

type depositJob struct {
	chain      web3.Reader
	exec       *siphon.Executor
	account    *siphon.Account
	thresholds siphon.Thresholds
	withdraw   bool
	out        io.Writer
}

// fundDeposit 可选地先提取达到阈值的手续费，然后按 sweep 规则充值存款。
// 阈值、保留值与固定金额的判断与守护进程一致。
func fundDeposit(ctx context.Context, job depositJob) error {
	acct := job.account
	fmt.Fprintf(job.out, "账户 %s (%s) -> 接收方 %s\n", acct.Name(), acct.Address().Hex(), acct.FeeReceiver().Hex())

	if job.withdraw {
		fees, err := job.chain.PendingFees(ctx, acct.Address())
		if err != nil {
			return err
		}
		switch {
		case fees.Sign() == 0:
			fmt.Fprintln(job.out, "没有待提取的手续费")
		case fees.Cmp(job.thresholds.FeeThreshold) < 0:
			fmt.Fprintf(job.out, "待提取手续费 %s ETH 低于阈值 %s ETH，跳过提取\n",
				web3.FormatAmount(fees), web3.FormatAmount(job.thresholds.FeeThreshold))
		default:
			res := job.exec.Execute(ctx, acct, siphon.FeeWithdraw{To: acct.Address(), Amount: fees, ToSelf: true})
			if res.Err != nil {
				return res.Err
			}
			fmt.Fprintf(job.out, "提取手续费 %s ETH: %s\n", web3.FormatAmount(fees), res.Status)
		}
	}

	balance, err := job.chain.WalletBalance(ctx, acct.Address())
	if err != nil {
		return err
	}
	th := job.thresholds
	th.SweepMode = siphon.SweepDeposit
	action, decision := siphon.PlanSweep(balance, th, acct.FeeReceiver())
	if action == nil {
		fmt.Fprintf(job.out, "未充值存款: %s\n", decision.Reason)
		return nil
	}
	res := job.exec.Execute(ctx, acct, action)
	if res.Err != nil {
		return res.Err
	}
	fmt.Fprintf(job.out, "%s: %s\n", decision.Reason, res.Status)
	return nil
}
