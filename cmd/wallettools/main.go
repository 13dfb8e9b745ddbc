package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"OrchestratorSiphon/internal/config"
	"OrchestratorSiphon/internal/report"
	"OrchestratorSiphon/internal/storage/snapshot"
	"OrchestratorSiphon/internal/web3"
	"OrchestratorSiphon/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("wallettools: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "wallettools",
		Usage: "Livepeer 编排者钱包的一次性工具",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
				EnvVars: []string{"SIPHON_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "日志级别",
			},
		},
		Before: func(c *cli.Context) error {
			return logger.Init(logger.Config{
				Level:       c.String("log-level"),
				Format:      "text",
				OutputPaths: []string{"stderr"},
				Timestamped: true,
			})
		},
		After: func(*cli.Context) error {
			logger.Sync()
			return nil
		},
		Commands: []*cli.Command{
			balanceCommand(),
			exporterCommand(),
			fundDepositCommand(),
			withdrawIntoDepositCommand(),
			statusCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Load(config.ResolvePath(c.String("config")))
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "查询钱包 ETH 余额",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 || !common.IsHexAddress(c.Args().First()) {
				return cli.Exit("需要一个有效的钱包地址", 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			chain, closeChain, err := dialChain(c.Context, cfg)
			if err != nil {
				return err
			}
			defer closeChain()

			address := common.HexToAddress(c.Args().First())
			balance, err := chain.WalletBalance(c.Context, address)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s\t%s ETH\t%s wei\n", address.Hex(), web3.FormatAmount(balance), balance.String())
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "打印守护进程最近一次保存的快照",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := snapshot.Open(c.Context, cfg.Snapshot)
			if err != nil {
				return err
			}
			if store == nil {
				return cli.Exit("未配置快照存储 (snapshot.driver)", 1)
			}
			defer store.Close()

			snap, ok, err := store.Load(c.Context)
			if err != nil {
				return err
			}
			if !ok {
				return cli.Exit("尚无快照", 1)
			}
			fmt.Fprintf(c.App.Writer, "快照时间: %s\n", snap.TakenAt.Format(time.RFC3339))
			fmt.Fprintln(c.App.Writer, report.Render(snap))
			return nil
		},
	}
}
