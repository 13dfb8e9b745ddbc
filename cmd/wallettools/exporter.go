package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"OrchestratorSiphon/internal/observability/metrics"
	"OrchestratorSiphon/pkg/logger"
)

func exporterCommand() *cli.Command {
	return &cli.Command{
		Name:      "exporter",
		Usage:     "以 Prometheus 指标导出钱包 ETH 余额",
		ArgsUsage: "<[name:]address>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "监听地址，默认使用 exporter.address"},
			&cli.DurationFlag{Name: "interval", Usage: "刷新间隔，默认使用 exporter.interval"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("至少需要一个钱包地址", 2)
			}
			wallets, err := metrics.ParseWallets(c.Args().Slice())
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			listen := c.String("listen")
			if listen == "" {
				listen = cfg.Exporter.Address
			}
			interval := c.Duration("interval")
			if interval <= 0 {
				interval = cfg.Exporter.Interval.Std()
			}

			chain, closeChain, err := dialChain(c.Context, cfg)
			if err != nil {
				return err
			}
			defer closeChain()

			exporter, err := metrics.NewWalletExporter(metrics.Registry, chain, wallets, interval)
			if err != nil {
				return err
			}
			logger.Named("exporter").Info("钱包余额导出器启动",
				slog.String("listen", listen),
				slog.Int("wallets", len(wallets)),
				slog.Duration("interval", interval))

			g, ctx := errgroup.WithContext(c.Context)
			g.Go(func() error { return metrics.StartServer(ctx, listen) })
			g.Go(func() error { return exporter.Run(ctx) })
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
