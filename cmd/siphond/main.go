package main

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"OrchestratorSiphon/internal/api"
	"OrchestratorSiphon/internal/auth"
	"OrchestratorSiphon/internal/config"
	"OrchestratorSiphon/internal/keystore"
	"OrchestratorSiphon/internal/observability/alerting"
	"OrchestratorSiphon/internal/report"
	"OrchestratorSiphon/internal/siphon"
	"OrchestratorSiphon/internal/storage/snapshot"
	"OrchestratorSiphon/internal/web3/provider"
	"OrchestratorSiphon/pkg/logger"
)

// main 是 siphon 守护进程的入口。
func main() {
	configFlag := flag.String("config", "", "配置文件路径，默认读取 SIPHON_CONFIG 或 "+config.DefaultPath)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.ResolvePath(*configFlag)); err != nil {
		log.Fatalf("siphond 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(loggerConfig(cfg.Logging)); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("siphond")

	registry, err := provider.NewRegistry(ctx, cfg.RPC, cfg.Gas)
	if err != nil {
		return err
	}
	defer registry.Close()
	chain, err := registry.DefaultClient()
	if err != nil {
		return err
	}
	log.Info("已连接链节点", slog.String("chain", registry.DefaultName()))

	thresholds, err := siphon.ThresholdsFromConfig(cfg.Thresholds)
	if err != nil {
		return err
	}
	intervals := siphon.IntervalsFromConfig(cfg.Intervals)

	accounts := make([]*siphon.Account, 0, len(cfg.Accounts))
	for _, acctCfg := range cfg.Accounts {
		cred, err := keystore.Load(keystore.Options{
			Label:    acctCfg.Name,
			Path:     acctCfg.Keystore,
			Password: acctCfg.Password,
			Expected: acctCfg.Address,
			Prompt:   keystore.TerminalPrompt,
		})
		if err != nil {
			return err
		}
		spec, err := siphon.SpecFromConfig(acctCfg, cred)
		if err != nil {
			return err
		}
		acct := siphon.NewAccount(spec, intervals)
		accounts = append(accounts, acct)
		log.Info("已加载账户",
			slog.String("account", acct.Name()),
			slog.String("address", acct.Address().Hex()),
			slog.String("fee_receiver", acct.FeeReceiver().Hex()),
			slog.String("stake_receiver", acct.StakeReceiver().Hex()),
			slog.Bool("call_reward", acct.CallReward()))
	}

	out, err := buildOutputs(ctx, cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	engine, err := siphon.New(siphon.Options{
		Chain:         chain,
		Accounts:      accounts,
		Thresholds:    thresholds,
		Intervals:     intervals,
		ParallelReads: cfg.Engine.ParallelReads,
		DryRun:        cfg.Engine.DryRun,
		Dispatcher:    out.dispatcher,
		Sinks:         out.sinks,
	})
	if err != nil {
		return err
	}

	wake := make(chan os.Signal, 1)
	signal.Notify(wake, syscall.SIGUSR1)
	defer signal.Stop(wake)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				log.Info("收到 SIGUSR1，提前执行 tick")
				engine.Wake()
			}
		}
	}()

	if cfg.Server.Address != "" {
		server := api.NewServer(cfg.Server.Address, engine, auth.NewGuard(cfg.Server.Token))
		go func() {
			if err := server.Start(ctx); err != nil {
				log.Error("API 服务异常退出", slog.Any("error", err))
			}
		}()
	}

	if cfg.Notify.SummaryCron != "" {
		reporter, err := report.New(cfg.Notify.SummaryCron, engine, out.dispatcher)
		if err != nil {
			return err
		}
		reporter.Start()
		defer reporter.Stop()
	}

	return engine.Run(ctx)
}

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	timestamped := cfg.Timestamped == nil || *cfg.Timestamped
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Timestamped: timestamped,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
		},
		Audit: logger.AuditConfig{
			Enabled:    cfg.AuditPath != "",
			Path:       cfg.AuditPath,
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
		},
	}
}

// outputs 汇总通知渠道与快照存储，统一负责关闭。
type outputs struct {
	dispatcher alerting.Dispatcher
	sinks      []siphon.SnapshotSink
	closers    []io.Closer
}

func (o *outputs) Close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i].Close(); err != nil {
			logger.Named("siphond").Warn("释放资源失败", slog.Any("error", err))
		}
	}
}

func buildOutputs(ctx context.Context, cfg *config.Config) (_ *outputs, err error) {
	out := &outputs{}
	defer func() {
		if err != nil {
			out.Close()
		}
	}()

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}

	if token := cfg.Notify.Telegram.BotToken; token != "" {
		sender, err := alerting.NewBotSender(token)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, &alerting.TelegramNotifier{Sender: sender, ChatID: cfg.Notify.Telegram.ChatID})
	}

	if addr := cfg.Notify.Redis.Addr; addr != "" {
		redisCfg := alerting.RedisConfig{
			Address:  addr,
			Password: cfg.Notify.Redis.Password,
			DB:       cfg.Notify.Redis.DB,
			List:     cfg.Notify.Redis.List,
		}
		client, err := alerting.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		out.closers = append(out.closers, client)
		notifiers = append(notifiers, alerting.NewRedisNotifier(client, redisCfg))
		if cfg.Snapshot.RedisKey != "" {
			out.sinks = append(out.sinks, snapshot.NewRedisMirror(client, cfg.Snapshot.RedisKey))
		}
	}

	if url := cfg.Notify.RabbitMQ.URL; url != "" {
		notifier, err := alerting.NewRabbitMQNotifier(alerting.RabbitMQConfig{
			URL:        url,
			Exchange:   cfg.Notify.RabbitMQ.Exchange,
			RoutingKey: cfg.Notify.RabbitMQ.RoutingKey,
		})
		if err != nil {
			return nil, err
		}
		out.closers = append(out.closers, notifier)
		notifiers = append(notifiers, notifier)
	}

	fanout := alerting.NewFanout(notifiers...)
	out.dispatcher = fanout

	store, err := snapshot.Open(ctx, cfg.Snapshot)
	if err != nil {
		return nil, err
	}
	if store != nil {
		out.closers = append(out.closers, store)
		out.sinks = append([]siphon.SnapshotSink{store}, out.sinks...)
	}

	channels := make([]string, 0)
	for _, ch := range fanout.Channels() {
		channels = append(channels, string(ch))
	}
	logger.Named("siphond").Info("输出已就绪",
		slog.Any("channels", channels),
		slog.String("snapshot", cfg.Snapshot.Driver),
		slog.Int("sinks", len(out.sinks)))
	return out, nil
}
