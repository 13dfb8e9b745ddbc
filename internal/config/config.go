package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/web3"
)

// DefaultPath 在未指定 -config 与 SIPHON_CONFIG 时使用。
const DefaultPath = "configs/siphon.json"

// Config 描述了 siphon 在启动阶段需要加载的全部配置。
type Config struct {
	RPC        RPCConfig       `json:"rpc"`
	Accounts   []AccountConfig `json:"accounts"`
	Thresholds ThresholdConfig `json:"thresholds"`
	Intervals  IntervalConfig  `json:"intervals"`
	Gas        GasConfig       `json:"gas"`
	Engine     EngineConfig    `json:"engine"`
	Server     ServerConfig    `json:"server"`
	Logging    LoggingConfig   `json:"logging"`
	Notify     NotifyConfig    `json:"notify"`
	Snapshot   SnapshotConfig  `json:"snapshot"`
	Exporter   ExporterConfig  `json:"exporter"`
}

// RPCConfig 指定 L2 节点；chain_config 存在时优先使用其中的链定义。
type RPCConfig struct {
	L2          string                 `json:"l2"`
	ChainConfig string                 `json:"chain_config"`
	Chain       string                 `json:"chain"`
	ChainID     int64                  `json:"chain_id"`
	Contracts   web3.ContractAddresses `json:"contracts"`
}

// AccountConfig 对应一个被管理的 orchestrator 账户。
type AccountConfig struct {
	Name     string `json:"name"`
	Keystore string `json:"keystore"`
	// Password 可以是明文，也可以是包含密码的文件路径。
	Password      string `json:"password"`
	Address       string `json:"address"`
	FeeReceiver   string `json:"fee_receiver"`
	StakeReceiver string `json:"stake_receiver"`
	CallReward    *bool  `json:"call_reward"`
}

// RewardEnabled 默认开启。
func (a AccountConfig) RewardEnabled() bool {
	return a.CallReward == nil || *a.CallReward
}

// ThresholdConfig 中的金额均为十进制代币数量字符串。
type ThresholdConfig struct {
	StakeThreshold     string `json:"stake_threshold"`
	StakeMinRetained   string `json:"stake_min_retained"`
	FeeThreshold       string `json:"fee_threshold"`
	BalanceThreshold   string `json:"balance_threshold"`
	BalanceMinRetained string `json:"balance_min_retained"`
	FixedSweepAmount   string `json:"fixed_sweep_amount"`
	SweepMode          string `json:"sweep_mode"`
}

// IntervalConfig 控制各类缓存的刷新周期。
type IntervalConfig struct {
	Round        Duration `json:"round"`
	Stake        Duration `json:"stake"`
	Fees         Duration `json:"fees"`
	Balance      Duration `json:"balance"`
	Reward       Duration `json:"reward"`
	Idle         Duration `json:"idle"`
	Confirmation Duration `json:"confirmation"`
}

// GasConfig 的价格单位为 gwei。
type GasConfig struct {
	MaxFeeGwei      string `json:"max_fee_gwei"`
	PriorityFeeGwei string `json:"priority_fee_gwei"`
	GasLimit        uint64 `json:"gas_limit"`
}

// EngineConfig 控制 tick 循环的行为开关。
type EngineConfig struct {
	ParallelReads bool `json:"parallel_reads"`
	DryRun        bool `json:"dry_run"`
}

// ServerConfig 控制 API 服务的监听地址，留空表示不启动。
// Token 非空时控制接口需要 Bearer 认证。
type ServerConfig struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// LoggingConfig 映射到 pkg/logger。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	Outputs     []string `json:"outputs"`
	Timestamped *bool    `json:"timestamped"`
	AuditPath   string   `json:"audit_path"`
	MaxSizeMB   int      `json:"max_size_mb"`
	MaxBackups  int      `json:"max_backups"`
	MaxAgeDays  int      `json:"max_age_days"`
}

// NotifyConfig 描述告警事件的投递目标。
type NotifyConfig struct {
	Telegram    TelegramConfig `json:"telegram"`
	Redis       RedisConfig    `json:"redis"`
	RabbitMQ    RabbitMQConfig `json:"rabbitmq"`
	SummaryCron string         `json:"summary_cron"`
}

type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	List     string `json:"list"`
}

type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// SnapshotConfig 选择账户快照的持久化方式。
type SnapshotConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Path     string `json:"path"`
	RedisKey string `json:"redis_key"`
}

// ExporterConfig 供 wallettools exporter 使用。
type ExporterConfig struct {
	Address  string   `json:"address"`
	Interval Duration `json:"interval"`
}

// Duration 接受 "15m" 这样的字符串，也接受以秒为单位的数字。
type Duration time.Duration

// Std 返回标准库时长。
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("无效时长 %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("无效时长: %s", string(data))
	}
	return nil
}

// ResolvePath 按 命令行参数 > SIPHON_CONFIG > DefaultPath 的顺序选择配置文件。
func ResolvePath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv("SIPHON_CONFIG")); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件并应用环境变量覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfigFailure, "配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, "打开配置文件失败")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, "读取配置文件失败")
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, "解析配置失败")
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.RPC.L2 == "" && c.RPC.ChainConfig == "" {
		c.RPC.L2 = "https://arb1.arbitrum.io/rpc"
	}
	if c.RPC.ChainConfig != "" && !filepath.IsAbs(c.RPC.ChainConfig) {
		c.RPC.ChainConfig = filepath.Join(baseDir, c.RPC.ChainConfig)
	}

	t := &c.Thresholds
	setDefault(&t.StakeThreshold, "100")
	setDefault(&t.StakeMinRetained, "1")
	setDefault(&t.FeeThreshold, "0.20")
	setDefault(&t.BalanceThreshold, "0.20")
	setDefault(&t.BalanceMinRetained, "0.02")
	setDefault(&t.SweepMode, "transfer")
	t.SweepMode = strings.ToLower(strings.TrimSpace(t.SweepMode))

	i := &c.Intervals
	setDuration(&i.Round, 15*time.Minute)
	setDuration(&i.Stake, 4*time.Hour)
	setDuration(&i.Fees, 4*time.Hour)
	setDuration(&i.Balance, 4*time.Hour)
	setDuration(&i.Reward, 15*time.Minute)
	setDuration(&i.Idle, time.Minute)
	setDuration(&i.Confirmation, 5*time.Minute)

	for idx := range c.Accounts {
		acct := &c.Accounts[idx]
		if acct.Name == "" {
			acct.Name = fmt.Sprintf("orchestrator-%d", idx+1)
		}
		if acct.StakeReceiver == "" {
			acct.StakeReceiver = acct.FeeReceiver
		}
		if acct.Keystore != "" && !filepath.IsAbs(acct.Keystore) {
			acct.Keystore = filepath.Join(baseDir, acct.Keystore)
		}
	}

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
	if c.Logging.Timestamped == nil {
		enabled := true
		c.Logging.Timestamped = &enabled
	}

	setDefault(&c.Notify.Redis.List, "siphon:events")
	setDefault(&c.Notify.RabbitMQ.Exchange, "siphon.events")
	setDefault(&c.Notify.RabbitMQ.RoutingKey, "siphon.event")

	c.Snapshot.Driver = strings.ToLower(strings.TrimSpace(c.Snapshot.Driver))
	if c.Snapshot.Driver == "" {
		c.Snapshot.Driver = "file"
	}
	if c.Snapshot.Driver == "file" && c.Snapshot.Path == "" {
		c.Snapshot.Path = filepath.Join(baseDir, "data", "snapshot.json")
	} else if c.Snapshot.Path != "" && !filepath.IsAbs(c.Snapshot.Path) {
		c.Snapshot.Path = filepath.Join(baseDir, c.Snapshot.Path)
	}

	setDefault(&c.Exporter.Address, ":9153")
	setDuration(&c.Exporter.Interval, 5*time.Minute)
}

// ApplyEnv 使用 SIPHON_* 环境变量覆盖文件中的值。设置 SIPHON_KEYSTORES 时
// 账户列表完全由环境变量决定。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("SIPHON_RPC_L2", &c.RPC.L2)
	str("SIPHON_CHAIN", &c.RPC.Chain)
	str("SIPHON_LPT_THRESHOLD", &c.Thresholds.StakeThreshold)
	str("SIPHON_LPT_MINVAL", &c.Thresholds.StakeMinRetained)
	str("SIPHON_ETH_THRESHOLD", &c.Thresholds.FeeThreshold)
	str("SIPHON_ETH_MINVAL", &c.Thresholds.BalanceMinRetained)
	str("SIPHON_ETH_MAXVAL", &c.Thresholds.BalanceThreshold)
	str("SIPHON_FIXED_ETH", &c.Thresholds.FixedSweepAmount)
	str("SIPHON_VERBOSITY", &c.Logging.Level)
	str("SIPHON_API_TOKEN", &c.Server.Token)

	if v, ok := lookup("SIPHON_TIMESTAMPED"); ok && strings.TrimSpace(v) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return xerrors.Wrap(xerrors.CodeConfigFailure, err, "SIPHON_TIMESTAMPED 不是有效的布尔值")
		}
		c.Logging.Timestamped = &enabled
	}

	keystores := splitList(lookup, "SIPHON_KEYSTORES")
	if len(keystores) == 0 {
		return nil
	}
	passwords := splitList(lookup, "SIPHON_PASSWORDS")
	sources := splitList(lookup, "SIPHON_SOURCES")
	ethTargets := splitList(lookup, "SIPHON_TARGETS_ETH")
	lptTargets := splitList(lookup, "SIPHON_TARGETS_LPT")

	accounts := make([]AccountConfig, 0, len(keystores))
	for idx, keystore := range keystores {
		accounts = append(accounts, AccountConfig{
			Keystore:      keystore,
			Password:      at(passwords, idx),
			Address:       at(sources, idx),
			FeeReceiver:   at(ethTargets, idx),
			StakeReceiver: at(lptTargets, idx),
		})
	}
	c.Accounts = accounts
	return nil
}

// Validate 检查配置是否足以启动引擎，所有问题一次性返回。
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.RPC.L2) == "" && strings.TrimSpace(c.RPC.ChainConfig) == "" {
		add("rpc.l2 与 rpc.chain_config 至少需要配置一个")
	}
	for field, value := range map[string]string{
		"rpc.contracts.bonding_manager": c.RPC.Contracts.BondingManager,
		"rpc.contracts.rounds_manager":  c.RPC.Contracts.RoundsManager,
		"rpc.contracts.ticket_broker":   c.RPC.Contracts.TicketBroker,
	} {
		if value != "" && !isAddress(value) {
			add("%s 不是有效地址: %s", field, value)
		}
	}

	if len(c.Accounts) == 0 {
		add("至少需要配置一个账户")
	}
	seen := make(map[string]bool)
	for idx, acct := range c.Accounts {
		prefix := fmt.Sprintf("accounts[%d]", idx)
		if strings.TrimSpace(acct.Keystore) == "" {
			add("%s.keystore 不能为空", prefix)
		}
		if acct.Address != "" && !isAddress(acct.Address) {
			add("%s.address 不是有效地址: %s", prefix, acct.Address)
		}
		if !isAddress(acct.FeeReceiver) {
			add("%s.fee_receiver 不是有效地址: %q", prefix, acct.FeeReceiver)
		}
		if !isAddress(acct.StakeReceiver) {
			add("%s.stake_receiver 不是有效地址: %q", prefix, acct.StakeReceiver)
		}
		if seen[acct.Name] {
			add("%s.name 重复: %s", prefix, acct.Name)
		}
		seen[acct.Name] = true
	}

	for field, value := range map[string]string{
		"thresholds.stake_threshold":      c.Thresholds.StakeThreshold,
		"thresholds.stake_min_retained":   c.Thresholds.StakeMinRetained,
		"thresholds.fee_threshold":        c.Thresholds.FeeThreshold,
		"thresholds.balance_threshold":    c.Thresholds.BalanceThreshold,
		"thresholds.balance_min_retained": c.Thresholds.BalanceMinRetained,
	} {
		if _, err := web3.ParseAmount(value); err != nil {
			add("%s: %v", field, err)
		}
	}
	if c.Thresholds.FixedSweepAmount != "" {
		if amount, err := web3.ParseAmount(c.Thresholds.FixedSweepAmount); err != nil {
			add("thresholds.fixed_sweep_amount: %v", err)
		} else if amount.Sign() == 0 {
			add("thresholds.fixed_sweep_amount 必须大于 0")
		}
	}
	switch c.Thresholds.SweepMode {
	case "transfer", "deposit":
	default:
		add("thresholds.sweep_mode 只能是 transfer 或 deposit: %s", c.Thresholds.SweepMode)
	}

	for field, value := range map[string]Duration{
		"intervals.round":        c.Intervals.Round,
		"intervals.stake":        c.Intervals.Stake,
		"intervals.fees":         c.Intervals.Fees,
		"intervals.balance":      c.Intervals.Balance,
		"intervals.reward":       c.Intervals.Reward,
		"intervals.idle":         c.Intervals.Idle,
		"intervals.confirmation": c.Intervals.Confirmation,
	} {
		if value <= 0 {
			add("%s 必须为正数", field)
		}
	}

	for field, value := range map[string]string{
		"gas.max_fee_gwei":      c.Gas.MaxFeeGwei,
		"gas.priority_fee_gwei": c.Gas.PriorityFeeGwei,
	} {
		if value == "" {
			continue
		}
		if _, err := web3.ParseUnits(value, web3.GweiDecimals); err != nil {
			add("%s: %v", field, err)
		}
	}

	switch c.Snapshot.Driver {
	case "none", "file":
	case "mysql", "postgres", "sqlite":
		if c.Snapshot.DSN == "" && c.Snapshot.Driver != "sqlite" {
			add("snapshot.dsn 不能为空 (driver=%s)", c.Snapshot.Driver)
		}
		if c.Snapshot.Driver == "sqlite" && c.Snapshot.DSN == "" && c.Snapshot.Path == "" {
			add("sqlite 快照需要 snapshot.dsn 或 snapshot.path")
		}
	default:
		add("不支持的快照驱动: %s", c.Snapshot.Driver)
	}
	if c.Snapshot.RedisKey != "" && c.Notify.Redis.Addr == "" {
		add("snapshot.redis_key 需要同时配置 notify.redis.addr")
	}
	if c.Notify.Telegram.BotToken != "" && c.Notify.Telegram.ChatID == 0 {
		add("notify.telegram.chat_id 不能为空")
	}

	if len(problems) == 0 {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeConfigFailure, errors.Join(problems...), "配置校验失败")
}

// GasPrices 把 gwei 配置转换为 wei，未配置时返回 nil。
func (g GasConfig) GasPrices() (maxFee, priorityFee *big.Int) {
	if g.MaxFeeGwei != "" {
		maxFee, _ = web3.ParseUnits(g.MaxFeeGwei, web3.GweiDecimals)
	}
	if g.PriorityFeeGwei != "" {
		priorityFee, _ = web3.ParseUnits(g.PriorityFeeGwei, web3.GweiDecimals)
	}
	return maxFee, priorityFee
}

func setDefault(dst *string, value string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = value
	}
}

func setDuration(dst *Duration, value time.Duration) {
	if *dst == 0 {
		*dst = Duration(value)
	}
}

func splitList(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func at(values []string, idx int) string {
	if idx < len(values) {
		return values[idx]
	}
	return ""
}

func isAddress(value string) bool {
	return common.IsHexAddress(strings.TrimSpace(value))
}
