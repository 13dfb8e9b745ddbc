package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"OrchestratorSiphon/pkg/logger"
)

// BalanceReader 是钱包余额导出器需要的读取能力。
type BalanceReader interface {
	WalletBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// Wallet 是被导出余额的钱包。
type Wallet struct {
	Name    string
	Address common.Address
}

// ParseWallets 解析 "[name:]0xaddress" 形式的参数，未命名时以地址为名。
func ParseWallets(args []string) ([]Wallet, error) {
	wallets := make([]Wallet, 0, len(args))
	for _, arg := range args {
		name, addr, found := strings.Cut(strings.TrimSpace(arg), ":")
		if !found {
			addr, name = name, ""
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("无效地址: %s", arg)
		}
		address := common.HexToAddress(addr)
		if name == "" {
			name = address.Hex()
		}
		wallets = append(wallets, Wallet{Name: name, Address: address})
	}
	return wallets, nil
}

// WalletExporter 周期性读取钱包余额并写入 livepeer_eth_wallet_balance_wei。
type WalletExporter struct {
	reader   BalanceReader
	wallets  []Wallet
	interval time.Duration
	gauge    *prometheus.GaugeVec
}

// NewWalletExporter 在 reg 上注册余额指标。
func NewWalletExporter(reg prometheus.Registerer, reader BalanceReader, wallets []Wallet, interval time.Duration) (*WalletExporter, error) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "livepeer_eth_wallet_balance_wei",
		Help: "ETH balance of the wallet in wei.",
	}, []string{"name", "address"})
	if err := reg.Register(gauge); err != nil {
		return nil, fmt.Errorf("注册余额指标失败: %w", err)
	}
	return &WalletExporter{reader: reader, wallets: wallets, interval: interval, gauge: gauge}, nil
}

// Collect 读取一次所有钱包余额。单个钱包失败只记录日志。
func (e *WalletExporter) Collect(ctx context.Context) {
	for _, w := range e.wallets {
		balance, err := e.reader.WalletBalance(ctx, w.Address)
		if err != nil {
			ObserveReadFailure("balance")
			logger.Named("exporter").Warn("读取钱包余额失败",
				slog.String("name", w.Name),
				slog.String("address", w.Address.Hex()),
				slog.Any("error", err))
			continue
		}
		wei, _ := new(big.Float).SetInt(balance).Float64()
		e.gauge.WithLabelValues(w.Name, w.Address.Hex()).Set(wei)
	}
}

// Run 立即采集一次，然后按间隔采集直到 ctx 结束。
func (e *WalletExporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		e.Collect(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
