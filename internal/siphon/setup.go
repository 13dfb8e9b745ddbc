package siphon

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"OrchestratorSiphon/internal/config"
	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/web3"
)

// ThresholdsFromConfig 把十进制代币数量转换为最小单位。
func ThresholdsFromConfig(cfg config.ThresholdConfig) (Thresholds, error) {
	parse := func(name, value string) (*big.Int, error) {
		amount, err := web3.ParseAmount(value)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, fmt.Sprintf("阈值 %s 无效", name))
		}
		return amount, nil
	}

	var (
		th  Thresholds
		err error
	)
	if th.StakeThreshold, err = parse("stake_threshold", cfg.StakeThreshold); err != nil {
		return Thresholds{}, err
	}
	if th.StakeMinRetained, err = parse("stake_min_retained", cfg.StakeMinRetained); err != nil {
		return Thresholds{}, err
	}
	if th.FeeThreshold, err = parse("fee_threshold", cfg.FeeThreshold); err != nil {
		return Thresholds{}, err
	}
	if th.BalanceThreshold, err = parse("balance_threshold", cfg.BalanceThreshold); err != nil {
		return Thresholds{}, err
	}
	if th.BalanceMinRetained, err = parse("balance_min_retained", cfg.BalanceMinRetained); err != nil {
		return Thresholds{}, err
	}
	if strings.TrimSpace(cfg.FixedSweepAmount) != "" {
		if th.FixedSweepAmount, err = parse("fixed_sweep_amount", cfg.FixedSweepAmount); err != nil {
			return Thresholds{}, err
		}
		if th.FixedSweepAmount.Sign() <= 0 {
			return Thresholds{}, xerrors.New(xerrors.CodeConfigFailure, "fixed_sweep_amount 必须大于 0")
		}
	}
	th.SweepMode = SweepMode(strings.ToLower(strings.TrimSpace(cfg.SweepMode)))
	if th.SweepMode == "" {
		th.SweepMode = SweepTransfer
	}
	return th, th.validate()
}

// IntervalsFromConfig 转换刷新周期。
func IntervalsFromConfig(cfg config.IntervalConfig) Intervals {
	return Intervals{
		Round:        cfg.Round.Std(),
		Stake:        cfg.Stake.Std(),
		Fees:         cfg.Fees.Std(),
		Balance:      cfg.Balance.Std(),
		Reward:       cfg.Reward.Std(),
		Idle:         cfg.Idle.Std(),
		Confirmation: cfg.Confirmation.Std(),
	}
}

// SpecFromConfig 组合账户配置与已解锁的凭证。
func SpecFromConfig(cfg config.AccountConfig, cred web3.Credential) (AccountSpec, error) {
	if !cred.Valid() {
		return AccountSpec{}, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("账户 %s 缺少签名密钥", cfg.Name))
	}
	if !common.IsHexAddress(cfg.FeeReceiver) {
		return AccountSpec{}, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("账户 %s 的 fee_receiver 无效", cfg.Name))
	}
	stakeReceiver := cfg.StakeReceiver
	if stakeReceiver == "" {
		stakeReceiver = cfg.FeeReceiver
	}
	if !common.IsHexAddress(stakeReceiver) {
		return AccountSpec{}, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("账户 %s 的 stake_receiver 无效", cfg.Name))
	}
	return AccountSpec{
		Name:          cfg.Name,
		Credential:    cred,
		FeeReceiver:   common.HexToAddress(cfg.FeeReceiver),
		StakeReceiver: common.HexToAddress(stakeReceiver),
		CallReward:    cfg.RewardEnabled(),
	}, nil
}
