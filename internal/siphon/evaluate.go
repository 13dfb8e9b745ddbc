package siphon

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"OrchestratorSiphon/internal/web3"
)

func skip(cat Category, format string, args ...any) (Action, Decision) {
	return nil, Decision{Category: cat, Outcome: OutcomeSkip, Reason: fmt.Sprintf(format, args...)}
}

func blocked(cat Category, format string, args ...any) (Action, Decision) {
	return nil, Decision{Category: cat, Outcome: OutcomeBlocked, Reason: fmt.Sprintf(format, args...)}
}

func dispatch(action Action, format string, args ...any) (Action, Decision) {
	return action, Decision{Category: action.Category(), Outcome: OutcomeDispatch, Reason: fmt.Sprintf(format, args...)}
}

// PlanStake 决定是否转出待领取质押。stake 为 nil 表示从未获取。
func PlanStake(stake *big.Int, locked bool, th Thresholds, to common.Address) (Action, Decision) {
	if stake == nil {
		return skip(CategoryStake, "待领取质押尚未获取")
	}
	if stake.Cmp(th.StakeThreshold) < 0 {
		return skip(CategoryStake, "待领取质押 %s LPT 低于阈值 %s LPT",
			web3.FormatAmount(stake), web3.FormatAmount(th.StakeThreshold))
	}
	if !locked {
		return blocked(CategoryStake, "待领取质押 %s LPT 已达阈值，但当前轮次未锁定", web3.FormatAmount(stake))
	}
	amount := new(big.Int).Sub(stake, th.StakeMinRetained)
	if amount.Sign() <= 0 {
		return blocked(CategoryStake, "保留质押 %s LPT 不小于待领取质押 %s LPT",
			web3.FormatAmount(th.StakeMinRetained), web3.FormatAmount(stake))
	}
	return dispatch(StakeTransfer{To: to, Amount: amount}, "转出 %s LPT 至 %s", web3.FormatAmount(amount), to.Hex())
}

// PlanFees 决定是否提取手续费。钱包余额未知或低于保留值时提回自身，
// 否则提给接收地址。
func PlanFees(fees, balance *big.Int, th Thresholds, self, receiver common.Address) (Action, Decision) {
	if fees == nil {
		return skip(CategoryFees, "待领取手续费尚未获取")
	}
	if fees.Sign() <= 0 || fees.Cmp(th.FeeThreshold) < 0 {
		return skip(CategoryFees, "待领取手续费 %s ETH 低于阈值 %s ETH",
			web3.FormatAmount(fees), web3.FormatAmount(th.FeeThreshold))
	}
	amount := new(big.Int).Set(fees)
	if balance == nil || balance.Cmp(th.BalanceMinRetained) < 0 {
		return dispatch(FeeWithdraw{To: self, Amount: amount, ToSelf: true},
			"钱包余额低于保留值 %s ETH，提取 %s ETH 至自身", web3.FormatAmount(th.BalanceMinRetained), web3.FormatAmount(amount))
	}
	return dispatch(FeeWithdraw{To: receiver, Amount: amount},
		"提取 %s ETH 至 %s", web3.FormatAmount(amount), receiver.Hex())
}

// PlanSweep 决定是否转出钱包余额。设置固定金额时只在可用余额足够时转出，
// 不做部分转账。
func PlanSweep(balance *big.Int, th Thresholds, to common.Address) (Action, Decision) {
	if balance == nil {
		return skip(CategoryBalance, "钱包余额尚未获取")
	}
	if balance.Cmp(th.BalanceThreshold) < 0 {
		return skip(CategoryBalance, "钱包余额 %s ETH 低于阈值 %s ETH",
			web3.FormatAmount(balance), web3.FormatAmount(th.BalanceThreshold))
	}
	if balance.Cmp(th.BalanceMinRetained) <= 0 {
		return blocked(CategoryBalance, "保留值 %s ETH 不小于钱包余额 %s ETH",
			web3.FormatAmount(th.BalanceMinRetained), web3.FormatAmount(balance))
	}
	available := new(big.Int).Sub(balance, th.BalanceMinRetained)
	amount := available
	if th.FixedSweepAmount != nil {
		if available.Cmp(th.FixedSweepAmount) < 0 {
			return blocked(CategoryBalance, "可转出余额 %s ETH 不足固定金额 %s ETH",
				web3.FormatAmount(available), web3.FormatAmount(th.FixedSweepAmount))
		}
		amount = new(big.Int).Set(th.FixedSweepAmount)
	}
	deposit := th.SweepMode == SweepDeposit
	verb := "转出"
	if deposit {
		verb = "充值存款"
	}
	return dispatch(BalanceSweep{To: to, Amount: amount, Deposit: deposit},
		"%s %s ETH 至 %s", verb, web3.FormatAmount(amount), to.Hex())
}

// PlanReward 决定是否为当前轮次调用 reward()。轮次或上次领取轮次任一尚未获取时不领取。
func PlanReward(callReward bool, round RoundState, roundFetched, claimedFetched bool, lastClaimed uint64) (Action, Decision) {
	if !callReward {
		return skip(CategoryReward, "账户未启用 reward 调用")
	}
	if !roundFetched {
		return skip(CategoryReward, "轮次尚未获取")
	}
	if !claimedFetched {
		return skip(CategoryReward, "上次领取轮次尚未获取")
	}
	if lastClaimed >= round.Number {
		return skip(CategoryReward, "轮次 %d 的奖励已领取", round.Number)
	}
	return dispatch(RewardClaim{Round: round.Number}, "领取轮次 %d 的奖励（上次 %d）", round.Number, lastClaimed)
}
