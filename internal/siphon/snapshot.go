package siphon

import (
	"context"
	"math/big"
	"strings"
	"time"

	"OrchestratorSiphon/internal/cache"
	"OrchestratorSiphon/internal/web3"
)

// AmountView 是一个缓存金额的只读副本。
type AmountView struct {
	Wei         string    `json:"wei"`
	Amount      string    `json:"amount"`
	Fetched     bool      `json:"fetched"`
	Stale       bool      `json:"stale"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// RoundView 是一个缓存轮次的只读副本。
type RoundView struct {
	Round       uint64    `json:"round"`
	Fetched     bool      `json:"fetched"`
	Stale       bool      `json:"stale"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// AccountSnapshot 汇总一个账户的缓存状态。
type AccountSnapshot struct {
	Name             string     `json:"name"`
	Address          string     `json:"address"`
	FeeReceiver      string     `json:"fee_receiver"`
	StakeReceiver    string     `json:"stake_receiver"`
	CallReward       bool       `json:"call_reward"`
	PendingStake     AmountView `json:"pending_stake"`
	PendingFees      AmountView `json:"pending_fees"`
	WalletBalance    AmountView `json:"wallet_balance"`
	LastClaimedRound RoundView  `json:"last_claimed_round"`
}

// RoundSnapshot 是轮次闸门的副本。
type RoundSnapshot struct {
	Round       uint64    `json:"round"`
	Locked      bool      `json:"locked"`
	Fetched     bool      `json:"fetched"`
	Stale       bool      `json:"stale"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Snapshot 是引擎状态在某一时刻的完整副本，可以安全地跨 goroutine 传递。
type Snapshot struct {
	TakenAt  time.Time         `json:"taken_at"`
	LastTick time.Time         `json:"last_tick"`
	Ticks    uint64            `json:"ticks"`
	Paused   bool              `json:"paused"`
	DryRun   bool              `json:"dry_run"`
	Round    RoundSnapshot     `json:"round"`
	Accounts []AccountSnapshot `json:"accounts"`
}

// Account 按地址（不区分大小写）或名称查找账户。
func (s Snapshot) Account(key string) (AccountSnapshot, bool) {
	for _, acct := range s.Accounts {
		if strings.EqualFold(acct.Address, key) || acct.Name == key {
			return acct, true
		}
	}
	return AccountSnapshot{}, false
}

// SnapshotSink 接收每个 tick 之后的快照，例如持久化存储。
type SnapshotSink interface {
	Save(ctx context.Context, snap Snapshot) error
}

func amountView(v *cache.Value[*big.Int], now time.Time) AmountView {
	view := AmountView{
		Fetched:     v.Fetched(),
		Stale:       v.IsStale(now),
		RefreshedAt: v.RefreshedAt(),
	}
	if value := v.Get(); value != nil {
		view.Wei = value.String()
		view.Amount = web3.FormatAmount(value)
	}
	return view
}

func roundView(v *cache.Value[uint64], now time.Time) RoundView {
	return RoundView{
		Round:       v.Get(),
		Fetched:     v.Fetched(),
		Stale:       v.IsStale(now),
		RefreshedAt: v.RefreshedAt(),
	}
}

func snapshotAccount(acct *Account, now time.Time) AccountSnapshot {
	return AccountSnapshot{
		Name:             acct.Name(),
		Address:          acct.Address().Hex(),
		FeeReceiver:      acct.FeeReceiver().Hex(),
		StakeReceiver:    acct.StakeReceiver().Hex(),
		CallReward:       acct.CallReward(),
		PendingStake:     amountView(acct.PendingStake, now),
		PendingFees:      amountView(acct.PendingFees, now),
		WalletBalance:    amountView(acct.WalletBalance, now),
		LastClaimedRound: roundView(acct.LastClaimedRound, now),
	}
}
