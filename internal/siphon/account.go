package siphon

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"OrchestratorSiphon/internal/cache"
	"OrchestratorSiphon/internal/web3"
)

// Category 是一个独立刷新、独立评估的账户状态类别。
type Category string

const (
	CategoryStake   Category = "stake"
	CategoryFees    Category = "fees"
	CategoryBalance Category = "balance"
	CategoryReward  Category = "reward"
	CategoryRound   Category = "round"
)

// Categories 按评估顺序排列。
var Categories = []Category{CategoryStake, CategoryFees, CategoryBalance, CategoryReward}

// Intervals 是各类别的缓存 TTL 以及 tick 与确认超时。
type Intervals struct {
	Round        time.Duration
	Stake        time.Duration
	Fees         time.Duration
	Balance      time.Duration
	Reward       time.Duration
	Idle         time.Duration
	Confirmation time.Duration
}

// AccountSpec 是创建账户所需的静态配置。
type AccountSpec struct {
	Name          string
	Credential    web3.Credential
	FeeReceiver   common.Address
	StakeReceiver common.Address
	CallReward    bool
}

// Account 持有一个 orchestrator 的凭证、接收地址与各类别缓存。
// 缓存值为 nil 表示从未成功获取。
type Account struct {
	name          string
	address       common.Address
	credential    web3.Credential
	feeReceiver   common.Address
	stakeReceiver common.Address
	callReward    bool

	PendingStake     *cache.Value[*big.Int]
	PendingFees      *cache.Value[*big.Int]
	WalletBalance    *cache.Value[*big.Int]
	LastClaimedRound *cache.Value[uint64]
}

// NewAccount 在启动时创建账户，之后地址不再变化。
func NewAccount(spec AccountSpec, iv Intervals) *Account {
	return &Account{
		name:             spec.Name,
		address:          spec.Credential.Address(),
		credential:       spec.Credential,
		feeReceiver:      spec.FeeReceiver,
		stakeReceiver:    spec.StakeReceiver,
		callReward:       spec.CallReward,
		PendingStake:     cache.New[*big.Int](iv.Stake),
		PendingFees:      cache.New[*big.Int](iv.Fees),
		WalletBalance:    cache.New[*big.Int](iv.Balance),
		LastClaimedRound: cache.New[uint64](iv.Reward),
	}
}

func (a *Account) Name() string                  { return a.name }
func (a *Account) Address() common.Address       { return a.address }
func (a *Account) Credential() web3.Credential   { return a.credential }
func (a *Account) FeeReceiver() common.Address   { return a.feeReceiver }
func (a *Account) StakeReceiver() common.Address { return a.stakeReceiver }
func (a *Account) CallReward() bool              { return a.callReward }

// SweepMode 决定钱包余额如何转出。
type SweepMode string

const (
	SweepTransfer SweepMode = "transfer"
	SweepDeposit  SweepMode = "deposit"
)

// Thresholds 以最小链上单位表示，启动后不可变。
type Thresholds struct {
	StakeThreshold     *big.Int
	StakeMinRetained   *big.Int
	FeeThreshold       *big.Int
	BalanceThreshold   *big.Int
	BalanceMinRetained *big.Int
	// FixedSweepAmount 为 nil 时转出 balance - BalanceMinRetained。
	FixedSweepAmount *big.Int
	SweepMode        SweepMode
}
