package siphon

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OrchestratorSiphon/internal/errors"
)

// Action 是封闭的动作集合，只能由本包中的四种类型实现。
type Action interface {
	Category() Category
	isAction()
}

// StakeTransfer 把待领取质押转给接收地址。
type StakeTransfer struct {
	To     common.Address
	Amount *big.Int
}

// FeeWithdraw 提取待领取手续费；ToSelf 表示因钱包余额不足而提回自身。
type FeeWithdraw struct {
	To     common.Address
	Amount *big.Int
	ToSelf bool
}

// BalanceSweep 转出钱包余额；Deposit 表示改为充值接收方的 TicketBroker 存款。
type BalanceSweep struct {
	To      common.Address
	Amount  *big.Int
	Deposit bool
}

// RewardClaim 为指定轮次调用 reward()。
type RewardClaim struct {
	Round uint64
}

func (StakeTransfer) Category() Category { return CategoryStake }
func (FeeWithdraw) Category() Category   { return CategoryFees }
func (BalanceSweep) Category() Category  { return CategoryBalance }
func (RewardClaim) Category() Category   { return CategoryReward }

func (StakeTransfer) isAction() {}
func (FeeWithdraw) isAction()   {}
func (BalanceSweep) isAction()  {}
func (RewardClaim) isAction()   {}

// Outcome 是一次评估的结论。
type Outcome string

const (
	// OutcomeSkip 未达到阈值或尚无数据。
	OutcomeSkip Outcome = "skip"
	// OutcomeDispatch 需要执行动作。
	OutcomeDispatch Outcome = "dispatch"
	// OutcomeBlocked 阈值已满足但前置条件不满足。
	OutcomeBlocked Outcome = "blocked"
)

// Decision 携带用于日志的评估原因。
type Decision struct {
	Category Category
	Outcome  Outcome
	Reason   string
}

// blockError 把被阻止的评估表示为 POLICY_BLOCK 错误，只用于确定日志级别，不告警。
func (d Decision) blockError() *xerrors.Error {
	return xerrors.New(xerrors.CodePolicyBlock, d.Reason,
		xerrors.WithMetadata("category", string(d.Category)))
}
