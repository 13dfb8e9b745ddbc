package livepeer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/web3"
)

const defaultReceiptPoll = 2 * time.Second

// Config describes how to construct a client for a Livepeer deployment.
type Config struct {
	Name      string
	RPCURL    string
	ChainID   int64
	Contracts web3.ContractAddresses
	// MaxFeePerGas caps the EIP-1559 fee cap. Nil means 2*baseFee+tip.
	MaxFeePerGas *big.Int
	// MaxPriorityFeePerGas overrides eth_maxPriorityFeePerGas.
	MaxPriorityFeePerGas *big.Int
	// GasLimit skips estimation when non-zero.
	GasLimit    uint64
	ReceiptPoll time.Duration
}

// Backend is the subset of ethclient.Client the client relies on.
type Backend interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client implements web3.Chain against the Livepeer contracts.
type Client struct {
	name      string
	rpcClient *gethrpc.Client
	backend   Backend
	contracts *Contracts
	cfg       Config

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeConfigFailure, "未配置 L2 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, "连接 L2 节点失败")
	}

	client, err := NewClientWithBackend(cfg, ethclient.NewClient(rpcClient))
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	return client, nil
}

// NewClientWithBackend wraps an existing backend, typically a fake in tests.
func NewClientWithBackend(cfg Config, backend Backend) (*Client, error) {
	if backend == nil {
		return nil, errors.New("缺少链访问后端")
	}
	contracts, err := LoadContracts(cfg.Contracts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, "加载合约 ABI 失败")
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = defaultReceiptPoll
	}
	c := &Client{
		name:      cfg.Name,
		backend:   backend,
		contracts: contracts,
		cfg:       cfg,
	}
	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	}
	return c, nil
}

// Name returns the chain name the client was built for.
func (c *Client) Name() string { return c.name }

// Contracts exposes the resolved contract addresses.
func (c *Client) Contracts() *Contracts { return c.contracts }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// PendingStake returns the bonded stake including unclaimed rewards.
func (c *Client) PendingStake(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.contracts.BondingManager, c.contracts.bonding, "pendingStake", account, pendingEndRound)
	if err != nil {
		return nil, err
	}
	return firstBig(out, "pendingStake")
}

// PendingFees returns the withdrawable fees in wei.
func (c *Client) PendingFees(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.contracts.BondingManager, c.contracts.bonding, "pendingFees", account, pendingEndRound)
	if err != nil {
		return nil, err
	}
	return firstBig(out, "pendingFees")
}

// WalletBalance returns the native balance of account.
func (c *Client) WalletBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReadFailure, err, "查询钱包余额失败",
			xerrors.WithMetadata("account", account.Hex()))
	}
	return balance, nil
}

// CurrentRound returns the RoundsManager round number.
func (c *Client) CurrentRound(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, c.contracts.RoundsManager, c.contracts.rounds, "currentRound")
	if err != nil {
		return 0, err
	}
	round, err := firstBig(out, "currentRound")
	if err != nil {
		return 0, err
	}
	if !round.IsUint64() {
		return 0, xerrors.New(xerrors.CodeReadFailure, "轮次超出范围")
	}
	return round.Uint64(), nil
}

// RoundLocked reports whether the current round is locked.
func (c *Client) RoundLocked(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, c.contracts.RoundsManager, c.contracts.rounds, "currentRoundLocked")
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, xerrors.New(xerrors.CodeReadFailure, "currentRoundLocked 返回为空")
	}
	locked, ok := out[0].(bool)
	if !ok {
		return false, xerrors.New(xerrors.CodeReadFailure, fmt.Sprintf("currentRoundLocked 返回类型异常: %T", out[0]))
	}
	return locked, nil
}

// LastClaimedRound returns lastRewardRound from getTranscoder.
func (c *Client) LastClaimedRound(ctx context.Context, account common.Address) (uint64, error) {
	out, err := c.call(ctx, c.contracts.BondingManager, c.contracts.bonding, "getTranscoder", account)
	if err != nil {
		return 0, err
	}
	round, err := firstBig(out, "getTranscoder")
	if err != nil {
		return 0, err
	}
	if !round.IsUint64() {
		return 0, xerrors.New(xerrors.CodeReadFailure, "lastRewardRound 超出范围")
	}
	return round.Uint64(), nil
}

// TransferStake moves amount of bonded stake to another delegator.
func (c *Client) TransferStake(ctx context.Context, from web3.Credential, to common.Address, amount *big.Int) (web3.TxHandle, error) {
	zero := common.Address{}
	data, err := c.contracts.bonding.Pack("transferBond", to, amount, zero, zero, zero, zero)
	if err != nil {
		return web3.TxHandle{}, xerrors.Wrap(xerrors.CodeWriteFailure, err, "编码 transferBond 失败")
	}
	return c.transact(ctx, from, c.contracts.BondingManager, nil, data)
}

// WithdrawFees withdraws amount of pending fees to recipient.
func (c *Client) WithdrawFees(ctx context.Context, from web3.Credential, to common.Address, amount *big.Int) (web3.TxHandle, error) {
	data, err := c.contracts.bonding.Pack("withdrawFees", to, amount)
	if err != nil {
		return web3.TxHandle{}, xerrors.Wrap(xerrors.CodeWriteFailure, err, "编码 withdrawFees 失败")
	}
	return c.transact(ctx, from, c.contracts.BondingManager, nil, data)
}

// SweepBalance sends a plain value transfer.
func (c *Client) SweepBalance(ctx context.Context, from web3.Credential, to common.Address, amount *big.Int) (web3.TxHandle, error) {
	return c.transact(ctx, from, to, amount, nil)
}

// FundDeposit tops up the TicketBroker deposit of to with no reserve.
func (c *Client) FundDeposit(ctx context.Context, from web3.Credential, to common.Address, amount *big.Int) (web3.TxHandle, error) {
	data, err := c.contracts.broker.Pack("fundDepositAndReserveFor", to, amount, big.NewInt(0))
	if err != nil {
		return web3.TxHandle{}, xerrors.Wrap(xerrors.CodeWriteFailure, err, "编码 fundDepositAndReserveFor 失败")
	}
	return c.transact(ctx, from, c.contracts.TicketBroker, amount, data)
}

// ClaimReward calls reward() for the orchestrator.
func (c *Client) ClaimReward(ctx context.Context, from web3.Credential) (web3.TxHandle, error) {
	data, err := c.contracts.bonding.Pack("reward")
	if err != nil {
		return web3.TxHandle{}, xerrors.Wrap(xerrors.CodeWriteFailure, err, "编码 reward 失败")
	}
	return c.transact(ctx, from, c.contracts.BondingManager, nil, data)
}

// AwaitConfirmation polls for the receipt until it is mined or ctx expires.
func (c *Client) AwaitConfirmation(ctx context.Context, handle web3.TxHandle) (web3.Receipt, error) {
	ticker := time.NewTicker(c.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, handle.Hash)
		if err == nil && receipt != nil {
			result := web3.Receipt{
				TxHash:  receipt.TxHash,
				GasUsed: receipt.GasUsed,
				Success: receipt.Status == coretypes.ReceiptStatusSuccessful,
			}
			if receipt.BlockNumber != nil {
				result.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if !result.Success {
				return result, xerrors.New(xerrors.CodeTxReverted, "交易执行失败",
					xerrors.WithMetadata("tx", handle.Hash.Hex()))
			}
			return result, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return web3.Receipt{}, xerrors.Wrap(xerrors.CodeWriteFailure, err, "查询交易回执失败",
				xerrors.WithMetadata("tx", handle.Hash.Hex()))
		}

		select {
		case <-ctx.Done():
			return web3.Receipt{}, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待交易回执超时",
				xerrors.WithMetadata("tx", handle.Hash.Hex()))
		case <-ticker.C:
		}
	}
}

func (c *Client) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReadFailure, err, "编码调用失败", xerrors.WithMetadata("method", method))
	}
	raw, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReadFailure, err, "合约调用失败", xerrors.WithMetadata("method", method))
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReadFailure, err, "解码返回值失败", xerrors.WithMetadata("method", method))
	}
	return out, nil
}

// transact builds an EIP-1559 transaction against the pending nonce, signs
// it with the credential and broadcasts it.
func (c *Client) transact(ctx context.Context, from web3.Credential, to common.Address, value *big.Int, data []byte) (web3.TxHandle, error) {
	if !from.Valid() {
		return web3.TxHandle{}, xerrors.New(xerrors.CodeWriteFailure, "缺少签名密钥")
	}
	if value == nil {
		value = new(big.Int)
	}
	sender := from.Address()
	fail := func(err error, msg string) (web3.TxHandle, error) {
		return web3.TxHandle{}, xerrors.Wrap(xerrors.CodeWriteFailure, err, msg,
			xerrors.WithMetadata("account", sender.Hex()),
			xerrors.WithMetadata("to", to.Hex()))
	}

	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return fail(err, "获取链 ID 失败")
	}
	nonce, err := c.backend.PendingNonceAt(ctx, sender)
	if err != nil {
		return fail(err, "获取 nonce 失败")
	}
	tipCap, feeCap, err := c.feeCaps(ctx)
	if err != nil {
		return fail(err, "获取 gas 价格失败")
	}

	gasLimit := c.cfg.GasLimit
	if gasLimit == 0 {
		estimate, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{
			From:      sender,
			To:        &to,
			GasFeeCap: feeCap,
			GasTipCap: tipCap,
			Value:     value,
			Data:      data,
		})
		if err != nil {
			return fail(err, "估算 gas 失败")
		}
		// Arbitrum 的估算在 L1 数据费波动时偏紧。
		gasLimit = estimate + estimate/5
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), from.Key())
	if err != nil {
		return fail(err, "签名交易失败")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return fail(err, "广播交易失败")
	}

	return web3.TxHandle{
		Hash:        signed.Hash(),
		From:        sender,
		Nonce:       nonce,
		SubmittedAt: time.Now(),
		Tx:          signed,
	}, nil
}

func (c *Client) feeCaps(ctx context.Context) (*big.Int, *big.Int, error) {
	tipCap := c.cfg.MaxPriorityFeePerGas
	if tipCap == nil {
		suggested, err := c.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, err
		}
		tipCap = suggested
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	baseFee := new(big.Int)
	if head != nil && head.BaseFee != nil {
		baseFee.Set(head.BaseFee)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tipCap)
	if limit := c.cfg.MaxFeePerGas; limit != nil && feeCap.Cmp(limit) > 0 {
		if baseFee.Cmp(limit) > 0 {
			return nil, nil, fmt.Errorf("base fee %s exceeds max fee %s", baseFee, limit)
		}
		feeCap = new(big.Int).Set(limit)
	}
	if tipCap.Cmp(feeCap) > 0 {
		tipCap = new(big.Int).Set(feeCap)
	}
	return tipCap, feeCap, nil
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	c.chainID = id
	return id, nil
}

func firstBig(out []any, method string) (*big.Int, error) {
	if len(out) == 0 {
		return nil, xerrors.New(xerrors.CodeReadFailure, method+" 返回为空")
	}
	value, ok := out[0].(*big.Int)
	if !ok || value == nil {
		return nil, xerrors.New(xerrors.CodeReadFailure, fmt.Sprintf("%s 返回类型异常: %T", method, out[0]))
	}
	return value, nil
}

var _ web3.Chain = (*Client)(nil)
