package siphon

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"OrchestratorSiphon/internal/config"
	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/observability/alerting"
	"OrchestratorSiphon/internal/web3"
)

var (
	feeReceiver   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	stakeReceiver = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	epoch         = time.Unix(1_700_000_000, 0)
)

func tokens(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := web3.ParseAmount(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

type writeCall struct {
	method string
	to     common.Address
	amount *big.Int
}

// fakeChain 模拟一个 orchestrator 的链上状态，写操作会立即改变读取结果。
type fakeChain struct {
	mu sync.Mutex

	stake, fees, balance *big.Int
	round                uint64
	locked               bool
	lastClaimed          uint64

	readErr   map[string]error
	submitErr error
	awaitErr  error

	reads  map[string]int
	writes []writeCall
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		stake:   new(big.Int),
		fees:    new(big.Int),
		balance: new(big.Int),
		readErr: map[string]error{},
		reads:   map[string]int{},
	}
}

func (f *fakeChain) read(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[name]++
	return f.readErr[name]
}

func (f *fakeChain) set(fn func(*fakeChain)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeChain) calls() []writeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]writeCall(nil), f.writes...)
}

func (f *fakeChain) readCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[name]
}

func (f *fakeChain) PendingStake(context.Context, common.Address) (*big.Int, error) {
	if err := f.read("stake"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.stake), nil
}

func (f *fakeChain) PendingFees(context.Context, common.Address) (*big.Int, error) {
	if err := f.read("fees"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.fees), nil
}

func (f *fakeChain) WalletBalance(context.Context, common.Address) (*big.Int, error) {
	if err := f.read("balance"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) CurrentRound(context.Context) (uint64, error) {
	if err := f.read("round"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.round, nil
}

func (f *fakeChain) RoundLocked(context.Context) (bool, error) {
	if err := f.read("locked"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked, nil
}

func (f *fakeChain) LastClaimedRound(context.Context, common.Address) (uint64, error) {
	if err := f.read("reward"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastClaimed, nil
}

func (f *fakeChain) submit(from web3.Credential, call writeCall, apply func()) (web3.TxHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, call)
	if f.submitErr != nil {
		return web3.TxHandle{}, f.submitErr
	}
	if f.awaitErr == nil {
		apply()
	}
	return web3.TxHandle{Hash: common.BytesToHash([]byte(call.method)), From: from.Address(), Nonce: uint64(len(f.writes))}, nil
}

func (f *fakeChain) TransferStake(_ context.Context, from web3.Credential, to common.Address, amount *big.Int) (web3.TxHandle, error) {
	return f.submit(from, writeCall{"transferBond", to, amount}, func() { f.stake.Sub(f.stake, amount) })
}

func (f *fakeChain) WithdrawFees(_ context.Context, from web3.Credential, to common.Address, amount *big.Int) (web3.TxHandle, error) {
	return f.submit(from, writeCall{"withdrawFees", to, amount}, func() {
		f.fees.Sub(f.fees, amount)
		if to == from.Address() {
			f.balance.Add(f.balance, amount)
		}
	})
}

func (f *fakeChain) SweepBalance(_ context.Context, from web3.Credential, to common.Address, amount *big.Int) (web3.TxHandle, error) {
	return f.submit(from, writeCall{"transfer", to, amount}, func() { f.balance.Sub(f.balance, amount) })
}

func (f *fakeChain) FundDeposit(_ context.Context, from web3.Credential, to common.Address, amount *big.Int) (web3.TxHandle, error) {
	return f.submit(from, writeCall{"fundDepositAndReserveFor", to, amount}, func() { f.balance.Sub(f.balance, amount) })
}

func (f *fakeChain) ClaimReward(_ context.Context, from web3.Credential) (web3.TxHandle, error) {
	return f.submit(from, writeCall{method: "reward"}, func() { f.lastClaimed = f.round })
}

func (f *fakeChain) AwaitConfirmation(_ context.Context, handle web3.TxHandle) (web3.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.awaitErr != nil {
		return web3.Receipt{TxHash: handle.Hash}, f.awaitErr
	}
	return web3.Receipt{TxHash: handle.Hash, BlockNumber: 1, Success: true}, nil
}

func (f *fakeChain) Close() {}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) kinds() []alerting.Kind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]alerting.Kind, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Kind)
	}
	return out
}

type engineFixture struct {
	chain      *fakeChain
	engine     *Engine
	account    *Account
	dispatcher *recordingDispatcher
}

func testThresholds(t *testing.T) Thresholds {
	th, err := ThresholdsFromConfig(config.ThresholdConfig{
		StakeThreshold:     "100",
		StakeMinRetained:   "1",
		FeeThreshold:       "0.2",
		BalanceThreshold:   "0.2",
		BalanceMinRetained: "0.02",
	})
	if err != nil {
		t.Fatalf("thresholds: %v", err)
	}
	return th
}

func testIntervals() Intervals {
	return Intervals{
		Round:        15 * time.Minute,
		Stake:        4 * time.Hour,
		Fees:         4 * time.Hour,
		Balance:      4 * time.Hour,
		Reward:       15 * time.Minute,
		Idle:         time.Minute,
		Confirmation: time.Second,
	}
}

func newFixture(t *testing.T, mutate func(*Options, *AccountSpec)) *engineFixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	spec := AccountSpec{
		Name:          "orch",
		Credential:    web3.NewCredential(key),
		FeeReceiver:   feeReceiver,
		StakeReceiver: stakeReceiver,
	}
	chain := newFakeChain()
	dispatcher := &recordingDispatcher{}
	opts := Options{
		Chain:      chain,
		Thresholds: testThresholds(t),
		Intervals:  testIntervals(),
		Dispatcher: dispatcher,
		Now:        func() time.Time { return epoch },
	}
	if mutate != nil {
		mutate(&opts, &spec)
	}
	acct := NewAccount(spec, opts.Intervals)
	opts.Accounts = []*Account{acct}
	engine, err := New(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &engineFixture{chain: chain, engine: engine, account: acct, dispatcher: dispatcher}
}

func assertCalls(t *testing.T, got []writeCall, want ...string) {
	t.Helper()
	methods := make([]string, 0, len(got))
	for _, c := range got {
		methods = append(methods, c.method)
	}
	if strings.Join(methods, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected writes %v, want %v", methods, want)
	}
}

func TestStakeTransferWaitsForLockedRound(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chain.set(func(c *fakeChain) {
		c.round = 3000
		c.stake = tokens(t, "150")
	})

	fx.engine.RunTick(context.Background(), epoch)
	assertCalls(t, fx.chain.calls())

	// 锁定状态要等轮次缓存过期后才会被读到。
	fx.chain.set(func(c *fakeChain) { c.locked = true })
	fx.engine.RunTick(context.Background(), epoch.Add(time.Minute))
	assertCalls(t, fx.chain.calls())
	if fx.chain.readCount("stake") != 1 {
		t.Fatalf("stake must not be re-read before its ttl, got %d reads", fx.chain.readCount("stake"))
	}

	fx.engine.RunTick(context.Background(), epoch.Add(16*time.Minute))
	calls := fx.chain.calls()
	assertCalls(t, calls, "transferBond")
	if calls[0].to != stakeReceiver || calls[0].amount.Cmp(tokens(t, "149")) != 0 {
		t.Fatalf("unexpected transfer %+v", calls[0])
	}
	if got := fx.account.PendingStake.Get(); got.Cmp(tokens(t, "1")) != 0 {
		t.Fatalf("stake must be force refreshed after confirmation, got %s", got)
	}
}

func TestNeverFetchedValuesDispatchNothing(t *testing.T) {
	fx := newFixture(t, func(_ *Options, spec *AccountSpec) { spec.CallReward = true })
	boom := errors.New("rpc unavailable")
	fx.chain.set(func(c *fakeChain) {
		c.stake = tokens(t, "500")
		c.fees = tokens(t, "5")
		c.balance = tokens(t, "5")
		c.locked = true
		c.round = 10
		for _, name := range []string{"stake", "fees", "balance", "round", "reward"} {
			c.readErr[name] = boom
		}
	})

	fx.engine.RunTick(context.Background(), epoch)
	assertCalls(t, fx.chain.calls())
	if fx.account.PendingStake.Fetched() || fx.engine.Gate().Fetched() {
		t.Fatal("failed reads must leave values unfetched")
	}
	if !fx.account.PendingFees.IsStale(epoch) {
		t.Fatal("failed reads must stay stale so the next tick retries")
	}
}

func TestFeesWithdrawToSelfThenSweep(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chain.set(func(c *fakeChain) {
		c.round = 1
		c.fees = tokens(t, "0.5")
		c.balance = tokens(t, "0.01")
	})

	fx.engine.RunTick(context.Background(), epoch)
	calls := fx.chain.calls()
	assertCalls(t, calls, "withdrawFees", "transfer")
	if calls[0].to != fx.account.Address() || calls[0].amount.Cmp(tokens(t, "0.5")) != 0 {
		t.Fatalf("fees should be withdrawn to the orchestrator itself: %+v", calls[0])
	}
	if calls[1].to != feeReceiver || calls[1].amount.Cmp(tokens(t, "0.49")) != 0 {
		t.Fatalf("refreshed balance should be swept down to the retained floor: %+v", calls[1])
	}
	if got := fx.account.WalletBalance.Get(); got.Cmp(tokens(t, "0.02")) != 0 {
		t.Fatalf("unexpected balance after sweep %s", got)
	}
}

func TestFeesWithdrawToReceiverWhenWalletFunded(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chain.set(func(c *fakeChain) {
		c.fees = tokens(t, "0.3")
		c.balance = tokens(t, "0.1")
	})

	fx.engine.RunTick(context.Background(), epoch)
	calls := fx.chain.calls()
	assertCalls(t, calls, "withdrawFees")
	if calls[0].to != feeReceiver {
		t.Fatalf("fees should go to the receiver, got %s", calls[0].to.Hex())
	}
}

func TestFeesBelowThresholdAreLeft(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chain.set(func(c *fakeChain) {
		c.fees = tokens(t, "0.19")
		c.balance = tokens(t, "0.1")
	})
	fx.engine.RunTick(context.Background(), epoch)
	assertCalls(t, fx.chain.calls())
}

func TestRewardClaimedOncePerRound(t *testing.T) {
	fx := newFixture(t, func(_ *Options, spec *AccountSpec) { spec.CallReward = true })
	fx.chain.set(func(c *fakeChain) {
		c.round = 100
		c.lastClaimed = 99
	})

	fx.engine.RunTick(context.Background(), epoch)
	assertCalls(t, fx.chain.calls(), "reward")
	if fx.account.LastClaimedRound.Get() != 100 {
		t.Fatalf("claim must record the round, got %d", fx.account.LastClaimedRound.Get())
	}

	fx.engine.RunTick(context.Background(), epoch.Add(time.Minute))
	assertCalls(t, fx.chain.calls(), "reward")

	// 节点落后时读到旧值，不得再次领取。
	fx.chain.set(func(c *fakeChain) { c.lastClaimed = 98 })
	fx.engine.RunTick(context.Background(), epoch.Add(16*time.Minute))
	assertCalls(t, fx.chain.calls(), "reward")
	if fx.account.LastClaimedRound.Get() != 100 {
		t.Fatalf("last claimed round must never move backwards, got %d", fx.account.LastClaimedRound.Get())
	}

	fx.chain.set(func(c *fakeChain) {
		c.round = 101
		c.lastClaimed = 100
	})
	fx.engine.RunTick(context.Background(), epoch.Add(32*time.Minute))
	assertCalls(t, fx.chain.calls(), "reward", "reward")

	kinds := fx.dispatcher.kinds()
	var advanced int
	for _, k := range kinds {
		if k == alerting.KindRoundAdvanced {
			advanced++
		}
	}
	if advanced != 1 {
		t.Fatalf("expected one round_advanced event, got %v", kinds)
	}
}

func TestRewardDisabledAccountNeverClaims(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chain.set(func(c *fakeChain) { c.round = 5 })
	fx.engine.RunTick(context.Background(), epoch)
	assertCalls(t, fx.chain.calls())
}

func TestRewardSkippedWhileLastClaimedUnknown(t *testing.T) {
	fx := newFixture(t, func(_ *Options, spec *AccountSpec) { spec.CallReward = true })
	fx.chain.set(func(c *fakeChain) {
		c.round = 10
		c.lastClaimed = 10
		c.readErr["reward"] = errors.New("rpc unavailable")
	})

	fx.engine.RunTick(context.Background(), epoch)
	assertCalls(t, fx.chain.calls())
	if fx.account.LastClaimedRound.Fetched() {
		t.Fatal("failed read must leave the last claimed round unfetched")
	}

	// 读取恢复后得知本轮已领取，依旧不得领取。
	fx.chain.set(func(c *fakeChain) { delete(c.readErr, "reward") })
	fx.engine.RunTick(context.Background(), epoch.Add(16*time.Minute))
	assertCalls(t, fx.chain.calls())
	if fx.chain.readCount("reward") != 2 {
		t.Fatalf("last claimed round should be retried, got %d reads", fx.chain.readCount("reward"))
	}
	if got := fx.account.LastClaimedRound.Get(); got != 10 {
		t.Fatalf("unexpected last claimed round %d", got)
	}
}

func TestBalanceReadFailureRetainsValueAndRetries(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chain.set(func(c *fakeChain) {
		c.round = 1
		c.balance = tokens(t, "0.1")
	})
	fx.engine.RunTick(context.Background(), epoch)
	if fx.chain.readCount("balance") != 1 {
		t.Fatalf("expected one balance read, got %d", fx.chain.readCount("balance"))
	}

	failedAt := epoch.Add(4*time.Hour + time.Minute)
	fx.chain.set(func(c *fakeChain) {
		c.balance = tokens(t, "0.15")
		c.readErr["balance"] = errors.New("rpc unavailable")
	})
	fx.engine.RunTick(context.Background(), failedAt)
	if fx.chain.readCount("balance") != 2 {
		t.Fatalf("stale balance should be re-read, got %d reads", fx.chain.readCount("balance"))
	}
	if got := fx.account.WalletBalance.Get(); got.Cmp(tokens(t, "0.1")) != 0 {
		t.Fatalf("failed read must keep the previous balance, got %s", got)
	}
	if !fx.account.WalletBalance.IsStale(failedAt) {
		t.Fatal("failed read must keep the balance stale")
	}

	fx.chain.set(func(c *fakeChain) { delete(c.readErr, "balance") })
	fx.engine.RunTick(context.Background(), failedAt.Add(time.Minute))
	if fx.chain.readCount("balance") != 3 {
		t.Fatalf("balance should be retried on the next tick, got %d reads", fx.chain.readCount("balance"))
	}
	if got := fx.account.WalletBalance.Get(); got.Cmp(tokens(t, "0.15")) != 0 {
		t.Fatalf("retried read should update the balance, got %s", got)
	}
	assertCalls(t, fx.chain.calls())
}

func TestRoundRegressionKeepsCachedRound(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chain.set(func(c *fakeChain) { c.round = 100 })
	fx.engine.RunTick(context.Background(), epoch)

	fx.chain.set(func(c *fakeChain) { c.round = 90 })
	fx.engine.RunTick(context.Background(), epoch.Add(16*time.Minute))
	if fx.engine.Gate().Round() != 100 {
		t.Fatalf("round must not regress, got %d", fx.engine.Gate().Round())
	}
	if !fx.engine.Gate().IsStale(epoch.Add(16 * time.Minute)) {
		t.Fatal("rejected read must keep the gate stale")
	}

	fx.chain.set(func(c *fakeChain) { c.round = 101 })
	fx.engine.RunTick(context.Background(), epoch.Add(17*time.Minute))
	if fx.engine.Gate().Round() != 101 {
		t.Fatalf("round should advance, got %d", fx.engine.Gate().Round())
	}
}

func TestFixedSweepRequiresFullAmount(t *testing.T) {
	fx := newFixture(t, func(opts *Options, _ *AccountSpec) {
		opts.Thresholds.FixedSweepAmount = tokens(t, "0.5")
	})
	fx.chain.set(func(c *fakeChain) { c.balance = tokens(t, "0.4") })
	fx.engine.RunTick(context.Background(), epoch)
	assertCalls(t, fx.chain.calls())

	fx.chain.set(func(c *fakeChain) { c.balance = tokens(t, "0.6") })
	fx.engine.RunTick(context.Background(), epoch.Add(5*time.Hour))
	calls := fx.chain.calls()
	assertCalls(t, calls, "transfer")
	if calls[0].amount.Cmp(tokens(t, "0.5")) != 0 {
		t.Fatalf("fixed sweep should move exactly the fixed amount, got %s", calls[0].amount)
	}
}

func TestDepositModeFundsReceiver(t *testing.T) {
	fx := newFixture(t, func(opts *Options, _ *AccountSpec) {
		opts.Thresholds.SweepMode = SweepDeposit
	})
	fx.chain.set(func(c *fakeChain) { c.balance = tokens(t, "1") })
	fx.engine.RunTick(context.Background(), epoch)
	calls := fx.chain.calls()
	assertCalls(t, calls, "fundDepositAndReserveFor")
	if calls[0].to != feeReceiver || calls[0].amount.Cmp(tokens(t, "0.98")) != 0 {
		t.Fatalf("unexpected deposit %+v", calls[0])
	}
}

func TestSubmitFailureLeavesCachesUntouched(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chain.set(func(c *fakeChain) {
		c.locked = true
		c.stake = tokens(t, "150")
		c.submitErr = errors.New("nonce too low")
	})

	fx.engine.RunTick(context.Background(), epoch)
	assertCalls(t, fx.chain.calls(), "transferBond")
	if fx.account.PendingStake.Get().Cmp(tokens(t, "150")) != 0 || !fx.account.PendingStake.RefreshedAt().Equal(epoch) {
		t.Fatal("failed action must not touch the cache")
	}
	kinds := fx.dispatcher.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != alerting.KindActionFailed {
		t.Fatalf("expected action_failed event, got %v", kinds)
	}

	fx.chain.set(func(c *fakeChain) { c.submitErr = nil })
	fx.engine.RunTick(context.Background(), epoch.Add(time.Minute))
	assertCalls(t, fx.chain.calls(), "transferBond", "transferBond")
}

func TestRevertedClaimIsRetried(t *testing.T) {
	fx := newFixture(t, func(_ *Options, spec *AccountSpec) { spec.CallReward = true })
	fx.chain.set(func(c *fakeChain) {
		c.round = 7
		c.lastClaimed = 6
		c.awaitErr = xerrors.New(xerrors.CodeTxReverted, "reverted")
	})

	fx.engine.RunTick(context.Background(), epoch)
	if fx.account.LastClaimedRound.Get() != 6 {
		t.Fatalf("reverted claim must not record the round, got %d", fx.account.LastClaimedRound.Get())
	}

	fx.chain.set(func(c *fakeChain) { c.awaitErr = nil })
	fx.engine.RunTick(context.Background(), epoch.Add(time.Minute))
	assertCalls(t, fx.chain.calls(), "reward", "reward")
	if fx.account.LastClaimedRound.Get() != 7 {
		t.Fatalf("confirmed claim should record the round, got %d", fx.account.LastClaimedRound.Get())
	}
}

func TestExecutorReportsCodedErrors(t *testing.T) {
	chain := newFakeChain()
	chain.submitErr = errors.New("connection refused")
	key, _ := crypto.GenerateKey()
	acct := NewAccount(AccountSpec{Name: "orch", Credential: web3.NewCredential(key)}, testIntervals())

	res := NewExecutor(chain, nil, time.Second, false).Execute(context.Background(), acct, RewardClaim{Round: 1})
	if res.Status != TxFailed || !xerrors.Is(res.Err, xerrors.CodeWriteFailure) {
		t.Fatalf("expected write failure, got %+v", res)
	}

	chain.submitErr = nil
	chain.awaitErr = xerrors.New(xerrors.CodeTimeout, "timed out")
	res = NewExecutor(chain, nil, time.Second, false).Execute(context.Background(), acct, RewardClaim{Round: 1})
	if res.Status != TxFailed || !xerrors.Is(res.Err, xerrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestDryRunSubmitsNothing(t *testing.T) {
	fx := newFixture(t, func(opts *Options, spec *AccountSpec) {
		opts.DryRun = true
		spec.CallReward = true
	})
	fx.chain.set(func(c *fakeChain) {
		c.round = 9
		c.locked = true
		c.stake = tokens(t, "200")
		c.fees = tokens(t, "1")
		c.balance = tokens(t, "1")
	})
	fx.engine.RunTick(context.Background(), epoch)
	assertCalls(t, fx.chain.calls())
	if !fx.engine.Snapshot().DryRun {
		t.Fatal("snapshot should report dry run")
	}
}

func TestParallelReadsMatchSequential(t *testing.T) {
	fx := newFixture(t, func(opts *Options, _ *AccountSpec) { opts.ParallelReads = true })
	fx.chain.set(func(c *fakeChain) {
		c.stake = tokens(t, "3")
		c.fees = tokens(t, "0.01")
		c.balance = tokens(t, "0.05")
		c.readErr["fees"] = errors.New("flaky")
	})
	fx.engine.RunTick(context.Background(), epoch)

	if fx.account.PendingStake.Get().Cmp(tokens(t, "3")) != 0 || fx.account.WalletBalance.Get().Cmp(tokens(t, "0.05")) != 0 {
		t.Fatal("parallel reads should populate every healthy category")
	}
	if fx.account.PendingFees.Fetched() {
		t.Fatal("failing category must not affect the others nor be marked fetched")
	}
}

func TestSnapshotReflectsCaches(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chain.set(func(c *fakeChain) {
		c.round = 42
		c.stake = tokens(t, "12.5")
	})
	fx.engine.RunTick(context.Background(), epoch)

	snap := fx.engine.Snapshot()
	if snap.Ticks != 1 || !snap.LastTick.Equal(epoch) || snap.Round.Round != 42 {
		t.Fatalf("unexpected snapshot header %+v", snap)
	}
	acct, ok := snap.Account(strings.ToLower(fx.account.Address().Hex()))
	if !ok {
		t.Fatal("account lookup by address failed")
	}
	if acct.PendingStake.Amount != "12.5" || !acct.PendingStake.Fetched {
		t.Fatalf("unexpected stake view %+v", acct.PendingStake)
	}
	if _, ok := snap.Account("orch"); !ok {
		t.Fatal("account lookup by name failed")
	}
}

type chanSink chan Snapshot

func (c chanSink) Save(_ context.Context, snap Snapshot) error {
	c <- snap
	return nil
}

func TestRunPauseResumeAndStop(t *testing.T) {
	sink := make(chanSink, 4)
	fx := newFixture(t, func(opts *Options, _ *AccountSpec) {
		opts.Intervals.Idle = time.Hour
		opts.Sinks = []SnapshotSink{sink}
	})
	fx.engine.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.engine.Run(ctx) }()

	select {
	case <-sink:
		t.Fatal("paused engine must not tick")
	case <-time.After(50 * time.Millisecond):
	}

	fx.engine.Resume()
	select {
	case snap := <-sink:
		if snap.Paused || snap.Ticks != 1 {
			t.Fatalf("unexpected snapshot after resume %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resume should wake the loop")
	}

	fx.engine.Wake()
	select {
	case <-sink:
	case <-time.After(2 * time.Second):
		t.Fatal("wake should trigger an early tick")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run should return nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestSleeperCoalescesWakes(t *testing.T) {
	s := NewSleeper()
	s.Wake()
	s.Wake()
	woken, err := s.Wait(context.Background(), time.Hour)
	if err != nil || !woken {
		t.Fatalf("expected early wake, got %v %v", woken, err)
	}
	woken, err = s.Wait(context.Background(), 10*time.Millisecond)
	if err != nil || woken {
		t.Fatalf("wakes should coalesce, got %v %v", woken, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNewRejectsIncompleteOptions(t *testing.T) {
	if _, err := New(Options{}); !xerrors.Is(err, xerrors.CodeConfigFailure) {
		t.Fatalf("expected config failure, got %v", err)
	}
	if _, err := ThresholdsFromConfig(config.ThresholdConfig{StakeThreshold: "abc"}); !xerrors.Is(err, xerrors.CodeConfigFailure) {
		t.Fatalf("expected config failure, got %v", err)
	}
}
