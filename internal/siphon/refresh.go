package siphon

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"OrchestratorSiphon/internal/cache"
	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/observability/metrics"
	"OrchestratorSiphon/internal/web3"
)

// refresher 按类别刷新账户缓存，类别之间互不影响。
type refresher struct {
	reader   web3.Reader
	parallel bool
}

// counted 在读取失败时累加 siphon_read_failures_total。
func counted[T any](category Category, fetch cache.FetchFunc[T]) cache.FetchFunc[T] {
	return func() (T, error) {
		value, err := fetch()
		if err != nil {
			metrics.ObserveReadFailure(string(category))
		}
		return value, err
	}
}

func (r *refresher) fetcher(ctx context.Context, acct *Account, category Category) func(now time.Time, force bool) {
	addr := acct.Address()
	name := acct.Name() + "/" + string(category)
	amount := func(v *cache.Value[*big.Int], read func(context.Context, common.Address) (*big.Int, error)) func(time.Time, bool) {
		fetch := counted(category, func() (*big.Int, error) { return read(ctx, addr) })
		return func(now time.Time, force bool) {
			if force {
				refreshNow(v, now, name, fetch)
				return
			}
			v.RefreshIfStale(now, name, fetch)
		}
	}

	switch category {
	case CategoryStake:
		return amount(acct.PendingStake, r.reader.PendingStake)
	case CategoryFees:
		return amount(acct.PendingFees, r.reader.PendingFees)
	case CategoryBalance:
		return amount(acct.WalletBalance, r.reader.WalletBalance)
	case CategoryReward:
		v := acct.LastClaimedRound
		fetch := counted(category, func() (uint64, error) {
			fetched, err := r.reader.LastClaimedRound(ctx, addr)
			if err != nil {
				return 0, err
			}
			// RPC 节点落后时可能读到更旧的值，取较大者避免同一轮次重复领取。
			if cached := v.Get(); v.Fetched() && fetched < cached {
				return cached, nil
			}
			return fetched, nil
		})
		return func(now time.Time, force bool) {
			if force {
				refreshNow(v, now, name, fetch)
				return
			}
			v.RefreshIfStale(now, name, fetch)
		}
	default:
		return func(time.Time, bool) {}
	}
}

// RefreshAccount 刷新账户所有过期的类别。
func (r *refresher) RefreshAccount(ctx context.Context, now time.Time, acct *Account) {
	if !r.parallel {
		for _, category := range Categories {
			r.fetcher(ctx, acct, category)(now, false)
		}
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(Categories))
	for _, category := range Categories {
		refresh := r.fetcher(gctx, acct, category)
		g.Go(func() error {
			refresh(now, false)
			return nil
		})
	}
	_ = g.Wait()
}

// ForceRefresh 忽略 TTL 立即刷新一个类别，用于动作成功之后。
func (r *refresher) ForceRefresh(ctx context.Context, now time.Time, acct *Account, category Category) {
	r.fetcher(ctx, acct, category)(now, true)
}

// refreshNow 失败时令缓存立即过期，下一个 tick 会重新读取。
func refreshNow[T any](v *cache.Value[T], now time.Time, name string, fetch cache.FetchFunc[T]) {
	if _, err := v.Refresh(now, fetch); err != nil {
		v.Invalidate()
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(xerrors.CodeReadFailure, err, "刷新缓存失败")
		}
		componentLog().Log(context.Background(), xerrors.LogLevel(err), "强制刷新失败，保留旧值",
			slog.String("value", name),
			slog.Any("error", err),
		)
	}
}
