package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"OrchestratorSiphon/internal/config"
	"OrchestratorSiphon/internal/keystore"
	"OrchestratorSiphon/internal/siphon"
	"OrchestratorSiphon/internal/web3"
	"OrchestratorSiphon/internal/web3/provider"
)

// dialChain 连接配置中的默认链，返回的关闭函数释放全部连接。
func dialChain(ctx context.Context, cfg *config.Config) (web3.Chain, func(), error) {
	registry, err := provider.NewRegistry(ctx, cfg.RPC, cfg.Gas)
	if err != nil {
		return nil, nil, err
	}
	chain, err := registry.DefaultClient()
	if err != nil {
		registry.Close()
		return nil, nil, err
	}
	return chain, registry.Close, nil
}

// pickAccount 按名称或地址选择账户；未指定时只允许配置一个账户。
func pickAccount(cfg *config.Config, key string) (config.AccountConfig, error) {
	if key == "" {
		if len(cfg.Accounts) != 1 {
			return config.AccountConfig{}, cli.Exit(fmt.Sprintf("配置了 %d 个账户，请用 --account 指定一个", len(cfg.Accounts)), 2)
		}
		return cfg.Accounts[0], nil
	}
	for _, acct := range cfg.Accounts {
		if acct.Name == key || strings.EqualFold(acct.Address, key) {
			return acct, nil
		}
	}
	return config.AccountConfig{}, cli.Exit(fmt.Sprintf("未找到账户 %s", key), 2)
}

// unlockAccount 解锁 keystore 并构建单个账户。
func unlockAccount(cfg *config.Config, key string) (*siphon.Account, error) {
	acctCfg, err := pickAccount(cfg, key)
	if err != nil {
		return nil, err
	}
	cred, err := keystore.Load(keystore.Options{
		Label:    acctCfg.Name,
		Path:     acctCfg.Keystore,
		Password: acctCfg.Password,
		Expected: acctCfg.Address,
		Prompt:   keystore.TerminalPrompt,
	})
	if err != nil {
		return nil, err
	}
	spec, err := siphon.SpecFromConfig(acctCfg, cred)
	if err != nil {
		return nil, err
	}
	return siphon.NewAccount(spec, siphon.IntervalsFromConfig(cfg.Intervals)), nil
}
