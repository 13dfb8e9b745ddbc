package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"OrchestratorSiphon/internal/config"
	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/web3"
	"OrchestratorSiphon/internal/web3/livepeer"
)

// Dialer builds a chain client; replaced in tests.
type Dialer func(ctx context.Context, cfg livepeer.Config) (web3.Chain, error)

func dialLivepeer(ctx context.Context, cfg livepeer.Config) (web3.Chain, error) {
	return livepeer.NewClient(ctx, cfg)
}

// Registry resolves the configured chain definitions into dialed clients.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Chain
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, rpc config.RPCConfig, gas config.GasConfig) (*Registry, error) {
	return newRegistry(ctx, rpc, gas, dialLivepeer)
}

func newRegistry(ctx context.Context, rpc config.RPCConfig, gas config.GasConfig, dial Dialer) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(rpc.ChainConfig)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, "加载链定义失败")
	}

	maxFee, tip := gas.GasPrices()
	base := livepeer.Config{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		GasLimit:             gas.GasLimit,
	}

	clients := make(map[string]web3.Chain)
	closeAll := func() {
		for _, client := range clients {
			client.Close()
		}
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "arbitrum"
		}
		switch chainType {
		case "arbitrum", "evm":
		default:
			closeAll()
			return nil, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("链 %s 使用了不支持的类型 %s", name, chain.Type))
		}
		cfg := base
		cfg.Name = name
		cfg.RPCURL = chain.RPCURL
		cfg.ChainID = chain.ChainID
		cfg.Contracts = chain.Contracts
		client, err := dial(ctx, cfg)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}

	defaultChain := strings.TrimSpace(rpc.Chain)
	if len(clients) == 0 && strings.TrimSpace(rpc.L2) != "" {
		cfg := base
		cfg.Name = "l2"
		cfg.RPCURL = rpc.L2
		cfg.ChainID = rpc.ChainID
		cfg.Contracts = rpc.Contracts
		client, err := dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		clients[cfg.Name] = client
	}

	if len(clients) == 0 {
		return nil, xerrors.New(xerrors.CodeConfigFailure, "未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		closeAll()
		return nil, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("默认链 %s 未在配置中找到", defaultChain))
	}

	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// DefaultClient returns the client the engine runs against.
func (r *Registry) DefaultClient() (web3.Chain, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeConfigFailure, "未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("默认链 %s 未在注册表中", r.defaultChain))
	}
	return client, nil
}

// DefaultName returns the selected chain name.
func (r *Registry) DefaultName() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Chain, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
