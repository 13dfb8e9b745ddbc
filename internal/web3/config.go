package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint and the Livepeer
// contract deployment on it.
type ChainDefinition struct {
	Type        string            `yaml:"type"`
	RPCURL      string            `yaml:"rpc_url"`
	ChainID     int64             `yaml:"chain_id"`
	Description string            `yaml:"description"`
	Contracts   ContractAddresses `yaml:"contracts"`
}

// ContractAddresses lists the Livepeer protocol contracts. Empty fields fall
// back to the Arbitrum One deployment.
type ContractAddresses struct {
	BondingManager string `yaml:"bonding_manager" json:"bonding_manager"`
	RoundsManager  string `yaml:"rounds_manager" json:"rounds_manager"`
	TicketBroker   string `yaml:"ticket_broker" json:"ticket_broker"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
