package livepeer

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"OrchestratorSiphon/internal/web3"
)

//go:embed abi/*.json
var abiFiles embed.FS

// Arbitrum One 上的 Livepeer 合约地址。
var (
	DefaultBondingManager = common.HexToAddress("0x35Bcf3c30594191d53231E4FF333E8A770453e40")
	DefaultRoundsManager  = common.HexToAddress("0xdd6f56DcC28D3F5f27084381fE8Df634985cc39f")
	DefaultTicketBroker   = common.HexToAddress("0xa8bB618B1520E284046F3dFc448851A1Ff26e41B")
)

// pendingEndRound 足够大，让 pendingStake/pendingFees 计算到当前轮次为止。
var pendingEndRound = big.NewInt(99999)

// Contracts bundles the parsed ABIs with the resolved contract addresses.
type Contracts struct {
	BondingManager common.Address
	RoundsManager  common.Address
	TicketBroker   common.Address

	bonding abi.ABI
	rounds  abi.ABI
	broker  abi.ABI
}

// LoadContracts parses the embedded ABIs. Empty addresses fall back to the
// Arbitrum One deployment.
func LoadContracts(addrs web3.ContractAddresses) (*Contracts, error) {
	c := &Contracts{
		BondingManager: pickAddress(addrs.BondingManager, DefaultBondingManager),
		RoundsManager:  pickAddress(addrs.RoundsManager, DefaultRoundsManager),
		TicketBroker:   pickAddress(addrs.TicketBroker, DefaultTicketBroker),
	}
	var err error
	if c.bonding, err = loadABI("BondingManager"); err != nil {
		return nil, err
	}
	if c.rounds, err = loadABI("RoundsManager"); err != nil {
		return nil, err
	}
	if c.broker, err = loadABI("TicketBroker"); err != nil {
		return nil, err
	}
	return c, nil
}

// loadABI 读取与 Livepeer 构建产物相同格式的文件（ABI 位于 "abi" 字段）。
func loadABI(name string) (abi.ABI, error) {
	raw, err := abiFiles.ReadFile("abi/" + name + ".json")
	if err != nil {
		return abi.ABI{}, fmt.Errorf("读取 %s ABI 失败: %w", name, err)
	}
	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("解析 %s 构建产物失败: %w", name, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(artifact.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("解析 %s ABI 失败: %w", name, err)
	}
	return parsed, nil
}

func pickAddress(configured string, fallback common.Address) common.Address {
	if common.IsHexAddress(configured) {
		return common.HexToAddress(configured)
	}
	return fallback
}
