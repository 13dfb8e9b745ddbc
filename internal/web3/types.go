package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Credential pairs an account address with the key that signs for it.
type Credential struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

// NewCredential derives the address from key.
func NewCredential(key *ecdsa.PrivateKey) Credential {
	if key == nil {
		return Credential{}
	}
	return Credential{address: crypto.PubkeyToAddress(key.PublicKey), key: key}
}

// Address returns the signing address.
func (c Credential) Address() common.Address { return c.address }

// Key returns the private key used for signing.
func (c Credential) Key() *ecdsa.PrivateKey { return c.key }

// Valid reports whether the credential carries a key.
func (c Credential) Valid() bool { return c.key != nil }

// String never prints key material.
func (c Credential) String() string { return c.address.Hex() }

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash        common.Hash
	From        common.Address
	Nonce       uint64
	SubmittedAt time.Time
	Tx          *coretypes.Transaction
}

// Receipt summarises a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// Reader covers the side-effect free chain reads.
type Reader interface {
	PendingStake(ctx context.Context, account common.Address) (*big.Int, error)
	PendingFees(ctx context.Context, account common.Address) (*big.Int, error)
	WalletBalance(ctx context.Context, account common.Address) (*big.Int, error)
	CurrentRound(ctx context.Context) (uint64, error)
	RoundLocked(ctx context.Context) (bool, error)
	LastClaimedRound(ctx context.Context, account common.Address) (uint64, error)
}

// Writer covers the mutating calls. Every call builds, signs and broadcasts
// one transaction and returns without waiting for it to be mined.
type Writer interface {
	TransferStake(ctx context.Context, from Credential, to common.Address, amount *big.Int) (TxHandle, error)
	WithdrawFees(ctx context.Context, from Credential, to common.Address, amount *big.Int) (TxHandle, error)
	SweepBalance(ctx context.Context, from Credential, to common.Address, amount *big.Int) (TxHandle, error)
	FundDeposit(ctx context.Context, from Credential, to common.Address, amount *big.Int) (TxHandle, error)
	ClaimReward(ctx context.Context, from Credential) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, handle TxHandle) (Receipt, error)
}

// Chain is the full surface the engine depends on.
type Chain interface {
	Reader
	Writer
	Close()
}
