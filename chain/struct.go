package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// MaxCallDepth bounds nested contract calls and value-transfer hooks.
const MaxCallDepth = 1024

const (
	// ReceiptStatusFailed is the status of a reverted transaction.
	ReceiptStatusFailed = uint64(0)
	// ReceiptStatusSuccessful is the status of a committed transaction.
	ReceiptStatusSuccessful = uint64(1)
)

var (
	ErrInsufficientFunds = xerrors.New("insufficient funds for transfer")
	ErrNoCode            = xerrors.New("no contract deployed at address")
	ErrNotPayable        = xerrors.New("contract cannot receive value")
	ErrWriteProtection   = xerrors.New("write protection: static call")
	ErrCallDepth         = xerrors.New("max call depth exceeded")
	ErrNonceMismatch     = xerrors.New("nonce mismatch")
	ErrInvalidSignature  = xerrors.New("invalid transaction signature")
	ErrUnknownContract   = xerrors.New("unknown contract id")
	ErrInvalidValue      = xerrors.New("amount is not a uint256")
)

// Contract is the code deployed at an address. Contracts keep their
// mutable state in the ledger storage and reach it through a Context.
type Contract interface {
	ContractID() string
}

// Constructor is implemented by contracts that initialise their storage
// when deployed.
type Constructor interface {
	Init(ctx *Context) error
}

// Receiver is implemented by contracts that accept plain value transfers.
// Returning an error rejects the transfer.
type Receiver interface {
	Receive(ctx *Context) error
}

// ContractFn creates a contract from its encoded constructor parameters.
type ContractFn func(params []byte) (Contract, error)

// TxFn is the body of a transaction or static call.
type TxFn func(ctx *Context) error

// Tx is the signed part of a transaction.
type Tx struct {
	ChainID uint64
	From    common.Address
	To      common.Address
	Value   common.Hash
	Nonce   uint64
	Method  string
}

// Hash returns the keccak256 digest of the protobuf-encoded transaction.
func (tx *Tx) Hash() (common.Hash, error) {
	buf, err := protobuf.Encode(tx)
	if err != nil {
		return common.Hash{}, xerrors.Errorf("couldn't encode tx: %v", err)
	}
	return crypto.Keccak256Hash(buf), nil
}

// SignedTx carries the schnorr signature of the sender over Tx.Hash.
type SignedTx struct {
	Tx        Tx
	Public    []byte
	Signature []byte
}

// Log is an event emitted by a contract. Data is the protobuf encoding of
// the event payload.
type Log struct {
	Index       uint64
	BlockNumber uint64
	TxHash      common.Hash
	Address     common.Address
	Name        string
	Data        []byte
}

// Decode decodes the event payload into v.
func (lg *Log) Decode(v interface{}) error {
	if err := protobuf.Decode(lg.Data, v); err != nil {
		return xerrors.Errorf("couldn't decode %s log: %v", lg.Name, err)
	}
	return nil
}

// Receipt is the outcome of a transaction.
type Receipt struct {
	TxHash          common.Hash
	BlockNumber     uint64
	Status          uint64
	ContractAddress common.Address
	Logs            []*Log
	Err             error
}

// FindLog returns the first log of the receipt with the given name.
func (r *Receipt) FindLog(name string) (*Log, bool) {
	for _, lg := range r.Logs {
		if lg.Name == name {
			return lg, true
		}
	}
	return nil, false
}

// Snapshot is the full, encodable ledger state.
type Snapshot struct {
	ChainID     uint64
	BlockNumber uint64
	Timestamp   uint64
	Accounts    []AccountState
	Code        []CodeState
	Storage     []StorageState
	Logs        []Log
}

// AccountState is the balance and nonce of an address.
type AccountState struct {
	Address common.Address
	Balance common.Hash
	Nonce   uint64
}

// CodeState identifies the contract deployed at an address.
type CodeState struct {
	Address    common.Address
	ContractID string
	Params     []byte
}

// StorageState is one key/value entry of a contract storage.
type StorageState struct {
	Address common.Address
	Key     string
	Value   []byte
}

// CheckAmount fails with ErrInvalidValue unless v fits in a uint256. A nil
// amount is zero.
func CheckAmount(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return xerrors.Errorf("%s: %w", v, ErrInvalidValue)
	}
	return nil
}

// BigToHash encodes a non-negative amount as a 32-byte big-endian word.
func BigToHash(v *big.Int) common.Hash {
	if v == nil {
		return common.Hash{}
	}
	return common.BigToHash(v)
}
