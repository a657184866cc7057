package vrf

import (
	"math/big"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/vrf/base"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/xerrors"
)

const (
	MaxNumWords         = 500
	MaxConsumers        = 100
	MaxCallbackGasLimit = 2500000
)

// Event names emitted by the coordinator.
const (
	EventSubscriptionCreated          = "SubscriptionCreated"
	EventSubscriptionFunded           = "SubscriptionFunded"
	EventSubscriptionFundedWithNative = "SubscriptionFundedWithNative"
	EventSubscriptionConsumerAdded    = "SubscriptionConsumerAdded"
	EventSubscriptionConsumerRemoved  = "SubscriptionConsumerRemoved"
	EventSubscriptionCanceled         = "SubscriptionCanceled"
	EventRandomWordsRequested         = "RandomWordsRequested"
	EventRandomWordsFulfilled         = "RandomWordsFulfilled"
)

var (
	ErrInvalidSubscription = xerrors.New("invalid subscription")
	ErrInvalidRequest      = xerrors.New("invalid request")
	ErrMustBeSubOwner      = xerrors.New("must be subscription owner")
	ErrTooManyConsumers    = xerrors.New("too many consumers")
	ErrNumWordsTooBig      = xerrors.New("num words too big")
	ErrGasLimitTooBig      = xerrors.New("callback gas limit too big")
	ErrInsufficientBalance = xerrors.New("insufficient subscription balance")
)

// InvalidConsumerError is returned when a contract that is not registered
// on a subscription requests randomness from it. It is an
// ErrInvalidSubscription.
type InvalidConsumerError struct {
	SubID    *big.Int
	Consumer common.Address
}

func (e *InvalidConsumerError) Error() string {
	return "invalid consumer " + e.Consumer.Hex() + " for subscription " + e.SubID.String()
}

// Is makes the error match ErrInvalidSubscription.
func (e *InvalidConsumerError) Is(target error) bool {
	return target == ErrInvalidSubscription
}

// Requester is the part of the coordinator used by consumers.
type Requester interface {
	RequestRandomWords(ctx *chain.Context, req *base.RandomWordsRequest) (uint64, error)
}

// Consumer is implemented by contracts receiving random words. The
// coordinator is the sender of the call.
type Consumer interface {
	RawFulfillRandomWords(ctx *chain.Context, requestID uint64, words []*big.Int) error
}

// Params are the constructor parameters of the coordinator.
type Params struct {
	// BaseFee is charged for every fulfilled request.
	BaseFee *big.Int
	// GasPriceLink is charged per delivered random word.
	GasPriceLink *big.Int
	// WeiPerUnitLink is the LINK/native conversion rate.
	WeiPerUnitLink *big.Int
	// ProvingKey is the marshalled BLS secret signing the request seeds.
	ProvingKey []byte
}

type encodedParams struct {
	BaseFee        common.Hash
	GasPriceLink   common.Hash
	WeiPerUnitLink common.Hash
	ProvingKey     []byte
}

// Subscription is the funding and consumer record of a subscription.
type Subscription struct {
	Owner         common.Address
	Balance       *big.Int
	NativeBalance *big.Int
	ReqCount      uint64
	Consumers     []common.Address
}

// Request is a pending randomness request.
type Request struct {
	ID               uint64
	SubID            *big.Int
	Consumer         common.Address
	KeyHash          common.Hash
	PreSeed          common.Hash
	BlockNumber      uint64
	CallbackGasLimit uint32
	NumWords         uint32
	NativePayment    bool
}

type consumerEntry struct {
	Address common.Address
}

type subscriptionStorage struct {
	Owner         common.Address
	Balance       common.Hash
	NativeBalance common.Hash
	ReqCount      uint64
	Consumers     []consumerEntry
}

type requestStorage struct {
	SubID            common.Hash
	Consumer         common.Address
	KeyHash          common.Hash
	PreSeed          common.Hash
	BlockNumber      uint64
	CallbackGasLimit uint32
	NumWords         uint32
	NativePayment    bool
}

type counter struct {
	Value uint64
}

// SubscriptionCreated is emitted by CreateSubscription.
type SubscriptionCreated struct {
	SubID common.Hash
	Owner common.Address
}

// SubscriptionFunded is emitted by FundSubscription.
type SubscriptionFunded struct {
	SubID      common.Hash
	OldBalance common.Hash
	NewBalance common.Hash
}

// SubscriptionConsumerAdded is emitted when a consumer is registered.
type SubscriptionConsumerAdded struct {
	SubID    common.Hash
	Consumer common.Address
}

// SubscriptionConsumerRemoved is emitted when a consumer is removed.
type SubscriptionConsumerRemoved struct {
	SubID    common.Hash
	Consumer common.Address
}

// SubscriptionCanceled is emitted when a subscription is closed.
type SubscriptionCanceled struct {
	SubID        common.Hash
	To           common.Address
	AmountLink   common.Hash
	AmountNative common.Hash
}

// RandomWordsRequested is emitted for every accepted request. Oracle nodes
// watch it to know what to fulfill.
type RandomWordsRequested struct {
	KeyHash                     common.Hash
	RequestID                   uint64
	PreSeed                     common.Hash
	SubID                       common.Hash
	MinimumRequestConfirmations uint32
	CallbackGasLimit            uint32
	NumWords                    uint32
	NativePayment               bool
	Sender                      common.Address
}

// RandomWordsFulfilled is emitted once a request has been delivered.
type RandomWordsFulfilled struct {
	RequestID     uint64
	OutputSeed    common.Hash
	SubID         common.Hash
	Payment       common.Hash
	NativePayment bool
	Success       bool
	Seed          []byte
	Proof         []byte
}
