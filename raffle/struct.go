package raffle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/xerrors"
)

// State is the phase of the current round.
type State uint32

const (
	StateOpen State = iota
	StateCalculating
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCalculating:
		return "CALCULATING"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

const (
	// RequestConfirmations is the number of blocks the oracle waits before
	// answering.
	RequestConfirmations = 3
	// NumWords is the number of random words requested per round.
	NumWords = 1
)

const (
	EventRaffleEnter           = "RaffleEnter"
	EventRequestedRaffleWinner = "RequestedRaffleWinner"
	EventWinnerPicked          = "WinnerPicked"
)

const (
	keyHeader  = "header"
	keyPlayers = "players"
)

var (
	ErrNotEnoughPayment      = xerrors.New("not enough payment")
	ErrRaffleNotOpen         = xerrors.New("raffle not open")
	ErrRaffleNotCalculating  = xerrors.New("raffle not calculating")
	ErrUpkeepNotNeeded       = xerrors.New("upkeep not needed")
	ErrTransferFailed        = xerrors.New("transfer failed")
	ErrOnlyCoordinator       = xerrors.New("only coordinator can fulfill")
	ErrPlayerIndexOutOfRange = xerrors.New("player index out of range")
	ErrNoPlayers             = xerrors.New("no players")
	ErrNoRandomWords         = xerrors.New("no random words")
)

// UpkeepNotNeededError reports the values that made performUpkeep fail.
type UpkeepNotNeededError struct {
	Balance *big.Int
	Players int
	State   State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed (balance %s, players %d, state %s)",
		e.Balance, e.Players, e.State)
}

func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}

// TransferFailedError is returned when the winner refuses the payout.
type TransferFailedError struct {
	To     common.Address
	Amount *big.Int
	Err    error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer of %s to %s failed: %v", e.Amount, e.To.Hex(), e.Err)
}

func (e *TransferFailedError) Is(target error) bool {
	return target == ErrTransferFailed
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}

// OnlyCoordinatorCanFulfillError is returned when anyone but the
// coordinator delivers random words.
type OnlyCoordinatorCanFulfillError struct {
	Have common.Address
	Want common.Address
}

func (e *OnlyCoordinatorCanFulfillError) Error() string {
	return fmt.Sprintf("only coordinator %s can fulfill, called by %s",
		e.Want.Hex(), e.Have.Hex())
}

func (e *OnlyCoordinatorCanFulfillError) Is(target error) bool {
	return target == ErrOnlyCoordinator
}

// Params are the immutable construction parameters of a raffle.
type Params struct {
	EntranceFee         *big.Int
	Coordinator         common.Address
	GasLane             common.Hash
	SubscriptionID      *big.Int
	CallbackGasLimit    uint32
	EnableNativePayment bool
	// Interval is the minimum number of seconds between two rounds.
	Interval uint64
}

type encodedParams struct {
	EntranceFee         common.Hash
	Coordinator         common.Address
	GasLane             common.Hash
	SubscriptionID      common.Hash
	CallbackGasLimit    uint32
	EnableNativePayment bool
	Interval            uint64
}

type header struct {
	State         uint32
	LastTimestamp uint64
	RecentWinner  common.Address
}

// Player is an entry of the current round.
type Player struct {
	Address common.Address
}

type players struct {
	Data []Player
}

// RaffleEnter is emitted for every accepted entry.
type RaffleEnter struct {
	Player common.Address
}

// RequestedRaffleWinner is emitted when a round closes.
type RequestedRaffleWinner struct {
	RequestID uint64
}

// WinnerPicked is emitted once the winner of a round is known.
type WinnerPicked struct {
	Winner common.Address
}

// Status is a read-only view of a raffle.
type Status struct {
	State         State
	Players       []common.Address
	Balance       *big.Int
	LastTimestamp uint64
	RecentWinner  common.Address
}
