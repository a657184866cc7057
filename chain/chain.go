// Package chain implements a serialized, in-process ledger on which the
// raffle and the randomness coordinator run as contracts. Every mutating
// call is a transaction that either commits entirely or reverts entirely;
// transactions never interleave.
package chain

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Ledger holds the world state, the block clock and the event log.
type Ledger struct {
	mu sync.Mutex

	chainID     uint64
	blockNumber uint64
	timestamp   uint64
	wallClock   func() time.Time

	st *worldState
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTimestamp sets the initial block timestamp in seconds.
func WithTimestamp(ts uint64) Option {
	return func(l *Ledger) {
		l.timestamp = ts
	}
}

// WithWallClock makes block time follow fn. IncreaseTime still moves the
// clock forward on top of it.
func WithWallClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		l.wallClock = fn
	}
}

// NewLedger creates an empty ledger.
func NewLedger(chainID uint64, opts ...Option) *Ledger {
	l := &Ledger{
		chainID:   chainID,
		timestamp: uint64(time.Now().Unix()),
		st:        newWorldState(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ChainID returns the chain identifier signed into every transaction.
func (l *Ledger) ChainID() uint64 {
	return l.chainID
}

// Now returns the current block timestamp.
func (l *Ledger) Now() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now()
}

func (l *Ledger) now() uint64 {
	if l.wallClock != nil {
		if t := uint64(l.wallClock().Unix()); t > l.timestamp {
			l.timestamp = t
		}
	}
	return l.timestamp
}

// BlockNumber returns the number of the latest block.
func (l *Ledger) BlockNumber() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockNumber
}

// IncreaseTime moves the block clock forward.
func (l *Ledger) IncreaseTime(seconds uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamp = l.now() + seconds
	log.Lvlf3("time increased by %ds to %d", seconds, l.timestamp)
}

// Mine produces an empty block.
func (l *Ledger) Mine() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockNumber++
}

// Fund credits amount to addr out of thin air. Only meant for development
// chains and tests.
func (l *Ledger) Fund(addr common.Address, amount *big.Int) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.st.account(addr)
	bal := new(big.Int).Add(acc.balance, valueOf(amount))
	if err := CheckAmount(bal); err != nil {
		return xerrors.Errorf("balance of %s: %w", addr.Hex(), err)
	}
	acc.balance = bal
	return nil
}

// BalanceOf returns the native balance of addr.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.balance(addr)
}

// NonceOf returns the next nonce expected from addr.
func (l *Ledger) NonceOf(addr common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.st.accounts[addr]; ok {
		return acc.nonce
	}
	return 0
}

// CodeAt returns the contract deployed at addr.
func (l *Ledger) CodeAt(addr common.Address) (Contract, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.st.code[addr]
	if !ok {
		return nil, false
	}
	return c.contract, true
}

// Deploy creates a contract of type id from from's account. The contract
// address is derived from the sender and its nonce.
func (l *Ledger) Deploy(from *Account, id string, params []byte,
	value *big.Int) (common.Address, *Receipt, error) {
	c, err := newContract(id, params)
	if err != nil {
		return common.Address{}, nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	sender := from.Address()
	addr := crypto.CreateAddress(sender, l.nonce(sender))
	tx, err := l.newTx(sender, common.Address{}, value, "deploy:"+id)
	if err != nil {
		return common.Address{}, nil, err
	}
	stx, err := from.SignTx(tx)
	if err != nil {
		return common.Address{}, nil, err
	}
	r, err := l.apply(stx, func(ctx *Context) error {
		if _, ok := l.st.code[addr]; ok {
			return xerrors.Errorf("address %s already in use", addr.Hex())
		}
		l.st.code[addr] = &code{id: id, params: params, contract: c}
		if err := l.st.move(sender, addr, ctx.value); err != nil {
			return err
		}
		if ctor, ok := c.(Constructor); ok {
			return ctor.Init(ctx.frame(sender, addr, ctx.value))
		}
		return nil
	})
	if r != nil && err == nil {
		r.ContractAddress = addr
		log.Lvlf2("deployed %s at %s", id, addr.Hex())
	}
	return addr, r, err
}

// Execute signs and applies a transaction from from to the contract at to.
// The attached value is credited to the contract before fn runs. A nil fn
// is a plain value transfer.
func (l *Ledger) Execute(from *Account, to common.Address, value *big.Int,
	method string, fn TxFn) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, err := l.newTx(from.Address(), to, value, method)
	if err != nil {
		return nil, err
	}
	stx, err := from.SignTx(tx)
	if err != nil {
		return nil, err
	}
	return l.applyCall(stx, fn)
}

// Apply applies a transaction signed elsewhere.
func (l *Ledger) Apply(stx *SignedTx, fn TxFn) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyCall(stx, fn)
}

// Send transfers value between accounts, running the receive hook when the
// destination is a contract.
func (l *Ledger) Send(from *Account, to common.Address, value *big.Int) (*Receipt, error) {
	return l.Execute(from, to, value, "transfer", nil)
}

// NewTx prepares an unsigned transaction with the next nonce of from.
func (l *Ledger) NewTx(from, to common.Address, value *big.Int, method string) (*Tx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.newTx(from, to, value, method)
}

func (l *Ledger) newTx(from, to common.Address, value *big.Int, method string) (*Tx, error) {
	if err := CheckAmount(value); err != nil {
		return nil, err
	}
	return &Tx{
		ChainID: l.chainID,
		From:    from,
		To:      to,
		Value:   BigToHash(value),
		Nonce:   l.nonce(from),
		Method:  method,
	}, nil
}

func (l *Ledger) nonce(addr common.Address) uint64 {
	if acc, ok := l.st.accounts[addr]; ok {
		return acc.nonce
	}
	return 0
}

func (l *Ledger) applyCall(stx *SignedTx, fn TxFn) (*Receipt, error) {
	to := stx.Tx.To
	return l.apply(stx, func(ctx *Context) error {
		c, isContract := l.st.code[to]
		if err := l.st.move(ctx.sender, to, ctx.value); err != nil {
			return err
		}
		if fn == nil {
			if !isContract || ctx.value.Sign() == 0 {
				return nil
			}
			recv, ok := c.contract.(Receiver)
			if !ok {
				return ErrNotPayable
			}
			return recv.Receive(ctx)
		}
		if !isContract {
			return xerrors.Errorf("%s: %w", to.Hex(), ErrNoCode)
		}
		return fn(ctx)
	})
}

// apply runs a verified transaction in a new block. The nonce is consumed
// even when the transaction reverts.
func (l *Ledger) apply(stx *SignedTx, fn TxFn) (*Receipt, error) {
	if stx.Tx.ChainID != l.chainID {
		return nil, xerrors.Errorf("tx for chain %d on chain %d: %w",
			stx.Tx.ChainID, l.chainID, ErrInvalidSignature)
	}
	h, err := stx.Verify()
	if err != nil {
		return nil, err
	}
	sender := stx.Tx.From
	if n := l.nonce(sender); n != stx.Tx.Nonce {
		return nil, xerrors.Errorf("expected %d, got %d: %w", n, stx.Tx.Nonce,
			ErrNonceMismatch)
	}
	l.st.account(sender).nonce++
	l.blockNumber++

	snap := l.st.copy()
	start := len(l.st.logs)
	ctx := &Context{
		l:      l,
		txHash: h,
		sender: sender,
		self:   stx.Tx.To,
		value:  stx.Tx.Value.Big(),
	}
	r := &Receipt{TxHash: h, BlockNumber: l.blockNumber}
	if err := fn(ctx); err != nil {
		l.st = snap
		r.Status = ReceiptStatusFailed
		r.Err = err
		log.Lvlf3("tx %s (%s) reverted: %v", h.Hex(), stx.Tx.Method, err)
		return r, err
	}
	r.Status = ReceiptStatusSuccessful
	r.Logs = append([]*Log(nil), l.st.logs[start:]...)
	return r, nil
}

// Call runs fn as a static call against the current state. Any attempt to
// write storage, move value or emit events fails with ErrWriteProtection.
func (l *Ledger) Call(from, to common.Address, fn TxFn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.st.code[to]; !ok {
		return xerrors.Errorf("%s: %w", to.Hex(), ErrNoCode)
	}
	ctx := &Context{
		l:      l,
		sender: from,
		self:   to,
		value:  new(big.Int),
		static: true,
	}
	return fn(ctx)
}

// Logs returns every committed log.
func (l *Ledger) Logs() []*Log {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Log(nil), l.st.logs...)
}

// FilterLogs returns the logs emitted by addr with the given name, starting
// at index from, and the index to resume from. An empty name matches all
// events of addr.
func (l *Ledger) FilterLogs(addr common.Address, name string, from int) ([]*Log, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from < 0 {
		from = 0
	}
	var out []*Log
	for i := from; i < len(l.st.logs); i++ {
		lg := l.st.logs[i]
		if lg.Address == addr && (name == "" || lg.Name == name) {
			out = append(out, lg)
		}
	}
	return out, len(l.st.logs)
}
