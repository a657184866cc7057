package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

// Context is the execution frame of a contract call. It is only valid for
// the duration of the call that received it.
type Context struct {
	l      *Ledger
	txHash common.Hash
	sender common.Address
	self   common.Address
	value  *big.Int
	static bool
	depth  int
}

// Sender is the immediate caller: an account for top-level transactions,
// the calling contract for nested calls.
func (c *Context) Sender() common.Address { return c.sender }

// Self is the address of the executing contract.
func (c *Context) Self() common.Address { return c.self }

// Value returns a copy of the value attached to the call.
func (c *Context) Value() *big.Int { return new(big.Int).Set(c.value) }

// Now is the timestamp of the current block.
func (c *Context) Now() uint64 { return c.l.now() }

// BlockNumber is the number of the current block.
func (c *Context) BlockNumber() uint64 { return c.l.blockNumber }

// TxHash is the hash of the enclosing transaction, zero in static calls.
func (c *Context) TxHash() common.Hash { return c.txHash }

// Static reports whether the frame belongs to a read-only call.
func (c *Context) Static() bool { return c.static }

// Balance returns the native balance of addr.
func (c *Context) Balance(addr common.Address) *big.Int {
	return c.l.st.balance(addr)
}

// Contract returns the code of the executing contract.
func (c *Context) Contract() Contract {
	if cd, ok := c.l.st.code[c.self]; ok {
		return cd.contract
	}
	return nil
}

// ContractAt returns the code deployed at addr.
func (c *Context) ContractAt(addr common.Address) (Contract, bool) {
	cd, ok := c.l.st.code[addr]
	if !ok {
		return nil, false
	}
	return cd.contract, true
}

// Get reads key from the storage of the executing contract.
func (c *Context) Get(key string) ([]byte, bool) {
	v, ok := c.l.st.storage[c.self][key]
	return v, ok
}

// Put writes key in the storage of the executing contract.
func (c *Context) Put(key string, value []byte) error {
	if c.static {
		return ErrWriteProtection
	}
	kv, ok := c.l.st.storage[c.self]
	if !ok {
		kv = make(map[string][]byte)
		c.l.st.storage[c.self] = kv
	}
	kv[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key from the storage of the executing contract.
func (c *Context) Delete(key string) error {
	if c.static {
		return ErrWriteProtection
	}
	delete(c.l.st.storage[c.self], key)
	return nil
}

// Emit appends an event to the log. The payload is protobuf-encoded.
func (c *Context) Emit(name string, payload interface{}) error {
	if c.static {
		return ErrWriteProtection
	}
	buf, err := protobuf.Encode(payload)
	if err != nil {
		return xerrors.Errorf("couldn't encode %s: %v", name, err)
	}
	c.l.st.logs = append(c.l.st.logs, &Log{
		Index:       uint64(len(c.l.st.logs)),
		BlockNumber: c.l.blockNumber,
		TxHash:      c.txHash,
		Address:     c.self,
		Name:        name,
		Data:        buf,
	})
	return nil
}

// Transfer sends amount from the executing contract to addr. If addr is a
// contract, its Receiver hook runs in a nested frame and may reject the
// transfer; a rejected transfer leaves no trace.
func (c *Context) Transfer(to common.Address, amount *big.Int) error {
	if c.static {
		return ErrWriteProtection
	}
	if err := CheckAmount(amount); err != nil {
		return err
	}
	return c.nested(func() error {
		if err := c.l.st.move(c.self, to, amount); err != nil {
			return err
		}
		cd, ok := c.l.st.code[to]
		if !ok || amount.Sign() == 0 {
			return nil
		}
		recv, ok := cd.contract.(Receiver)
		if !ok {
			return ErrNotPayable
		}
		return recv.Receive(c.frame(c.self, to, amount))
	})
}

// CallContract calls the contract at to with the executing contract as
// sender. When fn fails, everything it did is reverted and the error is
// returned to the caller.
func (c *Context) CallContract(to common.Address, value *big.Int, fn TxFn) error {
	if _, ok := c.l.st.code[to]; !ok {
		return xerrors.Errorf("%s: %w", to.Hex(), ErrNoCode)
	}
	value = valueOf(value)
	if err := CheckAmount(value); err != nil {
		return err
	}
	if c.static && value.Sign() != 0 {
		return ErrWriteProtection
	}
	return c.nested(func() error {
		if err := c.l.st.move(c.self, to, value); err != nil {
			return err
		}
		return fn(c.frame(c.self, to, value))
	})
}

func (c *Context) nested(fn func() error) error {
	if c.depth+1 >= MaxCallDepth {
		return ErrCallDepth
	}
	if c.static {
		return fn()
	}
	snap := c.l.st.copy()
	if err := fn(); err != nil {
		c.l.st = snap
		return err
	}
	return nil
}

func (c *Context) frame(sender, self common.Address, value *big.Int) *Context {
	return &Context{
		l:      c.l,
		txHash: c.txHash,
		sender: sender,
		self:   self,
		value:  valueOf(value),
		static: c.static,
		depth:  c.depth + 1,
	}
}
