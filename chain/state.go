package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type account struct {
	balance *big.Int
	nonce   uint64
}

type code struct {
	id       string
	params   []byte
	contract Contract
}

// worldState is replaced wholesale on revert, so nothing may keep pointers
// into it across a nested call.
type worldState struct {
	accounts map[common.Address]*account
	code     map[common.Address]*code
	storage  map[common.Address]map[string][]byte
	logs     []*Log
}

func newWorldState() *worldState {
	return &worldState{
		accounts: make(map[common.Address]*account),
		code:     make(map[common.Address]*code),
		storage:  make(map[common.Address]map[string][]byte),
	}
}

func (s *worldState) copy() *worldState {
	cp := &worldState{
		accounts: make(map[common.Address]*account, len(s.accounts)),
		code:     make(map[common.Address]*code, len(s.code)),
		storage:  make(map[common.Address]map[string][]byte, len(s.storage)),
		logs:     append([]*Log(nil), s.logs...),
	}
	for addr, acc := range s.accounts {
		cp.accounts[addr] = &account{balance: new(big.Int).Set(acc.balance), nonce: acc.nonce}
	}
	for addr, c := range s.code {
		cp.code[addr] = c
	}
	// stored values are never mutated in place, only replaced
	for addr, kv := range s.storage {
		m := make(map[string][]byte, len(kv))
		for k, v := range kv {
			m[k] = v
		}
		cp.storage[addr] = m
	}
	return cp
}

func (s *worldState) account(addr common.Address) *account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = &account{balance: new(big.Int)}
		s.accounts[addr] = acc
	}
	return acc
}

func (s *worldState) balance(addr common.Address) *big.Int {
	if acc, ok := s.accounts[addr]; ok {
		return new(big.Int).Set(acc.balance)
	}
	return new(big.Int)
}

func (s *worldState) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInsufficientFunds
	}
	src := s.account(from)
	if src.balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	dst := s.account(to)
	if from != to {
		if err := CheckAmount(new(big.Int).Add(dst.balance, amount)); err != nil {
			return err
		}
	}
	src.balance.Sub(src.balance, amount)
	dst.balance.Add(dst.balance, amount)
	return nil
}
