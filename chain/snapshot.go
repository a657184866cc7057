package chain

import (
	"bytes"
	"sort"

	"golang.org/x/xerrors"
)

// Snapshot returns an encodable copy of the whole ledger. Entries are
// sorted so that equal ledgers give equal snapshots.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := &Snapshot{
		ChainID:     l.chainID,
		BlockNumber: l.blockNumber,
		Timestamp:   l.timestamp,
	}
	for addr, acc := range l.st.accounts {
		snap.Accounts = append(snap.Accounts, AccountState{
			Address: addr,
			Balance: BigToHash(acc.balance),
			Nonce:   acc.nonce,
		})
	}
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return bytes.Compare(snap.Accounts[i].Address[:], snap.Accounts[j].Address[:]) < 0
	})
	for addr, c := range l.st.code {
		snap.Code = append(snap.Code, CodeState{Address: addr, ContractID: c.id, Params: c.params})
	}
	sort.Slice(snap.Code, func(i, j int) bool {
		return bytes.Compare(snap.Code[i].Address[:], snap.Code[j].Address[:]) < 0
	})
	for addr, kv := range l.st.storage {
		for k, v := range kv {
			snap.Storage = append(snap.Storage, StorageState{Address: addr, Key: k, Value: v})
		}
	}
	sort.Slice(snap.Storage, func(i, j int) bool {
		a, b := snap.Storage[i], snap.Storage[j]
		if c := bytes.Compare(a.Address[:], b.Address[:]); c != 0 {
			return c < 0
		}
		return a.Key < b.Key
	})
	for _, lg := range l.st.logs {
		snap.Logs = append(snap.Logs, *lg)
	}
	return snap
}

// Restore rebuilds a ledger from a snapshot. Every contract id in the
// snapshot must be registered.
func Restore(snap *Snapshot, opts ...Option) (*Ledger, error) {
	l := NewLedger(snap.ChainID, opts...)
	l.blockNumber = snap.BlockNumber
	if snap.Timestamp > l.timestamp || l.wallClock == nil {
		l.timestamp = snap.Timestamp
	}
	for _, acc := range snap.Accounts {
		l.st.accounts[acc.Address] = &account{balance: acc.Balance.Big(), nonce: acc.Nonce}
	}
	for _, cs := range snap.Code {
		c, err := newContract(cs.ContractID, cs.Params)
		if err != nil {
			return nil, xerrors.Errorf("restoring %s: %v", cs.Address.Hex(), err)
		}
		l.st.code[cs.Address] = &code{id: cs.ContractID, params: cs.Params, contract: c}
	}
	for _, s := range snap.Storage {
		kv, ok := l.st.storage[s.Address]
		if !ok {
			kv = make(map[string][]byte)
			l.st.storage[s.Address] = kv
		}
		kv[s.Key] = s.Value
	}
	for i := range snap.Logs {
		lg := snap.Logs[i]
		l.st.logs = append(l.st.logs, &lg)
	}
	return l, nil
}
