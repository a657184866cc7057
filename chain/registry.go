package chain

import (
	"sync"

	"golang.org/x/xerrors"
)

var registry = struct {
	sync.Mutex
	fns map[string]ContractFn
}{fns: make(map[string]ContractFn)}

// RegisterContract makes a contract type deployable under id. It is meant
// to be called from init functions.
func RegisterContract(id string, fn ContractFn) error {
	registry.Lock()
	defer registry.Unlock()
	if _, ok := registry.fns[id]; ok {
		return xerrors.Errorf("contract %q already registered", id)
	}
	registry.fns[id] = fn
	return nil
}

func newContract(id string, params []byte) (Contract, error) {
	registry.Lock()
	fn, ok := registry.fns[id]
	registry.Unlock()
	if !ok {
		return nil, xerrors.Errorf("%q: %w", id, ErrUnknownContract)
	}
	c, err := fn(params)
	if err != nil {
		return nil, xerrors.Errorf("couldn't instantiate %s: %v", id, err)
	}
	return c, nil
}
