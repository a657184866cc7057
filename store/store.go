// Package store persists ledger snapshots, local accounts and the
// addresses of deployed contracts in a bbolt file.
package store

import (
	"encoding/binary"
	"time"

	"github.com/dedis/raffle/chain"
	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/protobuf"
	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var (
	bucketMeta     = []byte("meta")
	bucketAccounts = []byte("accounts")
	bucketCode     = []byte("code")
	bucketStorage  = []byte("storage")
	bucketLogs     = []byte("logs")
	bucketKeys     = []byte("keys")

	keyHeader     = []byte("header")
	keyDeployment = []byte("deployment")
)

// ErrNotFound is returned when a key is not in the store.
var ErrNotFound = xerrors.New("not found")

// snapshotBuckets are rewritten on every Save.
var snapshotBuckets = [][]byte{bucketAccounts, bucketCode, bucketStorage, bucketLogs}

type snapshotHeader struct {
	ChainID     uint64
	BlockNumber uint64
	Timestamp   uint64
}

// Deployment records where the raffle and its coordinator live.
type Deployment struct {
	ChainID        uint64
	Raffle         common.Address
	Coordinator    common.Address
	SubscriptionID common.Hash
}

// Store is a bbolt database.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("couldn't open %s: %v", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketAccounts, bucketCode,
			bucketStorage, bucketLogs, bucketKeys} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("couldn't create buckets: %v", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored ledger with snap.
func (s *Store) Save(snap *chain.Snapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range snapshotBuckets {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		if err := putProto(tx.Bucket(bucketMeta), keyHeader, &snapshotHeader{
			ChainID:     snap.ChainID,
			BlockNumber: snap.BlockNumber,
			Timestamp:   snap.Timestamp,
		}); err != nil {
			return err
		}
		accounts := tx.Bucket(bucketAccounts)
		for i := range snap.Accounts {
			a := &snap.Accounts[i]
			if err := putProto(accounts, a.Address.Bytes(), a); err != nil {
				return err
			}
		}
		code := tx.Bucket(bucketCode)
		for i := range snap.Code {
			c := &snap.Code[i]
			if err := putProto(code, c.Address.Bytes(), c); err != nil {
				return err
			}
		}
		storage := tx.Bucket(bucketStorage)
		for _, kv := range snap.Storage {
			key := append(kv.Address.Bytes(), kv.Key...)
			if err := storage.Put(key, kv.Value); err != nil {
				return err
			}
		}
		logs := tx.Bucket(bucketLogs)
		for i := range snap.Logs {
			lg := &snap.Logs[i]
			if err := putProto(logs, uint64Key(lg.Index), lg); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the stored ledger, or nil if nothing was saved yet.
func (s *Store) Load() (*chain.Snapshot, error) {
	var snap *chain.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		h := &snapshotHeader{}
		found, err := getProto(tx.Bucket(bucketMeta), keyHeader, h)
		if err != nil || !found {
			return err
		}
		snap = &chain.Snapshot{
			ChainID:     h.ChainID,
			BlockNumber: h.BlockNumber,
			Timestamp:   h.Timestamp,
		}
		err = tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			a := chain.AccountState{}
			if err := protobuf.Decode(v, &a); err != nil {
				return xerrors.Errorf("couldn't decode account: %v", err)
			}
			snap.Accounts = append(snap.Accounts, a)
			return nil
		})
		if err != nil {
			return err
		}
		err = tx.Bucket(bucketCode).ForEach(func(k, v []byte) error {
			c := chain.CodeState{}
			if err := protobuf.Decode(v, &c); err != nil {
				return xerrors.Errorf("couldn't decode code: %v", err)
			}
			snap.Code = append(snap.Code, c)
			return nil
		})
		if err != nil {
			return err
		}
		err = tx.Bucket(bucketStorage).ForEach(func(k, v []byte) error {
			if len(k) < common.AddressLength {
				return xerrors.Errorf("invalid storage key %x", k)
			}
			snap.Storage = append(snap.Storage, chain.StorageState{
				Address: common.BytesToAddress(k[:common.AddressLength]),
				Key:     string(k[common.AddressLength:]),
				Value:   append([]byte(nil), v...),
			})
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLogs).ForEach(func(k, v []byte) error {
			lg := chain.Log{}
			if err := protobuf.Decode(v, &lg); err != nil {
				return xerrors.Errorf("couldn't decode log: %v", err)
			}
			snap.Logs = append(snap.Logs, lg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// PutAccount stores the key pair of acct under name.
func (s *Store) PutAccount(name string, acct *chain.Account) error {
	buf, err := acct.Bytes()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKeys).Put([]byte(name), buf)
	})
}

// Account returns the key pair stored under name.
func (s *Store) Account(name string) (*chain.Account, error) {
	var buf []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketKeys).Get([]byte(name)); v != nil {
			buf = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, xerrors.Errorf("account %s: %w", name, ErrNotFound)
	}
	return chain.AccountFromBytes(buf)
}

// Accounts returns the names of the stored accounts in order.
func (s *Store) Accounts() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKeys).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (s *Store) SaveDeployment(d *Deployment) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putProto(tx.Bucket(bucketMeta), keyDeployment, d)
	})
}

// Deployment returns the last saved deployment.
func (s *Store) Deployment() (*Deployment, error) {
	d := &Deployment{}
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = getProto(tx.Bucket(bucketMeta), keyDeployment, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, xerrors.Errorf("deployment: %w", ErrNotFound)
	}
	return d, nil
}

func putProto(b *bbolt.Bucket, key []byte, v interface{}) error {
	buf, err := protobuf.Encode(v)
	if err != nil {
		return xerrors.Errorf("couldn't encode %s: %v", key, err)
	}
	return b.Put(key, buf)
}

func getProto(b *bbolt.Bucket, key []byte, v interface{}) (bool, error) {
	buf := b.Get(key)
	if buf == nil {
		return false, nil
	}
	if err := protobuf.Decode(buf, v); err != nil {
		return false, xerrors.Errorf("couldn't decode %s: %v", key, err)
	}
	return true, nil
}

func uint64Key(i uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, i)
	return b
}
