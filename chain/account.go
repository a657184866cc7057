package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/xerrors"
)

// Account is an externally owned account. Transactions are authenticated
// with schnorr signatures over cothority.Suite.
type Account struct {
	*key.Pair
}

// NewAccount creates an account with a fresh key pair.
func NewAccount() *Account {
	return &Account{Pair: key.NewKeyPair(cothority.Suite)}
}

// AccountFromBytes restores an account from its marshalled private key.
func AccountFromBytes(buf []byte) (*Account, error) {
	priv := cothority.Suite.Scalar()
	if err := priv.UnmarshalBinary(buf); err != nil {
		return nil, xerrors.Errorf("couldn't decode private key: %v", err)
	}
	return &Account{Pair: &key.Pair{
		Public:  cothority.Suite.Point().Mul(priv, nil),
		Private: priv,
	}}, nil
}

// Bytes returns the marshalled private key.
func (a *Account) Bytes() ([]byte, error) {
	return a.Private.MarshalBinary()
}

// Address returns the ledger address of the account.
func (a *Account) Address() common.Address {
	return AddressOf(a.Public)
}

// SignTx signs the transaction with the account key.
func (a *Account) SignTx(tx *Tx) (*SignedTx, error) {
	h, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(cothority.Suite, a.Private, h.Bytes())
	if err != nil {
		return nil, xerrors.Errorf("couldn't sign tx: %v", err)
	}
	pub, err := a.Public.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode public key: %v", err)
	}
	return &SignedTx{Tx: *tx, Public: pub, Signature: sig}, nil
}

// AddressOf derives the address of a public key: the last 20 bytes of the
// keccak256 digest of its encoding.
func AddressOf(pub kyber.Point) common.Address {
	buf, err := pub.MarshalBinary()
	if err != nil {
		return common.Address{}
	}
	return common.BytesToAddress(crypto.Keccak256(buf)[12:])
}

// Verify checks that the transaction is signed by the key of its sender.
func (stx *SignedTx) Verify() (common.Hash, error) {
	pub := cothority.Suite.Point()
	if err := pub.UnmarshalBinary(stx.Public); err != nil {
		return common.Hash{}, xerrors.Errorf("couldn't decode public key: %v", err)
	}
	if AddressOf(pub) != stx.Tx.From {
		return common.Hash{}, xerrors.Errorf("key does not match sender %s: %w",
			stx.Tx.From.Hex(), ErrInvalidSignature)
	}
	h, err := stx.Tx.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	if err := schnorr.Verify(cothority.Suite, pub, h.Bytes(), stx.Signature); err != nil {
		return common.Hash{}, xerrors.Errorf("%v: %w", err, ErrInvalidSignature)
	}
	return h, nil
}

func valueOf(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
