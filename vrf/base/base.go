// Package base holds the randomness types shared by the coordinator, its
// consumers and off-chain verifiers.
package base

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/sign/bls"
	"golang.org/x/xerrors"
)

// Suite is the pairing suite of the proving keys.
var Suite = pairing.NewSuiteBn256()

// RandomWordsRequest holds the parameters of a randomness request.
type RandomWordsRequest struct {
	KeyHash              common.Hash
	SubID                *big.Int
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
	// NativePayment bills the request to the native balance of the
	// subscription instead of its LINK balance.
	NativePayment bool
}

// RandomnessOutput is the verifiable output of a fulfilled request.
type RandomnessOutput struct {
	Public    kyber.Point
	RequestID uint64
	Seed      []byte
	// Value is the BLS signature of Seed. Use the hash of it!
	Value []byte
}

// Verify checks the signature of the seed under the proving key.
func (out *RandomnessOutput) Verify() error {
	if err := bls.Verify(Suite, out.Public, out.Seed, out.Value); err != nil {
		return xerrors.Errorf("couldn't verify randomness: %v", err)
	}
	return nil
}

// Hash returns the output seed from which the random words are derived.
func (out *RandomnessOutput) Hash() common.Hash {
	return crypto.Keccak256Hash(out.Value)
}

// Words expands the output seed into n random words.
func (out *RandomnessOutput) Words(n uint32) []*big.Int {
	return ExpandWords(out.Hash(), n)
}

// ExpandWords derives n 256-bit words from seed: word i is
// keccak256(seed || i).
func ExpandWords(seed common.Hash, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	b := make([]byte, 8)
	for i := uint32(0); i < n; i++ {
		binary.BigEndian.PutUint64(b, uint64(i))
		words[i] = new(big.Int).SetBytes(crypto.Keccak256(seed.Bytes(), b))
	}
	return words
}

// RequestSeed is the message signed by the proving key for a request.
func RequestSeed(preSeed common.Hash, blockNumber uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, blockNumber)
	return crypto.Keccak256(preSeed.Bytes(), b)
}

// KeyHash identifies a proving key.
func KeyHash(pub kyber.Point) (common.Hash, error) {
	buf, err := pub.MarshalBinary()
	if err != nil {
		return common.Hash{}, xerrors.Errorf("couldn't encode proving key: %v", err)
	}
	return crypto.Keccak256Hash(buf), nil
}
