package config

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"golang.org/x/xerrors"
)

var units = map[string]*big.Int{
	"wei":   big.NewInt(1),
	"gwei":  big.NewInt(1e9),
	"ether": big.NewInt(1e18),
}

// Amount is a quantity of wei. In TOML it is written as a string: a plain
// integer is a number of wei, and a decimal may be followed by a unit, as in
// "0.0001 ether" or "1 gwei".
type Amount struct {
	*big.Int
}

// NewAmount wraps v.
func NewAmount(v *big.Int) Amount {
	return Amount{Int: v}
}

// ParseAmount parses the textual form of an amount.
func ParseAmount(s string) (Amount, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return Amount{}, xerrors.Errorf("invalid amount %q", s)
	}
	if len(fields) == 1 {
		v, ok := math.ParseBig256(fields[0])
		if !ok || v.Sign() < 0 {
			return Amount{}, xerrors.Errorf("invalid amount %q", s)
		}
		return Amount{Int: v}, nil
	}
	unit, ok := units[strings.ToLower(fields[1])]
	if !ok {
		return Amount{}, xerrors.Errorf("unknown unit %q", fields[1])
	}
	r, ok := new(big.Rat).SetString(fields[0])
	if !ok || r.Sign() < 0 {
		return Amount{}, xerrors.Errorf("invalid amount %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(unit))
	if !r.IsInt() {
		return Amount{}, xerrors.Errorf("%q is not a whole number of wei", s)
	}
	return Amount{Int: new(big.Int).Set(r.Num())}, nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a Amount) MarshalText() ([]byte, error) {
	if a.Int == nil {
		return []byte("0"), nil
	}
	return []byte(a.Int.String()), nil
}

// Big returns the amount, zero when unset.
func (a Amount) Big() *big.Int {
	if a.Int == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.Int)
}
