package identity

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
)

var ErrMalformedID = errors.New("malformed identity")

// ID is an opaque 128-bit caller identity. The zero value is a valid ID.
type ID struct {
	hi, lo uint64
}

// NewID assembles an ID from its high and low 64-bit halves.
func NewID(hi, lo uint64) ID { return ID{hi: hi, lo: lo} }

// randomID samples uniformly from the full 128-bit space.
func randomID() ID {
	return ID{hi: rand.Uint64(), lo: rand.Uint64()}
}

func (id ID) big() *big.Int {
	n := new(big.Int).SetUint64(id.hi)
	n.Lsh(n, 64)
	return n.Or(n, new(big.Int).SetUint64(id.lo))
}

// String renders the ID as an unsigned decimal integer.
func (id ID) String() string {
	return id.big().String()
}

// key is a fixed-width form used to build usage keys without big.Int.
func (id ID) key() string {
	return fmt.Sprintf("%016x%016x", id.hi, id.lo)
}

// ParseID accepts the decimal form produced by String.
func ParseID(s string) (ID, error) {
	if s == "" || len(s) > 39 {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.BitLen() > 128 {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	lo := n.Uint64()
	hi := new(big.Int).Rsh(n, 64).Uint64()
	return ID{hi: hi, lo: lo}, nil
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
