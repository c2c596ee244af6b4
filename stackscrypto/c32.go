package stackscrypto

import (
	"crypto/sha256"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// c32 is Crockford-style base32: no I, L, O or U.
const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var c32Value = func() map[rune]int64 {
	m := make(map[rune]int64, len(c32Alphabet))
	for i, r := range c32Alphabet {
		m[r] = int64(i)
	}
	return m
}()

// c32Encode renders bytes in base32, keeping one leading zero digit per
// leading zero byte so the encoding round-trips.
func c32Encode(data []byte) string {
	zeros := 0
	for _, b := range data {
		if b != 0 {
			break
		}
		zeros++
	}
	n := new(big.Int).SetBytes(data)
	base := big.NewInt(int64(len(c32Alphabet)))
	rem := new(big.Int)
	var sb []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, rem)
		sb = append(sb, c32Alphabet[rem.Int64()])
	}
	for i := 0; i < zeros; i++ {
		sb = append(sb, '0')
	}
	for i, j := 0, len(sb)-1; i < j; i, j = i+1, j-1 {
		sb[i], sb[j] = sb[j], sb[i]
	}
	return string(sb)
}

// c32Decode reverses c32Encode into a byte string of the given length.
func c32Decode(s string, size int) ([]byte, error) {
	n := big.NewInt(0)
	base := big.NewInt(int64(len(c32Alphabet)))
	for _, r := range strings.ToUpper(s) {
		v, ok := c32Value[r]
		if !ok {
			return nil, errors.Errorf("invalid c32 character %q", r)
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(v))
	}
	raw := n.Bytes()
	if len(raw) > size {
		return nil, errors.New("c32 payload too long")
	}
	out := make([]byte, size)
	copy(out[size-len(raw):], raw)
	return out, nil
}

// c32Checksum is the first four bytes of a double SHA-256 over the version
// byte and payload.
func c32Checksum(version byte, data []byte) []byte {
	first := sha256.Sum256(append([]byte{version}, data...))
	second := sha256.Sum256(first[:])
	return second[:4]
}
