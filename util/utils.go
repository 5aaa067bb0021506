package util

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/types"
)

// RandomBytes generates a random byte slice of length n.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// RandomHex generates the hex encoding of n random bytes (2n characters).
func RandomHex(n int) string {
	return fmt.Sprintf("%x", RandomBytes(n))
}

// RandomBigInt generates a random big integer in [min, max).
func RandomBigInt(min, max *big.Int) *big.Int {
	num, err := rand.Int(rand.Reader, new(big.Int).Sub(max, min))
	if err != nil {
		panic(err)
	}
	return new(big.Int).Add(num, min)
}

// RandomFieldElement generates a uniformly random element of the BN254 scalar
// field. This is the default salt source of a poll.
func RandomFieldElement() *big.Int {
	return RandomBigInt(big.NewInt(0), types.SNARKFieldSize)
}
