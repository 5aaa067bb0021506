// Package poseidon wraps the iden3 Poseidon implementation with the fixed-arity
// helpers the voting circuits expect, plus the SHA-256-to-field digest used for
// public input compression.
package poseidon

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/maci-coordinator/types"
)

// maxDirectInputs is the widest Poseidon instance iden3 ships.
const maxDirectInputs = 16

// Hash computes the Poseidon hash of a variable number of big.Int inputs.
// Inputs beyond the widest native instance are chunked into groups of 16,
// hashed, and the chunk hashes hashed again recursively.
// Returns an error if no inputs are provided.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}
	if len(inputs) <= maxDirectInputs {
		return poseidon.Hash(inputs)
	}
	numChunks := (len(inputs) + maxDirectInputs - 1) / maxDirectInputs
	hashes := make([]*big.Int, 0, numChunks)
	for i := 0; i < len(inputs); i += maxDirectInputs {
		end := min(i+maxDirectInputs, len(inputs))
		hash, err := poseidon.Hash(inputs[i:end])
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	if len(hashes) == 1 {
		return hashes[0], nil
	}
	return Hash(hashes...)
}

// MustHash is Hash for callers that already validated their inputs; the only
// failure modes left are programmer errors.
func MustHash(inputs ...*big.Int) *big.Int {
	h, err := Hash(inputs...)
	if err != nil {
		panic(err)
	}
	return h
}

// HashLeftRight computes the two-input Poseidon hash, the node function of the
// binary commitment constructions.
func HashLeftRight(left, right *big.Int) *big.Int {
	return MustHash(left, right)
}

// Hash3 computes the three-input Poseidon hash.
func Hash3(a, b, c *big.Int) *big.Int {
	return MustHash(a, b, c)
}

// Hash4 computes the four-input Poseidon hash.
func Hash4(a, b, c, d *big.Int) *big.Int {
	return MustHash(a, b, c, d)
}

// Hash5 computes the five-input Poseidon hash, the node function of the
// quinary trees.
func Hash5(inputs []*big.Int) *big.Int {
	if len(inputs) != 5 {
		panic(fmt.Sprintf("hash5 needs 5 inputs, got %d", len(inputs)))
	}
	return MustHash(inputs...)
}

// Sha256ToField hashes the 32-byte big-endian concatenation of the inputs with
// SHA-256 and reduces the digest to the BN254 scalar field. The circuits use
// it to compress all public inputs into a single field element.
func Sha256ToField(inputs []*big.Int) *big.Int {
	buf := make([]byte, 0, len(inputs)*32)
	for _, in := range inputs {
		var word [32]byte
		in.FillBytes(word[:])
		buf = append(buf, word[:]...)
	}
	digest := sha256.Sum256(buf)
	out := new(big.Int).SetBytes(digest[:])
	return out.Mod(out, types.SNARKFieldSize)
}
