package babyjub

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
	"github.com/vocdoni/maci-coordinator/types"
)

// The command cipher is a Poseidon-keystream authenticated encryption over
// field elements. The plaintext is zero-padded to a multiple of blockWords,
// each word is masked with an element of a Poseidon-derived keystream, and a
// Poseidon tag over the ciphertext is appended. A 7-word command therefore
// ciphers into 10 words, which is exactly the message payload size.
const blockWords = 3

// CiphertextLength returns the ciphertext word count for a plaintext of n
// words.
func CiphertextLength(n int) int {
	return (n+blockWords-1)/blockWords*blockWords + 1
}

func keystreamWord(key *PubKey, nonce *big.Int, i int) *big.Int {
	return poseidon.Hash4(key.X, key.Y, nonce, big.NewInt(int64(i)))
}

// EncryptWords encrypts plaintext words under the shared key and nonce.
func EncryptWords(words []*big.Int, key *PubKey, nonce *big.Int) []*big.Int {
	padded := (len(words) + blockWords - 1) / blockWords * blockWords
	ct := make([]*big.Int, 0, padded+1)
	for i := 0; i < padded; i++ {
		w := big.NewInt(0)
		if i < len(words) {
			w = words[i]
		}
		masked := new(big.Int).Add(w, keystreamWord(key, nonce, i))
		ct = append(ct, masked.Mod(masked, types.SNARKFieldSize))
	}
	ct = append(ct, authTag(key, nonce, ct))
	return ct
}

// DecryptWords authenticates and decrypts a ciphertext produced by
// EncryptWords, returning the first n plaintext words. It errors on a tag
// mismatch or when the discarded padding words are not zero.
func DecryptWords(ct []*big.Int, key *PubKey, nonce *big.Int, n int) ([]*big.Int, error) {
	if len(ct) != CiphertextLength(n) {
		return nil, fmt.Errorf("ciphertext length %d does not fit %d plaintext words", len(ct), n)
	}
	body, tag := ct[:len(ct)-1], ct[len(ct)-1]
	if authTag(key, nonce, body).Cmp(tag) != 0 {
		return nil, fmt.Errorf("authentication tag mismatch")
	}
	words := make([]*big.Int, 0, len(body))
	for i, c := range body {
		w := new(big.Int).Sub(c, keystreamWord(key, nonce, i))
		words = append(words, w.Mod(w, types.SNARKFieldSize))
	}
	for _, pad := range words[n:] {
		if pad.Sign() != 0 {
			return nil, fmt.Errorf("nonzero padding word")
		}
	}
	return words[:n], nil
}

func authTag(key *PubKey, nonce *big.Int, ct []*big.Int) *big.Int {
	inputs := make([]*big.Int, 0, len(ct)+3)
	inputs = append(inputs, key.X, key.Y, nonce)
	inputs = append(inputs, ct...)
	return poseidon.MustHash(inputs...)
}
