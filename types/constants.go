package types

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Tree arities are fixed by the circuits regardless of poll parameters.
const (
	StateTreeArity      = 5
	MessageTreeArity    = 5
	VoteOptionTreeArity = 5

	// MessageDataLength is the number of field-element words in a message
	// payload: a 7-word command ciphertext plus padding and authentication tag.
	MessageDataLength = 10

	// PackingBits is the width of each small value inside a packed word.
	PackingBits = 50
)

// Message types accepted by a poll.
const (
	MsgTypeVote  = 1
	MsgTypeTopup = 2
)

// SNARKFieldSize is the BN254 scalar field prime. Every value that enters a
// hash, a tree or a circuit input must be a canonical residue below it.
var SNARKFieldSize = fr.Modulus()

// NothingUpMySleeve is Keccak-256("Maci") reduced to the field, used as the
// zero value of the message tree.
var NothingUpMySleeve, _ = new(big.Int).SetString(
	"8370432830353022751713833565135785980866757267633941821328460903436894336785", 10)

// PadKeyX and PadKeyY are the coordinates of the public key attached to topup
// messages and to the blank state leaf at index 0. The key has no known
// private key.
var (
	PadKeyX, _ = new(big.Int).SetString(
		"10457101036533406547632367118273992217979173478358440826365724437999023779287", 10)
	PadKeyY, _ = new(big.Int).SetString(
		"19824078218392094440610104313265183977899662750282163392862422243483260492317", 10)
)
