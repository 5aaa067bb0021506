// Package domain holds the value objects a poll operates on: state leaves,
// ballots, messages and the vote/topup commands they carry.
package domain

import (
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
	"github.com/vocdoni/maci-coordinator/types"
)

// StateLeaf is one voter record of the state tree: the voter's public key,
// the voice credits left to spend, and the signup timestamp.
type StateLeaf struct {
	PubKey             *babyjub.PubKey `json:"pubKey"`
	VoiceCreditBalance *types.BigInt   `json:"voiceCreditBalance"`
	Timestamp          *types.BigInt   `json:"timestamp"`
}

// NewStateLeaf builds a state leaf from raw values.
func NewStateLeaf(pubKey *babyjub.PubKey, balance, timestamp *big.Int) *StateLeaf {
	return &StateLeaf{
		PubKey:             pubKey.Copy(),
		VoiceCreditBalance: types.FromBigInt(balance),
		Timestamp:          types.FromBigInt(timestamp),
	}
}

// BlankStateLeaf returns the sentinel leaf stored at index 0 of every state
// tree. Its public key is the pad key, for which no private key is known, so
// no valid command can ever target it.
func BlankStateLeaf() *StateLeaf {
	return NewStateLeaf(babyjub.PadKey(), big.NewInt(0), big.NewInt(0))
}

// Hash binds the leaf into a single field element.
func (s *StateLeaf) Hash() *big.Int {
	return poseidon.Hash4(
		s.PubKey.X,
		s.PubKey.Y,
		s.VoiceCreditBalance.MathBigInt(),
		s.Timestamp.MathBigInt(),
	)
}

// AsCircuitInputs flattens the leaf in the order the circuits consume it.
func (s *StateLeaf) AsCircuitInputs() []*big.Int {
	return []*big.Int{
		new(big.Int).Set(s.PubKey.X),
		new(big.Int).Set(s.PubKey.Y),
		new(big.Int).Set(s.VoiceCreditBalance.MathBigInt()),
		new(big.Int).Set(s.Timestamp.MathBigInt()),
	}
}

// Copy returns a deep copy of the leaf.
func (s *StateLeaf) Copy() *StateLeaf {
	return NewStateLeaf(s.PubKey, s.VoiceCreditBalance.MathBigInt(), s.Timestamp.MathBigInt())
}

// Equal reports whether both leaves hold the same values.
func (s *StateLeaf) Equal(o *StateLeaf) bool {
	if s == nil || o == nil {
		return (s == nil) == (o == nil)
	}
	return s.PubKey.Equal(o.PubKey) &&
		s.VoiceCreditBalance.Equal(o.VoiceCreditBalance) &&
		s.Timestamp.Equal(o.Timestamp)
}
