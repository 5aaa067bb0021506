package domain

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
	"github.com/vocdoni/maci-coordinator/types"
)

// Message is the on-chain representation of an encrypted command: a type tag
// and ten field-element words of payload.
type Message struct {
	MsgType *types.BigInt   `json:"msgType"`
	Data    []*types.BigInt `json:"data"`
}

// NewMessage builds a message from a type tag and exactly ten payload words.
func NewMessage(msgType int, data []*big.Int) (*Message, error) {
	if len(data) != types.MessageDataLength {
		return nil, fmt.Errorf("message payload must have %d words, got %d",
			types.MessageDataLength, len(data))
	}
	words := make([]*types.BigInt, len(data))
	for i, d := range data {
		words[i] = types.FromBigInt(d)
	}
	return &Message{MsgType: types.NewInt(msgType), Data: words}, nil
}

// Hash computes the canonical message hash inserted into the message tree:
// the first half of the payload hashed over the second half bound to the
// ephemeral public key.
func (m *Message) Hash(encPubKey *babyjub.PubKey) *big.Int {
	inner := poseidon.MustHash(
		m.Data[5].MathBigInt(),
		m.Data[6].MathBigInt(),
		m.Data[7].MathBigInt(),
		m.Data[8].MathBigInt(),
		m.Data[9].MathBigInt(),
		encPubKey.X,
		encPubKey.Y,
		big.NewInt(0),
	)
	return poseidon.MustHash(
		m.Data[0].MathBigInt(),
		m.Data[1].MathBigInt(),
		m.Data[2].MathBigInt(),
		m.Data[3].MathBigInt(),
		m.Data[4].MathBigInt(),
		inner,
	)
}

// AsCircuitInputs flattens the message in the order the circuits consume it.
func (m *Message) AsCircuitInputs() []*big.Int {
	out := make([]*big.Int, 0, 1+len(m.Data))
	out = append(out, new(big.Int).Set(m.MsgType.MathBigInt()))
	for _, d := range m.Data {
		out = append(out, new(big.Int).Set(d.MathBigInt()))
	}
	return out
}

// DataAsBigInts returns the payload words as raw big ints.
func (m *Message) DataAsBigInts() []*big.Int {
	out := make([]*big.Int, len(m.Data))
	for i, d := range m.Data {
		out[i] = new(big.Int).Set(d.MathBigInt())
	}
	return out
}

// InField reports whether every payload word is a canonical field residue.
func (m *Message) InField() bool {
	for _, d := range m.Data {
		v := d.MathBigInt()
		if v.Sign() < 0 || v.Cmp(types.SNARKFieldSize) >= 0 {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	data := make([]*types.BigInt, len(m.Data))
	for i, d := range m.Data {
		data[i] = types.FromBigInt(d.MathBigInt())
	}
	return &Message{MsgType: types.FromBigInt(m.MsgType.MathBigInt()), Data: data}
}

// Equal reports whether both messages carry the same type and payload.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return (m == nil) == (o == nil)
	}
	if !m.MsgType.Equal(o.MsgType) || len(m.Data) != len(o.Data) {
		return false
	}
	for i := range m.Data {
		if !m.Data[i].Equal(o.Data[i]) {
			return false
		}
	}
	return true
}
