package domain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
	"github.com/vocdoni/maci-coordinator/types"
)

// Command type discriminators, stable in the JSON layout.
const (
	CmdTypeVote  = "1"
	CmdTypeTopup = "2"
)

// commandPlaintextWords is the word count of a serialized vote command before
// encryption: the packed small values, the new public key, the salt and the
// three signature words.
const commandPlaintextWords = 7

// cipherNonce is the fixed cipher nonce; every command is encrypted under a
// fresh ECDH key, so the nonce never repeats per key.
var cipherNonce = big.NewInt(0)

// Command is the decoded payload of a message: a vote command, a topup
// command, or the blank placeholder standing in for an undecryptable message.
type Command interface {
	CmdType() string
	Copy() Command
	Equal(Command) bool
}

// VoteCommand casts (or changes) a vote and optionally rotates the voter key.
type VoteCommand struct {
	StateIndex      *types.BigInt   `json:"stateIndex"`
	NewPubKey       *babyjub.PubKey `json:"newPubKey"`
	VoteOptionIndex *types.BigInt   `json:"voteOptionIndex"`
	NewVoteWeight   *types.BigInt   `json:"newVoteWeight"`
	Nonce           *types.BigInt   `json:"nonce"`
	PollID          *types.BigInt   `json:"pollId"`
	Salt            *types.BigInt   `json:"salt"`
}

// BlankVoteCommand is the placeholder pushed when a message cannot be
// decrypted, so that command indices stay aligned with message indices.
func BlankVoteCommand() *VoteCommand {
	return &VoteCommand{
		StateIndex:      types.NewInt(0),
		NewPubKey:       &babyjub.PubKey{X: big.NewInt(0), Y: big.NewInt(0)},
		VoteOptionIndex: types.NewInt(0),
		NewVoteWeight:   types.NewInt(0),
		Nonce:           types.NewInt(0),
		PollID:          types.NewInt(0),
		Salt:            types.NewInt(0),
	}
}

// CmdType implements Command.
func (c *VoteCommand) CmdType() string { return CmdTypeVote }

// Pack packs the five small values of the command into a single field
// element, 50 bits each.
func (c *VoteCommand) Pack() *big.Int {
	p := new(big.Int).Set(c.StateIndex.MathBigInt())
	p.Or(p, new(big.Int).Lsh(c.VoteOptionIndex.MathBigInt(), types.PackingBits))
	p.Or(p, new(big.Int).Lsh(c.NewVoteWeight.MathBigInt(), 2*types.PackingBits))
	p.Or(p, new(big.Int).Lsh(c.Nonce.MathBigInt(), 3*types.PackingBits))
	p.Or(p, new(big.Int).Lsh(c.PollID.MathBigInt(), 4*types.PackingBits))
	return p
}

func unpackVoteCommand(p *big.Int) *VoteCommand {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), types.PackingBits), big.NewInt(1))
	field := func(shift uint) *types.BigInt {
		v := new(big.Int).Rsh(p, shift)
		if shift < 4*types.PackingBits {
			v.And(v, mask)
		}
		return types.FromBigInt(v)
	}
	cmd := BlankVoteCommand()
	cmd.StateIndex = field(0)
	cmd.VoteOptionIndex = field(types.PackingBits)
	cmd.NewVoteWeight = field(2 * types.PackingBits)
	cmd.Nonce = field(3 * types.PackingBits)
	cmd.PollID = field(4 * types.PackingBits)
	return cmd
}

// Digest is the field element the command signature covers.
func (c *VoteCommand) Digest() *big.Int {
	return poseidon.Hash4(c.Pack(), c.NewPubKey.X, c.NewPubKey.Y, c.Salt.MathBigInt())
}

// Sign signs the command digest with the voter's current private key.
func (c *VoteCommand) Sign(priv *babyjub.PrivKey) *babyjub.Signature {
	return priv.SignPoseidon(c.Digest())
}

// VerifySignature checks the command signature against the given public key.
func (c *VoteCommand) VerifySignature(sig *babyjub.Signature, pub *babyjub.PubKey) bool {
	return pub.VerifyPoseidon(c.Digest(), sig)
}

// Encrypt serializes the signed command and encrypts it under the ECDH shared
// key, producing the message payload published on chain.
func (c *VoteCommand) Encrypt(sig *babyjub.Signature, sharedKey *babyjub.PubKey) (*Message, error) {
	plaintext := []*big.Int{
		c.Pack(),
		new(big.Int).Set(c.NewPubKey.X),
		new(big.Int).Set(c.NewPubKey.Y),
		new(big.Int).Set(c.Salt.MathBigInt()),
		new(big.Int).Set(sig.R8X),
		new(big.Int).Set(sig.R8Y),
		new(big.Int).Set(sig.S),
	}
	ct := babyjub.EncryptWords(plaintext, sharedKey, cipherNonce)
	return NewMessage(types.MsgTypeVote, ct)
}

// DecryptVoteCommand authenticates and decrypts a vote message, returning the
// command and the signature it carries. Any failure leaves nothing usable: the
// caller substitutes a blank command.
func DecryptVoteCommand(m *Message, sharedKey *babyjub.PubKey) (*VoteCommand, *babyjub.Signature, error) {
	words, err := babyjub.DecryptWords(m.DataAsBigInts(), sharedKey, cipherNonce, commandPlaintextWords)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt command: %w", err)
	}
	cmd := unpackVoteCommand(words[0])
	cmd.NewPubKey = &babyjub.PubKey{X: words[1], Y: words[2]}
	cmd.Salt = types.FromBigInt(words[3])
	sig := &babyjub.Signature{R8X: words[4], R8Y: words[5], S: words[6]}
	return cmd, sig, nil
}

// Copy implements Command.
func (c *VoteCommand) Copy() Command {
	return &VoteCommand{
		StateIndex:      types.FromBigInt(c.StateIndex.MathBigInt()),
		NewPubKey:       c.NewPubKey.Copy(),
		VoteOptionIndex: types.FromBigInt(c.VoteOptionIndex.MathBigInt()),
		NewVoteWeight:   types.FromBigInt(c.NewVoteWeight.MathBigInt()),
		Nonce:           types.FromBigInt(c.Nonce.MathBigInt()),
		PollID:          types.FromBigInt(c.PollID.MathBigInt()),
		Salt:            types.FromBigInt(c.Salt.MathBigInt()),
	}
}

// Equal implements Command.
func (c *VoteCommand) Equal(o Command) bool {
	v, ok := o.(*VoteCommand)
	if !ok {
		return false
	}
	return c.StateIndex.Equal(v.StateIndex) &&
		c.NewPubKey.Equal(v.NewPubKey) &&
		c.VoteOptionIndex.Equal(v.VoteOptionIndex) &&
		c.NewVoteWeight.Equal(v.NewVoteWeight) &&
		c.Nonce.Equal(v.Nonce) &&
		c.PollID.Equal(v.PollID) &&
		c.Salt.Equal(v.Salt)
}

// TopupCommand credits a voter's voice credit balance outside the voting flow.
type TopupCommand struct {
	StateIndex *types.BigInt `json:"stateIndex"`
	Amount     *types.BigInt `json:"amount"`
	PollID     *types.BigInt `json:"pollId"`
}

// CmdType implements Command.
func (c *TopupCommand) CmdType() string { return CmdTypeTopup }

// Copy implements Command.
func (c *TopupCommand) Copy() Command {
	return &TopupCommand{
		StateIndex: types.FromBigInt(c.StateIndex.MathBigInt()),
		Amount:     types.FromBigInt(c.Amount.MathBigInt()),
		PollID:     types.FromBigInt(c.PollID.MathBigInt()),
	}
}

// Equal implements Command.
func (c *TopupCommand) Equal(o Command) bool {
	t, ok := o.(*TopupCommand)
	if !ok {
		return false
	}
	return c.StateIndex.Equal(t.StateIndex) &&
		c.Amount.Equal(t.Amount) &&
		c.PollID.Equal(t.PollID)
}

// commandEnvelope is the persisted form of a Command, discriminated by
// cmdType.
type commandEnvelope struct {
	CmdType string          `json:"cmdType"`
	Body    json.RawMessage `json:"body"`
}

// MarshalCommandJSON serializes a command with its type discriminator.
func MarshalCommandJSON(c Command) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandEnvelope{CmdType: c.CmdType(), Body: body})
}

// UnmarshalCommandJSON restores a command from its persisted form.
func UnmarshalCommandJSON(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.CmdType {
	case CmdTypeVote:
		cmd := &VoteCommand{}
		if err := json.Unmarshal(env.Body, cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case CmdTypeTopup:
		cmd := &TopupCommand{}
		if err := json.Unmarshal(env.Body, cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", env.CmdType)
	}
}
