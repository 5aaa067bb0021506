package domain

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/types"
)

func seed(b byte) [32]byte {
	var s [32]byte
	for i := range s {
		s[i] = b
	}
	return s
}

func testVoteCommand(k *babyjub.Keypair) *VoteCommand {
	return &VoteCommand{
		StateIndex:      types.NewInt(1),
		NewPubKey:       k.PubKey.Copy(),
		VoteOptionIndex: types.NewInt(3),
		NewVoteWeight:   types.NewInt(5),
		Nonce:           types.NewInt(1),
		PollID:          types.NewInt(0),
		Salt:            types.NewInt(42),
	}
}

func TestStateLeafHash(t *testing.T) {
	c := qt.New(t)

	blank := BlankStateLeaf()
	c.Assert(blank.PubKey.X.Cmp(types.PadKeyX), qt.Equals, 0)
	c.Assert(blank.PubKey.Y.Cmp(types.PadKeyY), qt.Equals, 0)
	c.Assert(blank.Hash().Cmp(BlankStateLeaf().Hash()), qt.Equals, 0)

	k := babyjub.NewKeypairFromSeed(seed(1))
	leaf := NewStateLeaf(k.PubKey, big.NewInt(100), big.NewInt(1))
	c.Assert(leaf.Hash().Cmp(blank.Hash()), qt.Not(qt.Equals), 0)

	cp := leaf.Copy()
	c.Assert(cp.Equal(leaf), qt.IsTrue)
	cp.VoiceCreditBalance = types.NewInt(99)
	c.Assert(cp.Equal(leaf), qt.IsFalse)
	c.Assert(leaf.VoiceCreditBalance.String(), qt.Equals, "100")
}

func TestBallotHash(t *testing.T) {
	c := qt.New(t)

	blank := BlankBallot(2)
	c.Assert(blank.Votes, qt.HasLen, 25)

	voted := blank.Copy()
	voted.Votes[3] = types.NewInt(5)
	c.Assert(voted.Hash().Cmp(blank.Hash()), qt.Not(qt.Equals), 0)

	bumped := blank.Copy()
	bumped.Nonce = types.NewInt(1)
	c.Assert(bumped.Hash().Cmp(blank.Hash()), qt.Not(qt.Equals), 0)

	c.Assert(blank.Equal(BlankBallot(2)), qt.IsTrue)
	c.Assert(voted.Equal(blank), qt.IsFalse)
}

func TestMessageHash(t *testing.T) {
	c := qt.New(t)

	data := make([]*big.Int, types.MessageDataLength)
	for i := range data {
		data[i] = big.NewInt(int64(i + 1))
	}
	msg, err := NewMessage(types.MsgTypeVote, data)
	c.Assert(err, qt.IsNil)

	k1 := babyjub.NewKeypairFromSeed(seed(2)).PubKey
	k2 := babyjub.NewKeypairFromSeed(seed(3)).PubKey
	c.Assert(msg.Hash(k1).Cmp(msg.Hash(k1)), qt.Equals, 0)
	c.Assert(msg.Hash(k1).Cmp(msg.Hash(k2)), qt.Not(qt.Equals), 0)

	_, err = NewMessage(types.MsgTypeVote, data[:9])
	c.Assert(err, qt.ErrorMatches, ".*must have 10 words.*")
}

func TestVoteCommandPacking(t *testing.T) {
	c := qt.New(t)

	k := babyjub.NewKeypairFromSeed(seed(4))
	cmd := testVoteCommand(k)
	p := cmd.Pack()

	restored := unpackVoteCommand(p)
	c.Assert(restored.StateIndex.String(), qt.Equals, "1")
	c.Assert(restored.VoteOptionIndex.String(), qt.Equals, "3")
	c.Assert(restored.NewVoteWeight.String(), qt.Equals, "5")
	c.Assert(restored.Nonce.String(), qt.Equals, "1")
	c.Assert(restored.PollID.String(), qt.Equals, "0")

	// the packed fields land on 50-bit boundaries
	expected := new(big.Int).SetInt64(1)
	expected.Or(expected, new(big.Int).Lsh(big.NewInt(3), 50))
	expected.Or(expected, new(big.Int).Lsh(big.NewInt(5), 100))
	expected.Or(expected, new(big.Int).Lsh(big.NewInt(1), 150))
	c.Assert(p.Cmp(expected), qt.Equals, 0)
}

func TestVoteCommandSignature(t *testing.T) {
	c := qt.New(t)

	voter := babyjub.NewKeypairFromSeed(seed(5))
	cmd := testVoteCommand(voter)
	sig := cmd.Sign(voter.PrivKey)
	c.Assert(cmd.VerifySignature(sig, voter.PubKey), qt.IsTrue)

	other := babyjub.NewKeypairFromSeed(seed(6))
	c.Assert(cmd.VerifySignature(sig, other.PubKey), qt.IsFalse)

	tampered := cmd.Copy().(*VoteCommand)
	tampered.NewVoteWeight = types.NewInt(6)
	c.Assert(tampered.VerifySignature(sig, voter.PubKey), qt.IsFalse)
}

func TestVoteCommandEncryptDecrypt(t *testing.T) {
	c := qt.New(t)

	voter := babyjub.NewKeypairFromSeed(seed(7))
	coordinator := babyjub.NewKeypairFromSeed(seed(8))
	ephemeral := babyjub.NewKeypairFromSeed(seed(9))

	cmd := testVoteCommand(voter)
	sig := cmd.Sign(voter.PrivKey)

	sharedKey := babyjub.EcdhSharedKey(ephemeral.PrivKey, coordinator.PubKey)
	msg, err := cmd.Encrypt(sig, sharedKey)
	c.Assert(err, qt.IsNil)
	c.Assert(msg.MsgType.String(), qt.Equals, "1")
	c.Assert(msg.Data, qt.HasLen, types.MessageDataLength)

	// the coordinator derives the same shared key from the ephemeral pubkey
	coordKey := babyjub.EcdhSharedKey(coordinator.PrivKey, ephemeral.PubKey)
	restored, restoredSig, err := DecryptVoteCommand(msg, coordKey)
	c.Assert(err, qt.IsNil)
	c.Assert(restored.Equal(cmd), qt.IsTrue)
	c.Assert(restored.VerifySignature(restoredSig, voter.PubKey), qt.IsTrue)

	// a wrong key cannot decrypt
	wrongKey := babyjub.EcdhSharedKey(voter.PrivKey, ephemeral.PubKey)
	_, _, err = DecryptVoteCommand(msg, wrongKey)
	c.Assert(err, qt.ErrorMatches, "decrypt command.*")
}

func TestCommandJSON(t *testing.T) {
	c := qt.New(t)

	vote := testVoteCommand(babyjub.NewKeypairFromSeed(seed(10)))
	data, err := MarshalCommandJSON(vote)
	c.Assert(err, qt.IsNil)
	restored, err := UnmarshalCommandJSON(data)
	c.Assert(err, qt.IsNil)
	c.Assert(restored.CmdType(), qt.Equals, CmdTypeVote)
	c.Assert(restored.Equal(vote), qt.IsTrue)

	topup := &TopupCommand{
		StateIndex: types.NewInt(1),
		Amount:     types.NewInt(50),
		PollID:     types.NewInt(0),
	}
	data, err = MarshalCommandJSON(topup)
	c.Assert(err, qt.IsNil)
	restored, err = UnmarshalCommandJSON(data)
	c.Assert(err, qt.IsNil)
	c.Assert(restored.CmdType(), qt.Equals, CmdTypeTopup)
	c.Assert(restored.Equal(topup), qt.IsTrue)
	c.Assert(restored.Equal(vote), qt.IsFalse)

	_, err = UnmarshalCommandJSON([]byte(`{"cmdType":"9","body":{}}`))
	c.Assert(err, qt.ErrorMatches, `unknown command type "9"`)
}
