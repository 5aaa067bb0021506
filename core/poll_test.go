package core

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/domain"
	"github.com/vocdoni/maci-coordinator/types"
)

// Shared fixture: stateTreeDepth 10, message tree depth 2 (subdepth 1, so
// batches of 5 messages), vote option tree depth 2 (25 options), 100 initial
// voice credits per voter.

const (
	testStateTreeDepth = 10
	testInitialCredits = 100
)

func testTreeDepths() types.TreeDepths {
	return types.TreeDepths{
		IntStateTreeDepth:   1,
		MessageTreeDepth:    2,
		MessageTreeSubDepth: 1,
		VoteOptionTreeDepth: 2,
	}
}

func testBatchSizes() types.BatchSizes {
	return types.BatchSizes{
		MessageBatchSize: 5,
		TallyBatchSize:   5,
		SubsidyBatchSize: 2,
	}
}

func testMaxValues() types.MaxValues {
	return types.MaxValues{MaxMessages: 25, MaxVoteOptions: 25}
}

func testSeed(b byte) [32]byte {
	var s [32]byte
	for i := range s {
		s[i] = b
	}
	return s
}

// counterSalts yields 1, 2, 3, ... so that every run is reproducible.
func counterSalts() func() *big.Int {
	n := int64(0)
	return func() *big.Int {
		n++
		return big.NewInt(n)
	}
}

// newTestPoll deploys a poll over numVoters freshly signed up voters with
// deterministic keys and salts.
func newTestPoll(c *qt.C, numVoters int) (*MaciState, *Poll, []*babyjub.Keypair) {
	maci := NewMaciState(testStateTreeDepth)
	voters := make([]*babyjub.Keypair, numVoters)
	for i := range voters {
		voters[i] = babyjub.NewKeypairFromSeed(testSeed(byte(i + 1)))
		index, err := maci.SignUp(voters[i].PubKey,
			big.NewInt(testInitialCredits), big.NewInt(int64(i+1)))
		c.Assert(err, qt.IsNil)
		c.Assert(index, qt.Equals, i+1)
	}
	coordinator := babyjub.NewKeypairFromSeed(testSeed(100))
	pollID, err := maci.DeployPoll(big.NewInt(1700000000),
		testMaxValues(), testTreeDepths(), testBatchSizes(), coordinator)
	c.Assert(err, qt.IsNil)
	poll, err := maci.Poll(pollID)
	c.Assert(err, qt.IsNil)
	poll.SaltSource = counterSalts()
	return maci, poll, voters
}

// publishVote signs a vote command with signer, encrypts it under a
// deterministic ephemeral key and publishes it.
func publishVote(c *qt.C, poll *Poll, signer *babyjub.PrivKey, newPubKey *babyjub.PubKey,
	stateIndex, voteOption, weight, nonce int64, ephemeralSeed byte,
) {
	cmd := &domain.VoteCommand{
		StateIndex:      types.FromBigInt(big.NewInt(stateIndex)),
		NewPubKey:       newPubKey.Copy(),
		VoteOptionIndex: types.FromBigInt(big.NewInt(voteOption)),
		NewVoteWeight:   types.FromBigInt(big.NewInt(weight)),
		Nonce:           types.FromBigInt(big.NewInt(nonce)),
		PollID:          types.NewInt(poll.PollID),
		Salt:            types.NewInt(7),
	}
	sig := cmd.Sign(signer)
	ephemeral := babyjub.NewKeypairFromSeed(testSeed(ephemeralSeed))
	sharedKey := babyjub.EcdhSharedKey(ephemeral.PrivKey, poll.CoordinatorKeypair.PubKey)
	msg, err := cmd.Encrypt(sig, sharedKey)
	c.Assert(err, qt.IsNil)
	c.Assert(poll.PublishMessage(msg, ephemeral.PubKey), qt.IsNil)
}

// publishTopup publishes a type-2 message crediting stateIndex with amount.
func publishTopup(c *qt.C, poll *Poll, stateIndex, amount int64) {
	data := make([]*big.Int, types.MessageDataLength)
	for i := range data {
		data[i] = big.NewInt(0)
	}
	data[0] = big.NewInt(stateIndex)
	data[1] = big.NewInt(amount)
	msg, err := domain.NewMessage(types.MsgTypeTopup, data)
	c.Assert(err, qt.IsNil)
	c.Assert(poll.TopupMessage(msg), qt.IsNil)
}

func processAll(c *qt.C, poll *Poll) {
	for poll.HasUnprocessedMessages() {
		_, err := poll.ProcessMessages(poll.PollID)
		c.Assert(err, qt.IsNil)
	}
}

func tallyAll(c *qt.C, poll *Poll) {
	for poll.HasUntalliedBallots() {
		_, err := poll.TallyVotes()
		c.Assert(err, qt.IsNil)
	}
}

func TestSingleValidVote(t *testing.T) {
	c := qt.New(t)
	_, poll, voters := newTestPoll(c, 1)

	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 3, 5, 1, 50)
	processAll(c, poll)
	tallyAll(c, poll)

	c.Assert(poll.TallyResult()[3].String(), qt.Equals, "5")
	c.Assert(poll.TotalSpentVoiceCredits().String(), qt.Equals, "25")
	c.Assert(poll.StateLeaves()[1].VoiceCreditBalance.String(), qt.Equals, "75")
	c.Assert(poll.Ballots()[1].Nonce.String(), qt.Equals, "1")
	c.Assert(poll.PerVOSpentVoiceCredits()[3].String(), qt.Equals, "25")
}

func TestKeyChangeThenVote(t *testing.T) {
	c := qt.New(t)
	_, poll, voters := newTestPoll(c, 1)
	newKey := babyjub.NewKeypairFromSeed(testSeed(42))

	// (a) key change with zero weight, signed with the current key
	publishVote(c, poll, voters[0].PrivKey, newKey.PubKey, 1, 0, 0, 1, 50)
	// (b) vote signed with the new key; processed first because of the
	// reverse order, where the leaf still holds the old key
	publishVote(c, poll, newKey.PrivKey, newKey.PubKey, 1, 0, 4, 2, 51)

	processAll(c, poll)

	c.Assert(poll.Ballots()[1].Votes[0].String(), qt.Equals, "0")
	c.Assert(poll.Ballots()[1].Nonce.String(), qt.Equals, "1")
	c.Assert(poll.StateLeaves()[1].PubKey.Equal(newKey.PubKey), qt.IsTrue)
	c.Assert(poll.StateLeaves()[1].VoiceCreditBalance.String(), qt.Equals, "100")
}

func TestOverSpendRejected(t *testing.T) {
	c := qt.New(t)
	_, poll, voters := newTestPoll(c, 1)

	// 11^2 = 121 > 100 credits
	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 0, 11, 1, 50)
	processAll(c, poll)
	tallyAll(c, poll)

	c.Assert(poll.Ballots()[1].Equal(domain.BlankBallot(2)), qt.IsTrue)
	c.Assert(poll.StateLeaves()[1].VoiceCreditBalance.String(), qt.Equals, "100")
	for _, r := range poll.TallyResult() {
		c.Assert(r.Sign(), qt.Equals, 0)
	}
	c.Assert(poll.TotalSpentVoiceCredits().Sign(), qt.Equals, 0)
}

func TestTopup(t *testing.T) {
	c := qt.New(t)
	_, poll, _ := newTestPoll(c, 1)

	publishTopup(c, poll, 1, 50)
	c.Assert(poll.EncPubKeys()[0].Equal(babyjub.PadKey()), qt.IsTrue)

	processAll(c, poll)

	c.Assert(poll.StateLeaves()[1].VoiceCreditBalance.String(), qt.Equals, "150")
	c.Assert(poll.Ballots()[1].Equal(domain.BlankBallot(2)), qt.IsTrue)
}

func TestTopupOutOfRangeIndexIsNoop(t *testing.T) {
	c := qt.New(t)
	_, poll, _ := newTestPoll(c, 1)

	publishTopup(c, poll, 9, 50)
	processAll(c, poll)

	// the out-of-range index redirects to the sentinel with a zero amount
	c.Assert(poll.StateLeaves()[0].VoiceCreditBalance.String(), qt.Equals, "0")
	c.Assert(poll.StateLeaves()[1].VoiceCreditBalance.String(), qt.Equals, "100")
}

func TestPartialBatchPadding(t *testing.T) {
	c := qt.New(t)
	_, poll, voters := newTestPoll(c, 3)

	for i := int64(0); i < 3; i++ {
		publishVote(c, poll, voters[i].PrivKey, voters[i].PubKey, i+1, i, 2, 1, byte(50+i))
	}
	inputs, err := poll.ProcessMessages(poll.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(poll.HasUnprocessedMessages(), qt.IsFalse)

	// maxVoteOptions | numSignUps<<50 | batchStart<<100 | batchEnd<<150
	expected := big.NewInt(25)
	expected.Or(expected, new(big.Int).Lsh(big.NewInt(3), 50))
	expected.Or(expected, new(big.Int).Lsh(big.NewInt(0), 100))
	expected.Or(expected, new(big.Int).Lsh(big.NewInt(3), 150))
	c.Assert(inputs.PackedVals.MathBigInt().Cmp(expected), qt.Equals, 0)

	// the batch is padded to 5 messages by repeating the last one
	c.Assert(inputs.Msgs, qt.HasLen, 5)
	c.Assert(inputs.Msgs[3], qt.DeepEquals, inputs.Msgs[2])
	c.Assert(inputs.Msgs[4], qt.DeepEquals, inputs.Msgs[2])
	c.Assert(inputs.EncPubKeys, qt.HasLen, 5)
	c.Assert(inputs.CurrentStateLeaves, qt.HasLen, 5)
	c.Assert(inputs.CurrentVoteWeights, qt.HasLen, 5)
}
