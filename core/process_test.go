package core

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/domain"
	"github.com/vocdoni/maci-coordinator/types"
)

func TestIngestKeepsArraysAligned(t *testing.T) {
	c := qt.New(t)
	_, poll, voters := newTestPoll(c, 2)

	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 0, 3, 1, 50)
	publishTopup(c, poll, 2, 10)
	publishVote(c, poll, voters[1].PrivKey, voters[1].PubKey, 2, 1, 4, 1, 51)

	n := len(poll.Messages())
	c.Assert(n, qt.Equals, 3)
	c.Assert(poll.EncPubKeys(), qt.HasLen, n)
	c.Assert(poll.Commands(), qt.HasLen, n)
	c.Assert(poll.MessageTree().NextIndex(), qt.Equals, n)

	// every appended message's hash is the tree leaf at its index
	for i, msg := range poll.Messages() {
		path := poll.MessageTree().GenMerklePath(i)
		c.Assert(path.Leaf.Cmp(msg.Hash(poll.EncPubKeys()[i])), qt.Equals, 0)
	}
}

func TestUndecryptableMessageYieldsBlankCommand(t *testing.T) {
	c := qt.New(t)
	_, poll, _ := newTestPoll(c, 1)

	// a message encrypted under a key the coordinator cannot derive
	garbage := make([]*big.Int, types.MessageDataLength)
	for i := range garbage {
		garbage[i] = big.NewInt(int64(1000 + i))
	}
	msg, err := domain.NewMessage(types.MsgTypeVote, garbage)
	c.Assert(err, qt.IsNil)
	ephemeral := babyjub.NewKeypairFromSeed(testSeed(60))
	c.Assert(poll.PublishMessage(msg, ephemeral.PubKey), qt.IsNil)

	c.Assert(poll.Commands(), qt.HasLen, 1)
	c.Assert(poll.Commands()[0].Equal(domain.BlankVoteCommand()), qt.IsTrue)

	// processing converts it into placeholders without touching state
	processAll(c, poll)
	c.Assert(poll.StateLeaves()[1].VoiceCreditBalance.String(), qt.Equals, "100")
}

func TestSnapshotInvariants(t *testing.T) {
	c := qt.New(t)
	maci, poll, voters := newTestPoll(c, 3)

	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 0, 1, 1, 50)
	_, err := poll.ProcessMessages(poll.PollID)
	c.Assert(err, qt.IsNil)

	c.Assert(poll.Ballots(), qt.HasLen, len(poll.StateLeaves()))
	c.Assert(poll.BallotTree().NextIndex(), qt.Equals, len(poll.Ballots()))
	c.Assert(poll.StateTree().NextIndex(), qt.Equals, len(poll.StateLeaves()))

	// the snapshot is independent: later signups do not leak into the poll
	newVoter := babyjub.NewKeypairFromSeed(testSeed(70))
	_, err = maci.SignUp(newVoter.PubKey, big.NewInt(testInitialCredits), big.NewInt(9))
	c.Assert(err, qt.IsNil)
	c.Assert(poll.StateLeaves(), qt.HasLen, 4)
	c.Assert(maci.StateLeaves(), qt.HasLen, 5)

	// and mutations inside the poll do not leak back
	c.Assert(maci.StateLeaves()[1].VoiceCreditBalance.String(), qt.Equals, "100")
}

func TestRejectedCommandLeavesStateUntouched(t *testing.T) {
	c := qt.New(t)
	_, poll, voters := newTestPoll(c, 2)
	wrongKey := babyjub.NewKeypairFromSeed(testSeed(71))

	// invalid signature, invalid nonce, invalid state index, invalid option
	publishVote(c, poll, wrongKey.PrivKey, voters[0].PubKey, 1, 0, 3, 1, 50)
	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 0, 3, 5, 51)
	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 7, 0, 3, 1, 52)
	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 30, 3, 1, 53)

	processAll(c, poll)

	for i, leaf := range poll.StateLeaves() {
		if i == 0 {
			continue
		}
		c.Assert(leaf.VoiceCreditBalance.String(), qt.Equals, "100")
		c.Assert(leaf.PubKey.Equal(voters[i-1].PubKey), qt.IsTrue)
	}
	for i := 1; i < len(poll.Ballots()); i++ {
		c.Assert(poll.Ballots()[i].Equal(domain.BlankBallot(2)), qt.IsTrue)
	}
}

func TestBalanceConservation(t *testing.T) {
	c := qt.New(t)
	_, poll, voters := newTestPoll(c, 1)

	// Messages are processed in reverse order of append, so the nonce-1
	// command goes last: vote weight 6, then change it to 8 on the same
	// option. The refund-and-repay accounting nets out to 100 - 8^2.
	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 2, 8, 2, 51)
	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 2, 6, 1, 50)
	processAll(c, poll)

	c.Assert(poll.StateLeaves()[1].VoiceCreditBalance.String(), qt.Equals, "36")
	c.Assert(poll.Ballots()[1].Votes[2].String(), qt.Equals, "8")
	c.Assert(poll.Ballots()[1].Nonce.String(), qt.Equals, "2")
}

func TestZeroMessagePollClaimsOneBatch(t *testing.T) {
	c := qt.New(t)
	_, poll, _ := newTestPoll(c, 1)

	c.Assert(poll.HasUnprocessedMessages(), qt.IsTrue)
	inputs, err := poll.ProcessMessages(poll.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(poll.HasUnprocessedMessages(), qt.IsFalse)
	c.Assert(inputs.CurrentStateLeaves, qt.HasLen, 5)
	c.Assert(inputs.Msgs, qt.HasLen, 0)

	_, err = poll.ProcessMessages(poll.PollID)
	c.Assert(err, qt.ErrorMatches, "no more messages to process")
}

func TestProcessingLock(t *testing.T) {
	c := qt.New(t)
	maci, pollA, voters := newTestPoll(c, 1)

	coordinator := babyjub.NewKeypairFromSeed(testSeed(101))
	pollBID, err := maci.DeployPoll(big.NewInt(1700000000),
		testMaxValues(), testTreeDepths(), testBatchSizes(), coordinator)
	c.Assert(err, qt.IsNil)
	pollB, err := maci.Poll(pollBID)
	c.Assert(err, qt.IsNil)
	pollB.SaltSource = counterSalts()

	// six messages: two batches, so the lock stays held after the first
	for i := 0; i < 6; i++ {
		publishVote(c, pollA, voters[0].PrivKey, voters[0].PubKey, 1, 0, 1, int64(i+1), byte(50+i))
	}
	publishVote(c, pollB, voters[0].PrivKey, voters[0].PubKey, 1, 0, 1, 1, 60)

	_, err = pollA.ProcessMessages(pollA.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(maci.PollBeingProcessed(), qt.IsTrue)

	_, err = pollB.ProcessMessages(pollB.PollID)
	c.Assert(err, qt.ErrorMatches, "poll 0 is still being processed")

	_, err = pollA.ProcessMessages(pollA.PollID)
	c.Assert(err, qt.IsNil)
	c.Assert(pollA.HasUnprocessedMessages(), qt.IsFalse)
	c.Assert(maci.PollBeingProcessed(), qt.IsFalse)

	_, err = pollB.ProcessMessages(pollB.PollID)
	c.Assert(err, qt.IsNil)
}

func TestBatchSizeIndependence(t *testing.T) {
	c := qt.New(t)

	finalRoots := func(subDepth, messageBatchSize int) (*big.Int, *big.Int) {
		maci := NewMaciState(testStateTreeDepth)
		voters := make([]*babyjub.Keypair, 2)
		for i := range voters {
			voters[i] = babyjub.NewKeypairFromSeed(testSeed(byte(i + 1)))
			_, err := maci.SignUp(voters[i].PubKey,
				big.NewInt(testInitialCredits), big.NewInt(int64(i+1)))
			c.Assert(err, qt.IsNil)
		}
		coordinator := babyjub.NewKeypairFromSeed(testSeed(100))
		treeDepths := testTreeDepths()
		treeDepths.MessageTreeSubDepth = subDepth
		batchSizes := testBatchSizes()
		batchSizes.MessageBatchSize = messageBatchSize
		pollID, err := maci.DeployPoll(big.NewInt(1700000000),
			testMaxValues(), treeDepths, batchSizes, coordinator)
		c.Assert(err, qt.IsNil)
		poll, err := maci.Poll(pollID)
		c.Assert(err, qt.IsNil)
		poll.SaltSource = counterSalts()

		for i := int64(0); i < 4; i++ {
			publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, i, i+1, i+1, byte(50+i))
		}
		for i := int64(0); i < 3; i++ {
			publishVote(c, poll, voters[1].PrivKey, voters[1].PubKey, 2, i, 2, i+1, byte(60+i))
		}
		processAll(c, poll)
		return poll.StateTree().Root(), poll.BallotTree().Root()
	}

	stateRootSmall, ballotRootSmall := finalRoots(1, 5)
	stateRootLarge, ballotRootLarge := finalRoots(2, 25)
	c.Assert(stateRootSmall.Cmp(stateRootLarge), qt.Equals, 0)
	c.Assert(ballotRootSmall.Cmp(ballotRootLarge), qt.Equals, 0)
}
