package core

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSubsidyTriangleWalk(t *testing.T) {
	c := qt.New(t)
	// two voters with identical non-zero votes; with the sentinel that is 3
	// ballots, and with batch size 2 the walk visits (0,0), (0,1), (1,1)
	_, poll, voters := newTestPoll(c, 2)

	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 2, 4, 1, 50)
	publishVote(c, poll, voters[1].PrivKey, voters[1].PubKey, 2, 2, 4, 1, 51)
	processAll(c, poll)

	c.Assert(poll.HasUnfinishedSubsidyCalculation(), qt.IsTrue)

	first, err := poll.SubsidyPerBatch()
	c.Assert(err, qt.IsNil)
	c.Assert(first.PackedVals.MathBigInt().Cmp(packSubsidySmallVals(0, 0, 2)), qt.Equals, 0)
	c.Assert(first.CurrentSubsidyCommitment.String(), qt.Equals, "0")

	second, err := poll.SubsidyPerBatch()
	c.Assert(err, qt.IsNil)
	c.Assert(second.PackedVals.MathBigInt().Cmp(packSubsidySmallVals(0, 1, 2)), qt.Equals, 0)
	// the chain continues from the first block's commitment
	c.Assert(second.CurrentSubsidyCommitment.Equal(first.NewSubsidyCommitment), qt.IsTrue)

	third, err := poll.SubsidyPerBatch()
	c.Assert(err, qt.IsNil)
	c.Assert(third.PackedVals.MathBigInt().Cmp(packSubsidySmallVals(1, 1, 2)), qt.Equals, 0)
	c.Assert(third.CurrentSubsidyCommitment.Equal(second.NewSubsidyCommitment), qt.IsTrue)

	c.Assert(poll.HasUnfinishedSubsidyCalculation(), qt.IsFalse)
	_, err = poll.SubsidyPerBatch()
	c.Assert(err, qt.ErrorMatches, "subsidy calculation already finished")

	// the only contributing pair is (ballot 1, ballot 2):
	// k = floor(50 * 10^4 / (50 + 4*4)), subsidy[2] = 2 * k * 4 * 4
	k := big.NewInt(500000 / 66)
	expected := new(big.Int).Mul(big.NewInt(32), k)
	c.Assert(poll.Subsidy()[2].Cmp(expected), qt.Equals, 0)
	for opt, s := range poll.Subsidy() {
		if opt == 2 {
			continue
		}
		c.Assert(s.Sign(), qt.Equals, 0)
	}
}

func TestSubsidyBeforeProcessingFails(t *testing.T) {
	c := qt.New(t)
	_, poll, voters := newTestPoll(c, 1)
	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 0, 1, 1, 50)

	_, err := poll.SubsidyPerBatch()
	c.Assert(err, qt.ErrorMatches, "cannot compute subsidy before.*")
}

func TestSubsidyCoefficient(t *testing.T) {
	c := qt.New(t)
	_, poll, voters := newTestPoll(c, 2)

	// orthogonal votes: zero dot product, maximal coefficient
	publishVote(c, poll, voters[0].PrivKey, voters[0].PubKey, 1, 0, 3, 1, 50)
	publishVote(c, poll, voters[1].PrivKey, voters[1].PubKey, 2, 1, 3, 1, 51)
	processAll(c, poll)

	for poll.HasUnfinishedSubsidyCalculation() {
		_, err := poll.SubsidyPerBatch()
		c.Assert(err, qt.IsNil)
	}
	// k = floor(500000 / 50) = 10000 but every product v1[p]*v2[p] is zero
	for _, s := range poll.Subsidy() {
		c.Assert(s.Sign(), qt.Equals, 0)
	}
}
