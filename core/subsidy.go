package core

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
	"github.com/vocdoni/maci-coordinator/domain"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

// Subsidy coefficient parameters: k = floor(MM * 10^WW / (MM + <v_i, v_j>)).
// The divisor dampens the bonus for identical voting patterns.
const (
	subsidyMM = 50
	subsidyWW = 4
)

// SubsidyInputs is the witness of one Subsidy circuit run over a pair of
// ballot batches.
type SubsidyInputs struct {
	StateRoot                *types.BigInt `json:"stateRoot"`
	BallotRoot               *types.BigInt `json:"ballotRoot"`
	SbSalt                   *types.BigInt `json:"sbSalt"`
	SbCommitment             *types.BigInt `json:"sbCommitment"`
	CurrentSubsidySalt       *types.BigInt `json:"currentSubsidySalt"`
	NewSubsidySalt           *types.BigInt `json:"newSubsidySalt"`
	CurrentSubsidyCommitment *types.BigInt `json:"currentSubsidyCommitment"`
	NewSubsidyCommitment     *types.BigInt `json:"newSubsidyCommitment"`
	PackedVals               *types.BigInt `json:"packedVals"`
	InputHash                *types.BigInt `json:"inputHash"`

	Ballots1            [][]*types.BigInt   `json:"ballots1"`
	Ballots2            [][]*types.BigInt   `json:"ballots2"`
	Votes1              [][]*types.BigInt   `json:"votes1"`
	Votes2              [][]*types.BigInt   `json:"votes2"`
	BallotPathElements1 [][][]*types.BigInt `json:"ballotPathElements1"`
	BallotPathElements2 [][][]*types.BigInt `json:"ballotPathElements2"`

	CurrentSubsidy []*types.BigInt `json:"currentSubsidy"`
}

// HasUnfinishedSubsidyCalculation reports whether the triangular batch walk
// still has blocks left.
func (p *Poll) HasUnfinishedSubsidyCalculation() bool {
	batchSize := p.BatchSizes.SubsidyBatchSize
	return p.rbi*batchSize < len(p.ballots) && p.cbi*batchSize < len(p.ballots)
}

// SubsidyPerBatch accumulates the pairwise subsidy contributions of the
// current (row, column) ballot block and returns the circuit inputs proving
// the step, then advances the walk.
func (p *Poll) SubsidyPerBatch() (*SubsidyInputs, error) {
	if p.HasUnprocessedMessages() {
		return nil, fmt.Errorf("cannot compute subsidy before all message batches are processed")
	}
	if !p.HasUnfinishedSubsidyCalculation() {
		return nil, fmt.Errorf("subsidy calculation already finished")
	}
	batchSize := p.BatchSizes.SubsidyBatchSize
	rowStartIndex := p.rbi * batchSize
	colStartIndex := p.cbi * batchSize

	currentSubsidySalt := big.NewInt(0)
	currentSubsidyCommitment := big.NewInt(0)
	if p.rbi != 0 || p.cbi != 0 {
		currentSubsidySalt = p.subsidySalts[p.previousSubsidyIndexKey()]
		currentSubsidyCommitment = tree.TreeCommitment(
			p.subsidy, currentSubsidySalt, p.TreeDepths.VoteOptionTreeDepth)
	}
	currentSubsidy := copyBigSlice(p.subsidy)

	rowBallots := p.subsidyBallotSlice(rowStartIndex)
	colBallots := p.subsidyBallotSlice(colStartIndex)
	p.calculateSubsidy(rowStartIndex, colStartIndex, rowBallots, colBallots)

	newSubsidySalt := p.freshSalt(p.subsidySalts[subsidyIndexKey(p.rbi, p.cbi)])
	p.subsidySalts[subsidyIndexKey(p.rbi, p.cbi)] = newSubsidySalt
	newSubsidyCommitment := tree.TreeCommitment(
		p.subsidy, newSubsidySalt, p.TreeDepths.VoteOptionTreeDepth)

	sbSalt := p.sbSalts[p.currentMessageBatchIndex]
	sbCommitment := poseidon.Hash3(p.stateTree.Root(), p.ballotTree.Root(), sbSalt)
	packedVals := packSubsidySmallVals(p.rbi, p.cbi, p.numSignUps)
	inputHash := poseidon.Sha256ToField([]*big.Int{
		packedVals, sbCommitment, currentSubsidyCommitment, newSubsidyCommitment,
	})

	inputs := &SubsidyInputs{
		StateRoot:                types.FromBigInt(p.stateTree.Root()),
		BallotRoot:               types.FromBigInt(p.ballotTree.Root()),
		SbSalt:                   types.FromBigInt(sbSalt),
		SbCommitment:             types.FromBigInt(sbCommitment),
		CurrentSubsidySalt:       types.FromBigInt(currentSubsidySalt),
		NewSubsidySalt:           types.FromBigInt(newSubsidySalt),
		CurrentSubsidyCommitment: types.FromBigInt(currentSubsidyCommitment),
		NewSubsidyCommitment:     types.FromBigInt(newSubsidyCommitment),
		PackedVals:               types.FromBigInt(packedVals),
		InputHash:                types.FromBigInt(inputHash),

		Ballots1:            ballotsAsInputs(rowBallots),
		Ballots2:            ballotsAsInputs(colBallots),
		Votes1:              votesAsInputs(rowBallots),
		Votes2:              votesAsInputs(colBallots),
		BallotPathElements1: p.subsidyBallotPaths(rowStartIndex),
		BallotPathElements2: p.subsidyBallotPaths(colStartIndex),

		CurrentSubsidy: bigsAsInputs(currentSubsidy),
	}

	log.Debugw("subsidy block computed", "pollId", p.PollID, "rbi", p.rbi, "cbi", p.cbi)
	// Advance: walk the row to its end, then start the next row at the
	// diagonal.
	if (p.cbi+1)*batchSize < len(p.ballots) {
		p.cbi++
	} else {
		p.rbi++
		p.cbi = p.rbi
	}
	return inputs, nil
}

// calculateSubsidy adds the pairwise contributions of a block. On diagonal
// blocks only the strict upper triangle counts, so each unordered voter pair
// contributes exactly once across the walk.
func (p *Poll) calculateSubsidy(rowStartIndex, colStartIndex int, rowBallots, colBallots []*domain.Ballot) {
	batchSize := p.BatchSizes.SubsidyBatchSize
	for i := 0; i < batchSize; i++ {
		for j := 0; j < batchSize; j++ {
			if rowStartIndex == colStartIndex && i >= j {
				continue
			}
			vi := rowBallots[i].Votes
			vj := colBallots[j].Votes
			k := subsidyCoefficient(vi, vj, p.MaxValues.MaxVoteOptions)
			for opt := 0; opt < p.MaxValues.MaxVoteOptions; opt++ {
				contribution := new(big.Int).Mul(vi[opt].MathBigInt(), vj[opt].MathBigInt())
				contribution.Mul(contribution, k)
				contribution.Lsh(contribution, 1)
				p.subsidy[opt].Add(p.subsidy[opt], contribution)
			}
		}
	}
}

// subsidyCoefficient computes k = floor(MM * 10^WW / (MM + <vi, vj>)).
func subsidyCoefficient(vi, vj []*types.BigInt, numOptions int) *big.Int {
	dot := big.NewInt(0)
	for opt := 0; opt < numOptions; opt++ {
		dot.Add(dot, new(big.Int).Mul(vi[opt].MathBigInt(), vj[opt].MathBigInt()))
	}
	numerator := new(big.Int).Exp(big.NewInt(10), big.NewInt(subsidyWW), nil)
	numerator.Mul(numerator, big.NewInt(subsidyMM))
	return numerator.Div(numerator, dot.Add(dot, big.NewInt(subsidyMM)))
}

// subsidyBallotSlice returns the batch of ballots starting at start, padded
// with empty ballots.
func (p *Poll) subsidyBallotSlice(start int) []*domain.Ballot {
	batchSize := p.BatchSizes.SubsidyBatchSize
	ballots := make([]*domain.Ballot, 0, batchSize)
	for i := start; i < min(start+batchSize, len(p.ballots)); i++ {
		ballots = append(ballots, p.ballots[i])
	}
	emptyBallot := domain.BlankBallot(p.TreeDepths.VoteOptionTreeDepth)
	for len(ballots) < batchSize {
		ballots = append(ballots, emptyBallot)
	}
	return ballots
}

// subsidyBallotPaths returns one Merkle path per ballot slot of the batch.
// Slots beyond the tree point at the sentinel index 0.
func (p *Poll) subsidyBallotPaths(start int) [][][]*types.BigInt {
	batchSize := p.BatchSizes.SubsidyBatchSize
	paths := make([][][]*big.Int, 0, batchSize)
	for i := start; i < start+batchSize; i++ {
		index := i
		if index >= p.ballotTree.NextIndex() {
			index = 0
		}
		paths = append(paths, p.ballotTree.GenMerklePath(index).PathElements)
	}
	return pathsAsInputs(paths)
}

// previousSubsidyIndexKey recovers the salt key of the block computed before
// the current one. When a row ends, the column index wraps to the last batch
// of the previous row.
func (p *Poll) previousSubsidyIndexKey() string {
	if p.rbi == 0 && p.cbi == 0 {
		return subsidyIndexKey(0, 0)
	}
	batchSize := p.BatchSizes.SubsidyBatchSize
	numBatches := (len(p.ballots) + batchSize - 1) / batchSize
	if p.cbi > p.rbi {
		return subsidyIndexKey(p.rbi, p.cbi-1)
	}
	return subsidyIndexKey(p.rbi-1, numBatches-1)
}

func subsidyIndexKey(rbi, cbi int) string {
	return fmt.Sprintf("%d-%d", rbi, cbi)
}

// packSubsidySmallVals packs the small public values of a subsidy block, 50
// bits each.
func packSubsidySmallVals(rbi, cbi, numSignUps int) *big.Int {
	packed := big.NewInt(int64(cbi))
	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(rbi)), types.PackingBits))
	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(numSignUps)), 2*types.PackingBits))
	return packed
}
