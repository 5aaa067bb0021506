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

// TallyVotesInputs is the witness of one TallyVotes circuit run.
type TallyVotesInputs struct {
	StateRoot              *types.BigInt `json:"stateRoot"`
	BallotRoot             *types.BigInt `json:"ballotRoot"`
	SbSalt                 *types.BigInt `json:"sbSalt"`
	SbCommitment           *types.BigInt `json:"sbCommitment"`
	CurrentTallyCommitment *types.BigInt `json:"currentTallyCommitment"`
	NewTallyCommitment     *types.BigInt `json:"newTallyCommitment"`
	PackedVals             *types.BigInt `json:"packedVals"`
	InputHash              *types.BigInt `json:"inputHash"`

	Ballots            [][]*types.BigInt `json:"ballots"`
	BallotPathElements [][]*types.BigInt `json:"ballotPathElements"`
	Votes              [][]*types.BigInt `json:"votes"`

	CurrentResults                        []*types.BigInt `json:"currentResults"`
	CurrentResultsRootSalt                *types.BigInt   `json:"currentResultsRootSalt"`
	CurrentSpentVoiceCreditSubtotal       *types.BigInt   `json:"currentSpentVoiceCreditSubtotal"`
	CurrentSpentVoiceCreditSubtotalSalt   *types.BigInt   `json:"currentSpentVoiceCreditSubtotalSalt"`
	CurrentPerVOSpentVoiceCredits         []*types.BigInt `json:"currentPerVOSpentVoiceCredits"`
	CurrentPerVOSpentVoiceCreditsRootSalt *types.BigInt   `json:"currentPerVOSpentVoiceCreditsRootSalt"`
	NewResultsRootSalt                    *types.BigInt   `json:"newResultsRootSalt"`
	NewSpentVoiceCreditSubtotalSalt       *types.BigInt   `json:"newSpentVoiceCreditSubtotalSalt"`
	NewPerVOSpentVoiceCreditsRootSalt     *types.BigInt   `json:"newPerVOSpentVoiceCreditsRootSalt"`
}

// HasUntalliedBallots reports whether some ballot batch still awaits
// tallying.
func (p *Poll) HasUntalliedBallots() bool {
	return p.numBatchesTallied*p.BatchSizes.TallyBatchSize < len(p.ballots)
}

// TallyVotes accumulates the next ballot batch into the running tally and
// returns the circuit inputs proving the accumulation.
func (p *Poll) TallyVotes() (*TallyVotesInputs, error) {
	if p.HasUnprocessedMessages() {
		return nil, fmt.Errorf("cannot tally before all message batches are processed")
	}
	if !p.HasUntalliedBallots() {
		return nil, fmt.Errorf("no more ballots to tally")
	}
	batchSize := p.BatchSizes.TallyBatchSize
	batchStartIndex := p.numBatchesTallied * batchSize

	currentResultsRootSalt := big.NewInt(0)
	currentPerVOSalt := big.NewInt(0)
	currentSubtotalSalt := big.NewInt(0)
	if batchStartIndex > 0 {
		currentResultsRootSalt = p.resultRootSalts[batchStartIndex-batchSize]
		currentPerVOSalt = p.perVOSpentVoiceCreditsRootSalts[batchStartIndex-batchSize]
		currentSubtotalSalt = p.spentVoiceCreditSubtotalSalts[batchStartIndex-batchSize]
	}
	currentResultsCommitment := p.genResultsCommitment(currentResultsRootSalt)
	currentPerVOCommitment := p.genPerVOSpentVoiceCreditsCommitment(currentPerVOSalt, batchStartIndex)
	currentSubtotalCommitment := p.genSpentVoiceCreditSubtotalCommitment(currentSubtotalSalt, batchStartIndex)
	currentTallyCommitment := big.NewInt(0)
	if batchStartIndex > 0 {
		currentTallyCommitment = poseidon.Hash3(
			currentResultsCommitment, currentSubtotalCommitment, currentPerVOCommitment)
	}
	currentResults := copyBigSlice(p.tallyResult)
	currentPerVO := copyBigSlice(p.perVOSpentVoiceCredits)
	currentSubtotal := new(big.Int).Set(p.totalSpentVoiceCredits)

	batchEnd := min(batchStartIndex+batchSize, len(p.ballots))
	for i := batchStartIndex; i < batchEnd; i++ {
		for j := 0; j < p.MaxValues.MaxVoteOptions; j++ {
			v := p.ballots[i].Votes[j].MathBigInt()
			squared := new(big.Int).Mul(v, v)
			p.tallyResult[j].Add(p.tallyResult[j], v)
			p.perVOSpentVoiceCredits[j].Add(p.perVOSpentVoiceCredits[j], squared)
			p.totalSpentVoiceCredits.Add(p.totalSpentVoiceCredits, squared)
		}
	}

	batchBallots := make([]*domain.Ballot, 0, batchSize)
	for i := batchStartIndex; i < batchEnd; i++ {
		batchBallots = append(batchBallots, p.ballots[i])
	}
	emptyBallot := domain.BlankBallot(p.TreeDepths.VoteOptionTreeDepth)
	for len(batchBallots) < batchSize {
		batchBallots = append(batchBallots, emptyBallot)
	}

	newResultsRootSalt := p.freshSalt(p.resultRootSalts[batchStartIndex])
	newPerVOSalt := p.freshSalt(p.perVOSpentVoiceCreditsRootSalts[batchStartIndex])
	newSubtotalSalt := p.freshSalt(p.spentVoiceCreditSubtotalSalts[batchStartIndex])
	p.resultRootSalts[batchStartIndex] = newResultsRootSalt
	p.perVOSpentVoiceCreditsRootSalts[batchStartIndex] = newPerVOSalt
	p.spentVoiceCreditSubtotalSalts[batchStartIndex] = newSubtotalSalt

	newTallyCommitment := poseidon.Hash3(
		p.genResultsCommitment(newResultsRootSalt),
		p.genSpentVoiceCreditSubtotalCommitment(newSubtotalSalt, batchStartIndex+batchSize),
		p.genPerVOSpentVoiceCreditsCommitment(newPerVOSalt, batchStartIndex+batchSize),
	)

	sbSalt := p.sbSalts[p.currentMessageBatchIndex]
	sbCommitment := poseidon.Hash3(p.stateTree.Root(), p.ballotTree.Root(), sbSalt)
	packedVals := packTallyVotesSmallVals(batchStartIndex, p.numSignUps)
	inputHash := poseidon.Sha256ToField([]*big.Int{
		packedVals, sbCommitment, currentTallyCommitment, newTallyCommitment,
	})

	ballotSubrootPath := p.ballotTree.GenMerkleSubrootPath(batchStartIndex, batchStartIndex+batchSize)

	p.numBatchesTallied++
	log.Debugw("ballot batch tallied", "pollId", p.PollID,
		"batchStart", batchStartIndex, "batchesTallied", p.numBatchesTallied)

	return &TallyVotesInputs{
		StateRoot:              types.FromBigInt(p.stateTree.Root()),
		BallotRoot:             types.FromBigInt(p.ballotTree.Root()),
		SbSalt:                 types.FromBigInt(sbSalt),
		SbCommitment:           types.FromBigInt(sbCommitment),
		CurrentTallyCommitment: types.FromBigInt(currentTallyCommitment),
		NewTallyCommitment:     types.FromBigInt(newTallyCommitment),
		PackedVals:             types.FromBigInt(packedVals),
		InputHash:              types.FromBigInt(inputHash),

		Ballots:            ballotsAsInputs(batchBallots),
		BallotPathElements: pathAsInputs(ballotSubrootPath.PathElements),
		Votes:              votesAsInputs(batchBallots),

		CurrentResults:                        bigsAsInputs(currentResults),
		CurrentResultsRootSalt:                types.FromBigInt(currentResultsRootSalt),
		CurrentSpentVoiceCreditSubtotal:       types.FromBigInt(currentSubtotal),
		CurrentSpentVoiceCreditSubtotalSalt:   types.FromBigInt(currentSubtotalSalt),
		CurrentPerVOSpentVoiceCredits:         bigsAsInputs(currentPerVO),
		CurrentPerVOSpentVoiceCreditsRootSalt: types.FromBigInt(currentPerVOSalt),
		NewResultsRootSalt:                    types.FromBigInt(newResultsRootSalt),
		NewSpentVoiceCreditSubtotalSalt:       types.FromBigInt(newSubtotalSalt),
		NewPerVOSpentVoiceCreditsRootSalt:     types.FromBigInt(newPerVOSalt),
	}, nil
}

// genResultsCommitment commits to the current tally: the root of a quinary
// tree over the per-option results, salted.
func (p *Poll) genResultsCommitment(salt *big.Int) *big.Int {
	return tree.TreeCommitment(p.tallyResult, salt, p.TreeDepths.VoteOptionTreeDepth)
}

// genSpentVoiceCreditSubtotalCommitment commits to the total credits spent by
// the first n ballots.
func (p *Poll) genSpentVoiceCreditSubtotalCommitment(salt *big.Int, n int) *big.Int {
	subtotal := big.NewInt(0)
	for i := 0; i < min(n, len(p.ballots)); i++ {
		for _, v := range p.ballots[i].Votes {
			subtotal.Add(subtotal, new(big.Int).Mul(v.MathBigInt(), v.MathBigInt()))
		}
	}
	return poseidon.HashLeftRight(subtotal, salt)
}

// genPerVOSpentVoiceCreditsCommitment commits to the per-option credits spent
// by the first n ballots.
func (p *Poll) genPerVOSpentVoiceCreditsCommitment(salt *big.Int, n int) *big.Int {
	perVO := zeroSlice(p.MaxValues.MaxVoteOptions)
	for i := 0; i < min(n, len(p.ballots)); i++ {
		for j := 0; j < p.MaxValues.MaxVoteOptions; j++ {
			v := p.ballots[i].Votes[j].MathBigInt()
			perVO[j].Add(perVO[j], new(big.Int).Mul(v, v))
		}
	}
	return tree.TreeCommitment(perVO, salt, p.TreeDepths.VoteOptionTreeDepth)
}

// packTallyVotesSmallVals packs the small public values of a tally batch, 50
// bits each.
func packTallyVotesSmallVals(batchStartIndex, numSignUps int) *big.Int {
	packed := big.NewInt(int64(batchStartIndex))
	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(numSignUps)), types.PackingBits))
	return packed
}

// VerifySpentVoiceCredits recomputes the spent-credit subtotal commitment
// from the ballots and compares it against the given commitment. Auditors use
// it to check a published tally.
func (p *Poll) VerifySpentVoiceCredits(commitment, salt *big.Int) bool {
	return p.genSpentVoiceCreditSubtotalCommitment(salt, len(p.ballots)).Cmp(commitment) == 0
}

// VerifyPerVOSpentVoiceCredits recomputes the per-option spent-credit
// commitment from the ballots and compares it against the given commitment.
func (p *Poll) VerifyPerVOSpentVoiceCredits(commitment, salt *big.Int) bool {
	return p.genPerVOSpentVoiceCreditsCommitment(salt, len(p.ballots)).Cmp(commitment) == 0
}
