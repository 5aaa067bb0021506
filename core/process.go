package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
	"github.com/vocdoni/maci-coordinator/domain"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

// PerMessageWitness is the witness data of a single accepted vote command:
// the mutated pair, its originals, and the Merkle paths captured against the
// trees before the mutation.
type PerMessageWitness struct {
	StateLeafIndex                  int
	OriginalStateLeaf               *domain.StateLeaf
	NewStateLeaf                    *domain.StateLeaf
	OriginalStateLeafPathElements   [][]*big.Int
	OriginalBallot                  *domain.Ballot
	NewBallot                       *domain.Ballot
	OriginalBallotPathElements      [][]*big.Int
	OriginalVoteWeight              *big.Int
	OriginalVoteWeightsPathElements [][]*big.Int
	Command                         *domain.VoteCommand
}

// ProcessMessagesInputs is the witness of one ProcessMessages circuit run.
// Serialized, every big value is a decimal string.
type ProcessMessagesInputs struct {
	PollEndTimestamp       *types.BigInt     `json:"pollEndTimestamp"`
	PackedVals             *types.BigInt     `json:"packedVals"`
	MsgRoot                *types.BigInt     `json:"msgRoot"`
	Msgs                   [][]*types.BigInt `json:"msgs"`
	MsgSubrootPathElements [][]*types.BigInt `json:"msgSubrootPathElements"`
	CoordPrivKey           *types.BigInt     `json:"coordPrivKey"`
	CoordPubKey            []*types.BigInt   `json:"coordPubKey"`
	EncPubKeys             [][]*types.BigInt `json:"encPubKeys"`

	CurrentStateRoot    *types.BigInt `json:"currentStateRoot"`
	CurrentBallotRoot   *types.BigInt `json:"currentBallotRoot"`
	CurrentSbCommitment *types.BigInt `json:"currentSbCommitment"`
	CurrentSbSalt       *types.BigInt `json:"currentSbSalt"`

	CurrentStateLeaves              [][]*types.BigInt   `json:"currentStateLeaves"`
	CurrentStateLeavesPathElements  [][][]*types.BigInt `json:"currentStateLeavesPathElements"`
	CurrentBallots                  [][]*types.BigInt   `json:"currentBallots"`
	CurrentBallotsPathElements      [][][]*types.BigInt `json:"currentBallotsPathElements"`
	CurrentVoteWeights              []*types.BigInt     `json:"currentVoteWeights"`
	CurrentVoteWeightsPathElements  [][][]*types.BigInt `json:"currentVoteWeightsPathElements"`

	NewSbSalt       *types.BigInt `json:"newSbSalt"`
	NewSbCommitment *types.BigInt `json:"newSbCommitment"`
	InputHash       *types.BigInt `json:"inputHash"`
}

// HasUnprocessedMessages reports whether some message batch still awaits
// processing. A poll with no messages still claims one (empty) batch.
func (p *Poll) HasUnprocessedMessages() bool {
	batchSize := p.BatchSizes.MessageBatchSize
	totalBatches := 1
	if len(p.messages) > batchSize {
		totalBatches = len(p.messages) / batchSize
		if len(p.messages)%batchSize > 0 {
			totalBatches++
		}
	}
	return p.numBatchesProcessed < totalBatches
}

// ProcessMessages processes the next message batch, in reverse order of
// append, and returns the circuit inputs proving the resulting state
// transition. The first call acquires the registry's processing lock and
// snapshots the signups; the last call releases the lock.
func (p *Poll) ProcessMessages(pollID int) (*ProcessMessagesInputs, error) {
	if pollID != p.PollID {
		return nil, fmt.Errorf("poll id mismatch: got %d, this poll is %d", pollID, p.PollID)
	}
	if !p.HasUnprocessedMessages() {
		return nil, fmt.Errorf("no more messages to process")
	}
	batchSize := p.BatchSizes.MessageBatchSize

	if p.numBatchesProcessed == 0 {
		if err := p.maciState.acquireProcessingLock(pollID); err != nil {
			return nil, err
		}
		// The first batch starts at the highest batch boundary.
		p.currentMessageBatchIndex = len(p.messages)
		if p.currentMessageBatchIndex > 0 {
			if r := len(p.messages) % batchSize; r == 0 {
				p.currentMessageBatchIndex -= batchSize
			} else {
				p.currentMessageBatchIndex -= r
			}
		}
		p.sbSalts[p.currentMessageBatchIndex] = big.NewInt(0)
	} else if p.maciState.pollBeingProcessed && p.maciState.currentPollBeingProcessed != pollID {
		return nil, fmt.Errorf("poll %d is still being processed", p.maciState.currentPollBeingProcessed)
	}
	p.CopyStateFromMaci()

	if p.currentMessageBatchIndex < 0 || p.currentMessageBatchIndex%batchSize != 0 {
		panic(fmt.Sprintf("message batch index %d is not aligned to batch size %d",
			p.currentMessageBatchIndex, batchSize))
	}

	inputs := p.genProcessMessagesCircuitInputsPartial(p.currentMessageBatchIndex)

	var (
		currentStateLeaves             []*domain.StateLeaf
		currentStateLeavesPathElements [][][]*big.Int
		currentBallots                 []*domain.Ballot
		currentBallotsPathElements     [][][]*big.Int
		currentVoteWeights             []*big.Int
		currentVoteWeightsPathElements [][][]*big.Int
	)
	prepend := func(leaf *domain.StateLeaf, leafPath [][]*big.Int,
		ballot *domain.Ballot, ballotPath [][]*big.Int,
		voteWeight *big.Int, voteWeightPath [][]*big.Int,
	) {
		currentStateLeaves = append([]*domain.StateLeaf{leaf}, currentStateLeaves...)
		currentStateLeavesPathElements = append([][][]*big.Int{leafPath}, currentStateLeavesPathElements...)
		currentBallots = append([]*domain.Ballot{ballot}, currentBallots...)
		currentBallotsPathElements = append([][][]*big.Int{ballotPath}, currentBallotsPathElements...)
		currentVoteWeights = append([]*big.Int{voteWeight}, currentVoteWeights...)
		currentVoteWeightsPathElements = append([][][]*big.Int{voteWeightPath}, currentVoteWeightsPathElements...)
	}
	prependBlank := func() {
		ballot := p.ballots[0].Copy()
		prepend(
			p.stateLeaves[0].Copy(),
			p.stateTree.GenMerklePath(0).PathElements,
			ballot,
			p.ballotTree.GenMerklePath(0).PathElements,
			big.NewInt(0),
			ballot.VoteOptionTree().GenMerklePath(0).PathElements,
		)
	}

	for i := 0; i < batchSize; i++ {
		idx := p.currentMessageBatchIndex + batchSize - i - 1
		if idx >= len(p.messages) {
			prependBlank()
			continue
		}
		switch p.messages[idx].MsgType.MathBigInt().Int64() {
		case types.MsgTypeVote:
			witness, err := p.processMessage(idx)
			var pmErr *ProcessMessageError
			switch {
			case err == nil:
				prepend(
					witness.OriginalStateLeaf,
					witness.OriginalStateLeafPathElements,
					witness.OriginalBallot,
					witness.OriginalBallotPathElements,
					witness.OriginalVoteWeight,
					witness.OriginalVoteWeightsPathElements,
				)
				p.stateLeaves[witness.StateLeafIndex] = witness.NewStateLeaf
				p.stateTree.Update(witness.StateLeafIndex, witness.NewStateLeaf.Hash())
				p.ballots[witness.StateLeafIndex] = witness.NewBallot
				p.ballotTree.Update(witness.StateLeafIndex, witness.NewBallot.Hash())
			case errors.As(err, &pmErr):
				log.Debugw("vote command rejected",
					"pollId", p.PollID, "index", idx, "reason", pmErr.Kind.String())
				prependBlank()
			default:
				return nil, err
			}
		case types.MsgTypeTopup:
			cmd, ok := p.commands[idx].(*domain.TopupCommand)
			if !ok {
				return nil, fmt.Errorf("topup message %d has no topup command", idx)
			}
			stateIndex, amount := 0, big.NewInt(0)
			if si := cmd.StateIndex.MathBigInt(); si.IsInt64() && si.Int64() < int64(len(p.ballots)) {
				stateIndex = int(si.Int64())
				amount = new(big.Int).Set(cmd.Amount.MathBigInt())
			}
			ballot := p.ballots[stateIndex]
			prepend(
				p.stateLeaves[stateIndex].Copy(),
				p.stateTree.GenMerklePath(stateIndex).PathElements,
				ballot.Copy(),
				p.ballotTree.GenMerklePath(stateIndex).PathElements,
				new(big.Int).Set(ballot.Votes[0].MathBigInt()),
				ballot.VoteOptionTree().GenMerklePath(0).PathElements,
			)
			newLeaf := p.stateLeaves[stateIndex].Copy()
			newLeaf.VoiceCreditBalance.Add(newLeaf.VoiceCreditBalance, types.FromBigInt(amount))
			p.stateLeaves[stateIndex] = newLeaf
			p.stateTree.Update(stateIndex, newLeaf.Hash())
		}
	}

	inputs.CurrentStateLeaves = stateLeavesAsInputs(currentStateLeaves)
	inputs.CurrentStateLeavesPathElements = pathsAsInputs(currentStateLeavesPathElements)
	inputs.CurrentBallots = ballotsAsInputs(currentBallots)
	inputs.CurrentBallotsPathElements = pathsAsInputs(currentBallotsPathElements)
	inputs.CurrentVoteWeights = bigsAsInputs(currentVoteWeights)
	inputs.CurrentVoteWeightsPathElements = pathsAsInputs(currentVoteWeightsPathElements)

	p.numBatchesProcessed++
	if p.currentMessageBatchIndex > 0 {
		p.currentMessageBatchIndex -= batchSize
	}
	newSbSalt := p.freshSalt(p.sbSalts[p.currentMessageBatchIndex])
	p.sbSalts[p.currentMessageBatchIndex] = newSbSalt

	newSbCommitment := poseidon.Hash3(p.stateTree.Root(), p.ballotTree.Root(), newSbSalt)
	inputs.NewSbSalt = types.FromBigInt(newSbSalt)
	inputs.NewSbCommitment = types.FromBigInt(newSbCommitment)
	inputs.InputHash = types.FromBigInt(poseidon.Sha256ToField([]*big.Int{
		inputs.PackedVals.MathBigInt(),
		p.CoordinatorKeypair.PubKey.Hash(),
		inputs.MsgRoot.MathBigInt(),
		inputs.CurrentSbCommitment.MathBigInt(),
		newSbCommitment,
		p.PollEndTimestamp,
	}))

	if p.numBatchesProcessed*batchSize >= len(p.messages) {
		p.maciState.releaseProcessingLock()
		log.Infow("all message batches processed",
			"pollId", p.PollID, "batches", p.numBatchesProcessed)
	}
	return inputs, nil
}

// processMessage validates and applies the vote command of the message at
// idx. The returned witness carries the pre-mutation originals and paths; the
// caller performs the actual tree updates.
func (p *Poll) processMessage(idx int) (*PerMessageWitness, error) {
	message := p.messages[idx]
	encPubKey := p.encPubKeys[idx]
	sharedKey := babyjub.EcdhSharedKey(p.CoordinatorKeypair.PrivKey, encPubKey)
	cmd, sig, err := domain.DecryptVoteCommand(message, sharedKey)
	if err != nil {
		return nil, newProcessMessageError(ErrFailedDecryption)
	}

	// Rule 1: the state index must point at an existing, non-sentinel leaf.
	limit := int64(min(len(p.ballots), p.stateTree.NextIndex()))
	si := cmd.StateIndex.MathBigInt()
	if !si.IsInt64() || si.Int64() < 1 || si.Int64() >= limit {
		return nil, newProcessMessageError(ErrInvalidStateLeafIndex)
	}
	stateLeafIndex := int(si.Int64())
	stateLeaf := p.stateLeaves[stateLeafIndex]
	ballot := p.ballots[stateLeafIndex]

	// Rule 2: the signature must verify against the leaf's current key.
	if !cmd.VerifySignature(sig, stateLeaf.PubKey) {
		return nil, newProcessMessageError(ErrInvalidSignature)
	}

	// Rule 3: the nonce must follow the ballot's.
	expectedNonce := new(big.Int).Add(ballot.Nonce.MathBigInt(), big.NewInt(1))
	if cmd.Nonce.MathBigInt().Cmp(expectedNonce) != 0 {
		return nil, newProcessMessageError(ErrInvalidNonce)
	}

	// Rule 4: the vote option must exist.
	voi := cmd.VoteOptionIndex.MathBigInt()
	if !voi.IsInt64() || voi.Int64() < 0 || voi.Int64() >= int64(p.MaxValues.MaxVoteOptions) {
		return nil, newProcessMessageError(ErrInvalidVoteOptionIndex)
	}
	voteOptionIndex := int(voi.Int64())

	// Rule 5: quadratic voting refund-and-repay, checked over the integers
	// before any field reduction.
	originalVoteWeight := ballot.Votes[voteOptionIndex].MathBigInt()
	newVoteWeight := cmd.NewVoteWeight.MathBigInt()
	creditsLeft := new(big.Int).Set(stateLeaf.VoiceCreditBalance.MathBigInt())
	creditsLeft.Add(creditsLeft, new(big.Int).Mul(originalVoteWeight, originalVoteWeight))
	creditsLeft.Sub(creditsLeft, new(big.Int).Mul(newVoteWeight, newVoteWeight))
	if creditsLeft.Sign() < 0 {
		return nil, newProcessMessageError(ErrInsufficientVoiceCredits)
	}

	newStateLeaf := stateLeaf.Copy()
	newStateLeaf.PubKey = cmd.NewPubKey.Copy()
	newStateLeaf.VoiceCreditBalance = types.FromBigInt(creditsLeft)

	newBallot := ballot.Copy()
	newBallot.Nonce.Add(newBallot.Nonce, types.NewInt(1))
	newBallot.Votes[voteOptionIndex] = types.FromBigInt(newVoteWeight)

	return &PerMessageWitness{
		StateLeafIndex:                  stateLeafIndex,
		OriginalStateLeaf:               stateLeaf.Copy(),
		NewStateLeaf:                    newStateLeaf,
		OriginalStateLeafPathElements:   p.stateTree.GenMerklePath(stateLeafIndex).PathElements,
		OriginalBallot:                  ballot.Copy(),
		NewBallot:                       newBallot,
		OriginalBallotPathElements:      p.ballotTree.GenMerklePath(stateLeafIndex).PathElements,
		OriginalVoteWeight:              new(big.Int).Set(originalVoteWeight),
		OriginalVoteWeightsPathElements: ballot.VoteOptionTree().GenMerklePath(voteOptionIndex).PathElements,
		Command:                         cmd,
	}, nil
}

// genProcessMessagesCircuitInputsPartial assembles the batch-independent part
// of the circuit inputs for the batch starting at index, against the
// pre-mutation tree roots.
func (p *Poll) genProcessMessagesCircuitInputsPartial(index int) *ProcessMessagesInputs {
	batchSize := p.BatchSizes.MessageBatchSize
	if index > len(p.messages) || index%batchSize != 0 {
		panic(fmt.Sprintf("batch start %d is not a batch boundary", index))
	}

	msgs := make([][]*big.Int, len(p.messages))
	for i, m := range p.messages {
		msgs[i] = m.AsCircuitInputs()
	}
	for len(msgs)%batchSize != 0 {
		msgs = append(msgs, msgs[len(msgs)-1])
	}
	msgs = msgs[index:min(index+batchSize, len(msgs))]

	keys := make([]*babyjub.PubKey, len(p.encPubKeys))
	copy(keys, p.encPubKeys)
	for len(keys)%batchSize != 0 {
		keys = append(keys, keys[len(keys)-1])
	}
	keys = keys[index:min(index+batchSize, len(keys))]

	for p.messageTree.NextIndex() < index+batchSize {
		p.messageTree.Insert(p.messageTree.ZeroValue)
	}
	subrootPath := p.messageTree.GenMerkleSubrootPath(index, index+batchSize)
	if !tree.VerifyMerklePath(subrootPath, tree.Poseidon5) {
		panic("message subroot path does not verify")
	}

	batchEndIndex := min(index+batchSize, len(p.messages))
	packedVals := packProcessMessageSmallVals(
		p.MaxValues.MaxVoteOptions, p.numSignUps, index, batchEndIndex)

	currentSbSalt := p.sbSalts[p.currentMessageBatchIndex]
	currentSbCommitment := poseidon.Hash3(p.stateTree.Root(), p.ballotTree.Root(), currentSbSalt)

	encPubKeys := make([][]*types.BigInt, len(keys))
	for i, k := range keys {
		encPubKeys[i] = []*types.BigInt{types.FromBigInt(k.X), types.FromBigInt(k.Y)}
	}
	msgInputs := make([][]*types.BigInt, len(msgs))
	for i, words := range msgs {
		msgInputs[i] = bigsAsInputs(words)
	}
	return &ProcessMessagesInputs{
		PollEndTimestamp:       types.FromBigInt(p.PollEndTimestamp),
		PackedVals:             types.FromBigInt(packedVals),
		MsgRoot:                types.FromBigInt(p.messageTree.Root()),
		Msgs:                   msgInputs,
		MsgSubrootPathElements: pathAsInputs(subrootPath.PathElements),
		CoordPrivKey:           types.FromBigInt(p.CoordinatorKeypair.PrivKey.Scalar()),
		CoordPubKey: []*types.BigInt{
			types.FromBigInt(p.CoordinatorKeypair.PubKey.X),
			types.FromBigInt(p.CoordinatorKeypair.PubKey.Y),
		},
		EncPubKeys:          encPubKeys,
		CurrentStateRoot:    types.FromBigInt(p.stateTree.Root()),
		CurrentBallotRoot:   types.FromBigInt(p.ballotTree.Root()),
		CurrentSbCommitment: types.FromBigInt(currentSbCommitment),
		CurrentSbSalt:       types.FromBigInt(currentSbSalt),
	}
}

// packProcessMessageSmallVals packs the small public values of a processing
// batch into one field element, 50 bits each.
func packProcessMessageSmallVals(maxVoteOptions, numSignUps, batchStartIndex, batchEndIndex int) *big.Int {
	packed := big.NewInt(int64(maxVoteOptions))
	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(numSignUps)), types.PackingBits))
	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(batchStartIndex)), 2*types.PackingBits))
	packed.Or(packed, new(big.Int).Lsh(big.NewInt(int64(batchEndIndex)), 3*types.PackingBits))
	return packed
}
