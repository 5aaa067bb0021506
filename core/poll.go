package core

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/domain"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
	"github.com/vocdoni/maci-coordinator/util"
)

// Poll mirrors one on-chain poll: it ingests encrypted messages, replays them
// against per-voter ballots and emits the circuit inputs that prove each
// phase. A poll owns its trees and arrays; the MaciState back-reference is
// only read for the signup snapshot and the processing lock.
type Poll struct {
	PollID             int
	PollEndTimestamp   *big.Int
	CoordinatorKeypair *babyjub.Keypair
	TreeDepths         types.TreeDepths
	BatchSizes         types.BatchSizes
	MaxValues          types.MaxValues

	// SaltSource produces the random salts of the commitments. Tests
	// replace it with a deterministic source.
	SaltSource func() *big.Int

	maciState  *MaciState
	numSignUps int

	messages    []*domain.Message
	encPubKeys  []*babyjub.PubKey
	commands    []domain.Command
	messageTree *tree.IncrementalQuinTree

	stateLeaves []*domain.StateLeaf
	stateTree   *tree.IncrementalQuinTree
	ballots     []*domain.Ballot
	ballotTree  *tree.IncrementalQuinTree
	stateCopied bool

	currentMessageBatchIndex int
	numBatchesProcessed      int
	sbSalts                  map[int]*big.Int

	tallyResult                     []*big.Int
	perVOSpentVoiceCredits          []*big.Int
	totalSpentVoiceCredits          *big.Int
	numBatchesTallied               int
	resultRootSalts                 map[int]*big.Int
	perVOSpentVoiceCreditsRootSalts map[int]*big.Int
	spentVoiceCreditSubtotalSalts   map[int]*big.Int

	subsidy      []*big.Int
	subsidySalts map[string]*big.Int
	rbi, cbi     int
}

// NewPoll builds a poll attached to the given registry. The batch sizes must
// be consistent with the tree shape: the message batch is one message subtree
// and the tally batch is one state subtree.
func NewPoll(
	pollID int,
	pollEndTimestamp *big.Int,
	coordinatorKeypair *babyjub.Keypair,
	treeDepths types.TreeDepths,
	batchSizes types.BatchSizes,
	maxValues types.MaxValues,
	maciState *MaciState,
) (*Poll, error) {
	if maxValues.MaxVoteOptions > pow(types.VoteOptionTreeArity, treeDepths.VoteOptionTreeDepth) {
		return nil, fmt.Errorf("maxVoteOptions %d exceeds vote option tree capacity",
			maxValues.MaxVoteOptions)
	}
	if maxValues.MaxMessages > pow(types.MessageTreeArity, treeDepths.MessageTreeDepth) {
		return nil, fmt.Errorf("maxMessages %d exceeds message tree capacity",
			maxValues.MaxMessages)
	}
	if batchSizes.MessageBatchSize != pow(types.MessageTreeArity, treeDepths.MessageTreeSubDepth) {
		return nil, fmt.Errorf("messageBatchSize %d is not one message subtree",
			batchSizes.MessageBatchSize)
	}
	if batchSizes.TallyBatchSize != pow(types.StateTreeArity, treeDepths.IntStateTreeDepth) {
		return nil, fmt.Errorf("tallyBatchSize %d is not one state subtree",
			batchSizes.TallyBatchSize)
	}
	if batchSizes.SubsidyBatchSize < 1 {
		return nil, fmt.Errorf("subsidyBatchSize must be positive")
	}
	p := &Poll{
		PollID:             pollID,
		PollEndTimestamp:   new(big.Int).Set(pollEndTimestamp),
		CoordinatorKeypair: coordinatorKeypair.Copy(),
		TreeDepths:         treeDepths,
		BatchSizes:         batchSizes,
		MaxValues:          maxValues,
		SaltSource:         util.RandomFieldElement,
		maciState:          maciState,
		messageTree: tree.NewIncrementalQuinTree(
			treeDepths.MessageTreeDepth, types.MessageTreeArity,
			types.NothingUpMySleeve, tree.Poseidon5),
		currentMessageBatchIndex: -1,
		sbSalts:                  map[int]*big.Int{},
		resultRootSalts:          map[int]*big.Int{},
		perVOSpentVoiceCreditsRootSalts: map[int]*big.Int{},
		spentVoiceCreditSubtotalSalts:   map[int]*big.Int{},
		totalSpentVoiceCredits:          big.NewInt(0),
		subsidySalts:                    map[string]*big.Int{},
	}
	p.tallyResult = zeroSlice(maxValues.MaxVoteOptions)
	p.perVOSpentVoiceCredits = zeroSlice(maxValues.MaxVoteOptions)
	p.subsidy = zeroSlice(maxValues.MaxVoteOptions)
	return p, nil
}

// PublishMessage ingests a vote message and its ephemeral public key. The
// command is tentatively decrypted; an undecryptable payload is recorded as a
// blank command so that message and command indices stay aligned.
func (p *Poll) PublishMessage(message *domain.Message, encPubKey *babyjub.PubKey) error {
	if v := message.MsgType.MathBigInt(); v.Cmp(big.NewInt(types.MsgTypeVote)) != 0 {
		return fmt.Errorf("message type %s is not a vote message", v)
	}
	if !encPubKey.InField() {
		return fmt.Errorf("ephemeral public key coordinates out of field")
	}
	if !message.InField() {
		return fmt.Errorf("message payload words out of field")
	}
	if len(p.messages) >= p.MaxValues.MaxMessages {
		return fmt.Errorf("poll reached its %d message capacity", p.MaxValues.MaxMessages)
	}
	p.messages = append(p.messages, message.Copy())
	p.encPubKeys = append(p.encPubKeys, encPubKey.Copy())
	p.messageTree.Insert(message.Hash(encPubKey))

	sharedKey := babyjub.EcdhSharedKey(p.CoordinatorKeypair.PrivKey, encPubKey)
	cmd, _, err := domain.DecryptVoteCommand(message, sharedKey)
	if err != nil {
		log.Debugw("message does not decrypt, storing blank command",
			"pollId", p.PollID, "index", len(p.messages)-1)
		p.commands = append(p.commands, domain.BlankVoteCommand())
		return nil
	}
	p.commands = append(p.commands, cmd)
	return nil
}

// TopupMessage ingests a topup message. Topups carry no ephemeral key; the
// fixed pad key is recorded instead.
func (p *Poll) TopupMessage(message *domain.Message) error {
	if v := message.MsgType.MathBigInt(); v.Cmp(big.NewInt(types.MsgTypeTopup)) != 0 {
		return fmt.Errorf("message type %s is not a topup message", v)
	}
	if !message.InField() {
		return fmt.Errorf("message payload words out of field")
	}
	if len(p.messages) >= p.MaxValues.MaxMessages {
		return fmt.Errorf("poll reached its %d message capacity", p.MaxValues.MaxMessages)
	}
	padKey := babyjub.PadKey()
	p.messages = append(p.messages, message.Copy())
	p.encPubKeys = append(p.encPubKeys, padKey)
	p.messageTree.Insert(message.Hash(padKey))
	p.commands = append(p.commands, &domain.TopupCommand{
		StateIndex: types.FromBigInt(message.Data[0].MathBigInt()),
		Amount:     types.FromBigInt(message.Data[1].MathBigInt()),
		PollID:     types.NewInt(p.PollID),
	})
	return nil
}

// CopyStateFromMaci snapshots the registry's signups into the poll and builds
// the matching ballot tree. Idempotent: only the first call copies.
func (p *Poll) CopyStateFromMaci() {
	if p.stateCopied {
		return
	}
	p.stateLeaves = make([]*domain.StateLeaf, len(p.maciState.stateLeaves))
	for i, leaf := range p.maciState.stateLeaves {
		p.stateLeaves[i] = leaf.Copy()
	}
	p.stateTree = p.maciState.stateTree.Copy()

	emptyBallot := domain.BlankBallot(p.TreeDepths.VoteOptionTreeDepth)
	emptyBallotHash := emptyBallot.Hash()
	p.ballotTree = tree.NewIncrementalQuinTree(
		p.maciState.StateTreeDepth, types.StateTreeArity, emptyBallotHash, tree.Poseidon5)
	p.ballots = p.ballots[:0]
	for len(p.ballots) < len(p.stateLeaves) {
		p.ballotTree.Insert(emptyBallotHash)
		p.ballots = append(p.ballots, emptyBallot.Copy())
	}
	p.numSignUps = p.maciState.numSignUps
	p.stateCopied = true
	log.Debugw("state snapshot copied into poll",
		"pollId", p.PollID, "stateLeaves", len(p.stateLeaves))
}

// Messages returns the ingested messages.
func (p *Poll) Messages() []*domain.Message { return p.messages }

// Commands returns the decoded (or blank) commands, index-aligned with the
// messages.
func (p *Poll) Commands() []domain.Command { return p.commands }

// EncPubKeys returns the ephemeral keys, index-aligned with the messages.
func (p *Poll) EncPubKeys() []*babyjub.PubKey { return p.encPubKeys }

// MessageTree returns the poll's message tree.
func (p *Poll) MessageTree() *tree.IncrementalQuinTree { return p.messageTree }

// StateTree returns the poll's snapshotted state tree (nil before snapshot).
func (p *Poll) StateTree() *tree.IncrementalQuinTree { return p.stateTree }

// BallotTree returns the poll's ballot tree (nil before snapshot).
func (p *Poll) BallotTree() *tree.IncrementalQuinTree { return p.ballotTree }

// StateLeaves returns the poll's snapshotted state leaves.
func (p *Poll) StateLeaves() []*domain.StateLeaf { return p.stateLeaves }

// Ballots returns the poll's ballots.
func (p *Poll) Ballots() []*domain.Ballot { return p.ballots }

// TallyResult returns the accumulated per-option tally.
func (p *Poll) TallyResult() []*big.Int { return p.tallyResult }

// PerVOSpentVoiceCredits returns the accumulated per-option spent credits.
func (p *Poll) PerVOSpentVoiceCredits() []*big.Int { return p.perVOSpentVoiceCredits }

// TotalSpentVoiceCredits returns the accumulated spent credit total.
func (p *Poll) TotalSpentVoiceCredits() *big.Int { return p.totalSpentVoiceCredits }

// Subsidy returns the accumulated per-option subsidy.
func (p *Poll) Subsidy() []*big.Int { return p.subsidy }

// SetCoordinatorKeypair installs the coordinator keypair after a JSON load,
// which does not persist key material.
func (p *Poll) SetCoordinatorKeypair(keypair *babyjub.Keypair) {
	p.CoordinatorKeypair = keypair.Copy()
}

// Copy returns a deep copy of the poll, attached to the same registry.
func (p *Poll) Copy() *Poll {
	return p.copyWithState(p.maciState)
}

func (p *Poll) copyWithState(maciState *MaciState) *Poll {
	c := &Poll{
		PollID:             p.PollID,
		PollEndTimestamp:   new(big.Int).Set(p.PollEndTimestamp),
		CoordinatorKeypair: p.CoordinatorKeypair.Copy(),
		TreeDepths:         p.TreeDepths,
		BatchSizes:         p.BatchSizes,
		MaxValues:          p.MaxValues,
		SaltSource:         p.SaltSource,
		maciState:          maciState,
		numSignUps:         p.numSignUps,
		messageTree:        p.messageTree.Copy(),
		stateCopied:        p.stateCopied,

		currentMessageBatchIndex: p.currentMessageBatchIndex,
		numBatchesProcessed:      p.numBatchesProcessed,
		sbSalts:                  copyIntSalts(p.sbSalts),

		totalSpentVoiceCredits:          new(big.Int).Set(p.totalSpentVoiceCredits),
		numBatchesTallied:               p.numBatchesTallied,
		resultRootSalts:                 copyIntSalts(p.resultRootSalts),
		perVOSpentVoiceCreditsRootSalts: copyIntSalts(p.perVOSpentVoiceCreditsRootSalts),
		spentVoiceCreditSubtotalSalts:   copyIntSalts(p.spentVoiceCreditSubtotalSalts),

		subsidySalts: copyStringSalts(p.subsidySalts),
		rbi:          p.rbi,
		cbi:          p.cbi,
	}
	c.messages = make([]*domain.Message, len(p.messages))
	for i, m := range p.messages {
		c.messages[i] = m.Copy()
	}
	c.encPubKeys = make([]*babyjub.PubKey, len(p.encPubKeys))
	for i, k := range p.encPubKeys {
		c.encPubKeys[i] = k.Copy()
	}
	c.commands = make([]domain.Command, len(p.commands))
	for i, cmd := range p.commands {
		c.commands[i] = cmd.Copy()
	}
	if p.stateTree != nil {
		c.stateTree = p.stateTree.Copy()
	}
	if p.ballotTree != nil {
		c.ballotTree = p.ballotTree.Copy()
	}
	c.stateLeaves = make([]*domain.StateLeaf, len(p.stateLeaves))
	for i, leaf := range p.stateLeaves {
		c.stateLeaves[i] = leaf.Copy()
	}
	c.ballots = make([]*domain.Ballot, len(p.ballots))
	for i, b := range p.ballots {
		c.ballots[i] = b.Copy()
	}
	c.tallyResult = copyBigSlice(p.tallyResult)
	c.perVOSpentVoiceCredits = copyBigSlice(p.perVOSpentVoiceCredits)
	c.subsidy = copyBigSlice(p.subsidy)
	return c
}

// Equal compares poll parameters, messages and ephemeral keys. Trees and
// derived state are excluded: they are a function of the compared inputs.
func (p *Poll) Equal(o *Poll) bool {
	if p.PollID != o.PollID ||
		p.PollEndTimestamp.Cmp(o.PollEndTimestamp) != 0 ||
		!p.TreeDepths.Equal(o.TreeDepths) ||
		!p.BatchSizes.Equal(o.BatchSizes) ||
		!p.MaxValues.Equal(o.MaxValues) ||
		len(p.messages) != len(o.messages) ||
		len(p.encPubKeys) != len(o.encPubKeys) {
		return false
	}
	for i := range p.messages {
		if !p.messages[i].Equal(o.messages[i]) {
			return false
		}
	}
	for i := range p.encPubKeys {
		if !p.encPubKeys[i].Equal(o.encPubKeys[i]) {
			return false
		}
	}
	return true
}

// freshSalt draws a salt different from the one previously stored for the
// given key.
func (p *Poll) freshSalt(previous *big.Int) *big.Int {
	for {
		salt := p.SaltSource()
		if previous == nil || previous.Cmp(salt) != 0 {
			return salt
		}
	}
}

func pow(base, exp int) int {
	out := 1
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

func zeroSlice(n int) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = big.NewInt(0)
	}
	return out
}

func copyBigSlice(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).Set(v)
	}
	return out
}

func copyIntSalts(in map[int]*big.Int) map[int]*big.Int {
	out := make(map[int]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

func copyStringSalts(in map[string]*big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}
