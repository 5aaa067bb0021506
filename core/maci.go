package core

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/domain"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

// MaciState is the signup registry shared by every poll of a deployment. It
// owns the global state tree and the mutual-exclusion lock that serializes
// message processing across polls.
type MaciState struct {
	StateTreeDepth int

	stateLeaves []*domain.StateLeaf
	stateTree   *tree.IncrementalQuinTree
	polls       []*Poll
	numSignUps  int

	// Processing lock: only one poll may be mid-processing at a time.
	pollBeingProcessed        bool
	currentPollBeingProcessed int
}

// NewMaciState creates a registry with the blank sentinel leaf at index 0.
func NewMaciState(stateTreeDepth int) *MaciState {
	blank := domain.BlankStateLeaf()
	stateTree := tree.NewIncrementalQuinTree(
		stateTreeDepth, types.StateTreeArity, blank.Hash(), tree.Poseidon5)
	stateTree.Insert(blank.Hash())
	return &MaciState{
		StateTreeDepth: stateTreeDepth,
		stateLeaves:    []*domain.StateLeaf{blank},
		stateTree:      stateTree,
	}
}

// SignUp registers a voter and returns the index of its state leaf.
func (m *MaciState) SignUp(pubKey *babyjub.PubKey, initialBalance, timestamp *big.Int) (int, error) {
	if !pubKey.InField() {
		return 0, fmt.Errorf("public key coordinates out of field")
	}
	leaf := domain.NewStateLeaf(pubKey, initialBalance, timestamp)
	index := m.stateTree.NextIndex()
	m.stateTree.Insert(leaf.Hash())
	m.stateLeaves = append(m.stateLeaves, leaf)
	m.numSignUps++
	log.Debugw("signup registered", "index", index, "numSignUps", m.numSignUps)
	return index, nil
}

// NumSignUps returns the number of registered voters (the blank sentinel
// excluded).
func (m *MaciState) NumSignUps() int {
	return m.numSignUps
}

// StateLeaves returns the registry's leaves, sentinel included.
func (m *MaciState) StateLeaves() []*domain.StateLeaf {
	return m.stateLeaves
}

// StateTree returns the registry's state tree.
func (m *MaciState) StateTree() *tree.IncrementalQuinTree {
	return m.stateTree
}

// DeployPoll creates a poll attached to this registry and returns its id.
func (m *MaciState) DeployPoll(
	pollEndTimestamp *big.Int,
	maxValues types.MaxValues,
	treeDepths types.TreeDepths,
	batchSizes types.BatchSizes,
	coordinatorKeypair *babyjub.Keypair,
) (int, error) {
	pollID := len(m.polls)
	poll, err := NewPoll(pollID, pollEndTimestamp, coordinatorKeypair,
		treeDepths, batchSizes, maxValues, m)
	if err != nil {
		return 0, err
	}
	m.polls = append(m.polls, poll)
	log.Infow("poll deployed", "pollId", pollID,
		"maxMessages", maxValues.MaxMessages, "maxVoteOptions", maxValues.MaxVoteOptions)
	return pollID, nil
}

// Poll returns the poll with the given id.
func (m *MaciState) Poll(pollID int) (*Poll, error) {
	if pollID < 0 || pollID >= len(m.polls) {
		return nil, fmt.Errorf("poll %d does not exist", pollID)
	}
	return m.polls[pollID], nil
}

// Polls returns every deployed poll.
func (m *MaciState) Polls() []*Poll {
	return m.polls
}

// acquireProcessingLock marks pollID as the poll being processed. It fails
// when another poll already holds the lock.
func (m *MaciState) acquireProcessingLock(pollID int) error {
	if m.pollBeingProcessed && m.currentPollBeingProcessed != pollID {
		return fmt.Errorf("poll %d is still being processed", m.currentPollBeingProcessed)
	}
	m.pollBeingProcessed = true
	m.currentPollBeingProcessed = pollID
	return nil
}

// releaseProcessingLock releases the processing lock.
func (m *MaciState) releaseProcessingLock() {
	m.pollBeingProcessed = false
}

// PollBeingProcessed reports whether some poll holds the processing lock.
func (m *MaciState) PollBeingProcessed() bool {
	return m.pollBeingProcessed
}

// Copy returns a deep copy of the registry and all its polls.
func (m *MaciState) Copy() *MaciState {
	c := &MaciState{
		StateTreeDepth:            m.StateTreeDepth,
		stateTree:                 m.stateTree.Copy(),
		numSignUps:                m.numSignUps,
		pollBeingProcessed:        m.pollBeingProcessed,
		currentPollBeingProcessed: m.currentPollBeingProcessed,
	}
	c.stateLeaves = make([]*domain.StateLeaf, len(m.stateLeaves))
	for i, leaf := range m.stateLeaves {
		c.stateLeaves[i] = leaf.Copy()
	}
	c.polls = make([]*Poll, len(m.polls))
	for i, poll := range m.polls {
		c.polls[i] = poll.copyWithState(c)
	}
	return c
}

// Equal reports whether both registries hold the same depth, leaves and
// polls.
func (m *MaciState) Equal(o *MaciState) bool {
	if m.StateTreeDepth != o.StateTreeDepth ||
		m.numSignUps != o.numSignUps ||
		len(m.stateLeaves) != len(o.stateLeaves) ||
		len(m.polls) != len(o.polls) {
		return false
	}
	for i := range m.stateLeaves {
		if !m.stateLeaves[i].Equal(o.stateLeaves[i]) {
			return false
		}
	}
	for i := range m.polls {
		if !m.polls[i].Equal(o.polls[i]) {
			return false
		}
	}
	return true
}
