package core

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/domain"
	"github.com/vocdoni/maci-coordinator/types"
)

// pollJSON is the stable persisted layout of a poll. Key material is not
// persisted: callers re-install the coordinator keypair after loading.
type pollJSON struct {
	PollEndTimestamp         *types.BigInt       `json:"pollEndTimestamp"`
	TreeDepths               types.TreeDepths    `json:"treeDepths"`
	BatchSizes               types.BatchSizes    `json:"batchSizes"`
	MaxValues                types.MaxValues     `json:"maxValues"`
	Messages                 []*domain.Message   `json:"messages"`
	Commands                 []json.RawMessage   `json:"commands"`
	Ballots                  []*domain.Ballot    `json:"ballots"`
	EncPubKeys               []*babyjub.PubKey   `json:"encPubKeys"`
	CurrentMessageBatchIndex int                 `json:"currentMessageBatchIndex"`
	StateLeaves              []*domain.StateLeaf `json:"stateLeaves"`
	Results                  []*types.BigInt     `json:"results"`
	NumBatchesProcessed      int                 `json:"numBatchesProcessed"`
}

// MarshalJSON implements json.Marshaler.
func (p *Poll) MarshalJSON() ([]byte, error) {
	commands := make([]json.RawMessage, len(p.commands))
	for i, cmd := range p.commands {
		data, err := domain.MarshalCommandJSON(cmd)
		if err != nil {
			return nil, fmt.Errorf("marshal command %d: %w", i, err)
		}
		commands[i] = data
	}
	return json.Marshal(pollJSON{
		PollEndTimestamp:         types.FromBigInt(p.PollEndTimestamp),
		TreeDepths:               p.TreeDepths,
		BatchSizes:               p.BatchSizes,
		MaxValues:                p.MaxValues,
		Messages:                 p.messages,
		Commands:                 commands,
		Ballots:                  p.ballots,
		EncPubKeys:               p.encPubKeys,
		CurrentMessageBatchIndex: p.currentMessageBatchIndex,
		StateLeaves:              p.stateLeaves,
		Results:                  bigsAsInputs(p.tallyResult),
		NumBatchesProcessed:      p.numBatchesProcessed,
	})
}

// pollFromJSON restores a poll attached to the given registry. The message
// tree is rebuilt by re-inserting the message hashes; the state and ballot
// trees are rebuilt from the registry snapshot plus the persisted leaves.
// The coordinator keypair is replaced by a throwaway one until the caller
// installs the real one with SetCoordinatorKeypair.
func pollFromJSON(pollID int, data []byte, maciState *MaciState) (*Poll, error) {
	var raw pollJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	p, err := NewPoll(pollID, raw.PollEndTimestamp.MathBigInt(), babyjub.GenKeypair(),
		raw.TreeDepths, raw.BatchSizes, raw.MaxValues, maciState)
	if err != nil {
		return nil, err
	}
	if len(raw.Messages) != len(raw.EncPubKeys) || len(raw.Messages) != len(raw.Commands) {
		return nil, fmt.Errorf("message, key and command counts disagree")
	}
	for i, m := range raw.Messages {
		p.messages = append(p.messages, m)
		p.encPubKeys = append(p.encPubKeys, raw.EncPubKeys[i])
		p.messageTree.Insert(m.Hash(raw.EncPubKeys[i]))
		cmd, err := domain.UnmarshalCommandJSON(raw.Commands[i])
		if err != nil {
			return nil, fmt.Errorf("unmarshal command %d: %w", i, err)
		}
		p.commands = append(p.commands, cmd)
	}
	p.currentMessageBatchIndex = raw.CurrentMessageBatchIndex
	p.numBatchesProcessed = raw.NumBatchesProcessed
	for i, r := range raw.Results {
		if i < len(p.tallyResult) {
			p.tallyResult[i] = new(big.Int).Set(r.MathBigInt())
		}
	}
	if len(raw.StateLeaves) > 0 {
		p.CopyStateFromMaci()
		for i, leaf := range raw.StateLeaves {
			if i >= len(p.stateLeaves) {
				break
			}
			if !p.stateLeaves[i].Equal(leaf) {
				p.stateLeaves[i] = leaf
				p.stateTree.Update(i, leaf.Hash())
			}
		}
		for i, ballot := range raw.Ballots {
			if i >= len(p.ballots) {
				break
			}
			if !p.ballots[i].Equal(ballot) {
				p.ballots[i] = ballot
				p.ballotTree.Update(i, ballot.Hash())
			}
		}
	}
	return p, nil
}

// maciStateJSON is the persisted layout of a registry and its polls.
type maciStateJSON struct {
	StateTreeDepth            int                 `json:"stateTreeDepth"`
	StateLeaves               []*domain.StateLeaf `json:"stateLeaves"`
	Polls                     []json.RawMessage   `json:"polls"`
	NumSignUps                int                 `json:"numSignUps"`
	PollBeingProcessed        bool                `json:"pollBeingProcessed"`
	CurrentPollBeingProcessed int                 `json:"currentPollBeingProcessed"`
}

// MarshalJSON implements json.Marshaler.
func (m *MaciState) MarshalJSON() ([]byte, error) {
	polls := make([]json.RawMessage, len(m.polls))
	for i, poll := range m.polls {
		data, err := json.Marshal(poll)
		if err != nil {
			return nil, fmt.Errorf("marshal poll %d: %w", i, err)
		}
		polls[i] = data
	}
	return json.Marshal(maciStateJSON{
		StateTreeDepth:            m.StateTreeDepth,
		StateLeaves:               m.stateLeaves,
		Polls:                     polls,
		NumSignUps:                m.numSignUps,
		PollBeingProcessed:        m.pollBeingProcessed,
		CurrentPollBeingProcessed: m.currentPollBeingProcessed,
	})
}

// MaciStateFromJSON restores a registry and its polls from the persisted
// layout.
func MaciStateFromJSON(data []byte) (*MaciState, error) {
	var raw maciStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.StateLeaves) == 0 {
		return nil, fmt.Errorf("registry has no state leaves, not even the sentinel")
	}
	m := NewMaciState(raw.StateTreeDepth)
	for _, leaf := range raw.StateLeaves[1:] {
		if _, err := m.SignUp(leaf.PubKey,
			leaf.VoiceCreditBalance.MathBigInt(), leaf.Timestamp.MathBigInt()); err != nil {
			return nil, err
		}
	}
	m.numSignUps = raw.NumSignUps
	m.pollBeingProcessed = raw.PollBeingProcessed
	m.currentPollBeingProcessed = raw.CurrentPollBeingProcessed
	for i, pollData := range raw.Polls {
		poll, err := pollFromJSON(i, pollData, m)
		if err != nil {
			return nil, fmt.Errorf("restore poll %d: %w", i, err)
		}
		m.polls = append(m.polls, poll)
	}
	return m, nil
}
