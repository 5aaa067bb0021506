package domain

import (
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

// Ballot is a voter's per-option weight vector plus the nonce of the last
// applied command. There is one ballot per state leaf.
type Ballot struct {
	Nonce *types.BigInt   `json:"nonce"`
	Votes []*types.BigInt `json:"votes"`
	// VoteOptionTreeDepth fixes len(Votes) == VoteOptionTreeArity^depth.
	VoteOptionTreeDepth int `json:"voteOptionTreeDepth"`
}

// BlankBallot returns the empty ballot of the given vote option tree depth:
// nonce zero, every weight zero.
func BlankBallot(voteOptionTreeDepth int) *Ballot {
	numVoteOptions := 1
	for i := 0; i < voteOptionTreeDepth; i++ {
		numVoteOptions *= types.VoteOptionTreeArity
	}
	votes := make([]*types.BigInt, numVoteOptions)
	for i := range votes {
		votes[i] = types.NewInt(0)
	}
	return &Ballot{
		Nonce:               types.NewInt(0),
		Votes:               votes,
		VoteOptionTreeDepth: voteOptionTreeDepth,
	}
}

// VoteOptionTree builds the quinary tree over the ballot's weights.
func (b *Ballot) VoteOptionTree() *tree.IncrementalQuinTree {
	t := tree.NewVoteOptionTree(b.VoteOptionTreeDepth)
	for _, v := range b.Votes {
		t.Insert(v.MathBigInt())
	}
	return t
}

// VoteOptionRoot returns the root of the ballot's vote option tree.
func (b *Ballot) VoteOptionRoot() *big.Int {
	return b.VoteOptionTree().Root()
}

// Hash binds the ballot into a single field element: the nonce hashed with
// the vote option root.
func (b *Ballot) Hash() *big.Int {
	return poseidon.HashLeftRight(b.Nonce.MathBigInt(), b.VoteOptionRoot())
}

// AsCircuitInputs flattens the ballot in the order the circuits consume it.
func (b *Ballot) AsCircuitInputs() []*big.Int {
	return []*big.Int{new(big.Int).Set(b.Nonce.MathBigInt()), b.VoteOptionRoot()}
}

// VotesAsBigInts returns the weight vector as raw big ints.
func (b *Ballot) VotesAsBigInts() []*big.Int {
	votes := make([]*big.Int, len(b.Votes))
	for i, v := range b.Votes {
		votes[i] = new(big.Int).Set(v.MathBigInt())
	}
	return votes
}

// Copy returns a deep copy of the ballot.
func (b *Ballot) Copy() *Ballot {
	votes := make([]*types.BigInt, len(b.Votes))
	for i, v := range b.Votes {
		votes[i] = types.FromBigInt(v.MathBigInt())
	}
	return &Ballot{
		Nonce:               types.FromBigInt(b.Nonce.MathBigInt()),
		Votes:               votes,
		VoteOptionTreeDepth: b.VoteOptionTreeDepth,
	}
}

// Equal reports whether both ballots hold the same nonce and weights.
func (b *Ballot) Equal(o *Ballot) bool {
	if b == nil || o == nil {
		return (b == nil) == (o == nil)
	}
	if !b.Nonce.Equal(o.Nonce) || len(b.Votes) != len(o.Votes) {
		return false
	}
	for i := range b.Votes {
		if !b.Votes[i].Equal(o.Votes[i]) {
			return false
		}
	}
	return b.VoteOptionTreeDepth == o.VoteOptionTreeDepth
}
