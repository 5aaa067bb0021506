package tree

import (
	"math/big"

	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
	"github.com/vocdoni/maci-coordinator/types"
)

// Poseidon5 is the node hash of every quinary tree in the module.
func Poseidon5(inputs []*big.Int) *big.Int {
	return poseidon.Hash5(inputs)
}

// NewVoteOptionTree creates a zero-filled quinary tree of the vote option
// shape: one leaf per option, zero value 0.
func NewVoteOptionTree(depth int) *IncrementalQuinTree {
	return NewIncrementalQuinTree(depth, types.VoteOptionTreeArity, big.NewInt(0), Poseidon5)
}

// TreeCommitment builds a fresh quinary tree of the given depth over the
// leaves and binds its root to the salt: HashLeftRight(root, salt). Tally and
// subsidy results are committed this way.
func TreeCommitment(leaves []*big.Int, salt *big.Int, depth int) *big.Int {
	t := NewVoteOptionTree(depth)
	for _, leaf := range leaves {
		t.Insert(leaf)
	}
	return poseidon.HashLeftRight(t.Root(), salt)
}
