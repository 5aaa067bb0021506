package tree

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
)

func newTestTree(depth int) *IncrementalQuinTree {
	return NewIncrementalQuinTree(depth, 5, big.NewInt(0), Poseidon5)
}

func TestEmptyTreeRoot(t *testing.T) {
	c := qt.New(t)

	tr := newTestTree(2)
	zeroLeafRow := []*big.Int{
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
	}
	z1 := poseidon.Hash5(zeroLeafRow)
	z2 := poseidon.Hash5([]*big.Int{z1, z1, z1, z1, z1})
	c.Assert(tr.Root().Cmp(z2), qt.Equals, 0)
	c.Assert(tr.NextIndex(), qt.Equals, 0)
	c.Assert(tr.ZeroHash(1).Cmp(z1), qt.Equals, 0)
}

func TestInsertAndUpdate(t *testing.T) {
	c := qt.New(t)

	tr := newTestTree(1)
	for i := 1; i <= 5; i++ {
		tr.Insert(big.NewInt(int64(i)))
	}
	c.Assert(tr.NextIndex(), qt.Equals, 5)
	manual := poseidon.Hash5([]*big.Int{
		big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4), big.NewInt(5),
	})
	c.Assert(tr.Root().Cmp(manual), qt.Equals, 0)
	c.Assert(func() { tr.Insert(big.NewInt(6)) }, qt.PanicMatches, "tree is full.*")

	tr.Update(2, big.NewInt(33))
	manual = poseidon.Hash5([]*big.Int{
		big.NewInt(1), big.NewInt(2), big.NewInt(33), big.NewInt(4), big.NewInt(5),
	})
	c.Assert(tr.Root().Cmp(manual), qt.Equals, 0)
}

func TestMerklePath(t *testing.T) {
	c := qt.New(t)

	tr := newTestTree(3)
	for i := 0; i < 17; i++ {
		tr.Insert(big.NewInt(int64(100 + i)))
	}
	for _, index := range []int{0, 4, 5, 16, 17, 124} {
		path := tr.GenMerklePath(index)
		c.Assert(VerifyMerklePath(path, Poseidon5), qt.IsTrue,
			qt.Commentf("path for index %d", index))
	}

	// a forged leaf must not verify
	path := tr.GenMerklePath(3)
	path.Leaf = big.NewInt(999)
	c.Assert(VerifyMerklePath(path, Poseidon5), qt.IsFalse)
}

func TestMerkleSubrootPath(t *testing.T) {
	c := qt.New(t)

	tr := newTestTree(3)
	for i := 0; i < 12; i++ {
		tr.Insert(big.NewInt(int64(i)))
	}
	path := tr.GenMerkleSubrootPath(5, 10)
	c.Assert(path.Depth, qt.Equals, 2)
	c.Assert(VerifyMerklePath(path, Poseidon5), qt.IsTrue)

	wide := tr.GenMerkleSubrootPath(0, 25)
	c.Assert(wide.Depth, qt.Equals, 1)
	c.Assert(VerifyMerklePath(wide, Poseidon5), qt.IsTrue)

	c.Assert(func() { tr.GenMerkleSubrootPath(0, 3) },
		qt.PanicMatches, "subroot range.*")
	c.Assert(func() { tr.GenMerkleSubrootPath(3, 8) },
		qt.PanicMatches, "subroot start.*")
}

func TestCopyIndependence(t *testing.T) {
	c := qt.New(t)

	tr := newTestTree(2)
	tr.Insert(big.NewInt(1))
	tr.Insert(big.NewInt(2))

	cp := tr.Copy()
	c.Assert(cp.Equal(tr), qt.IsTrue)

	cp.Update(0, big.NewInt(9))
	c.Assert(cp.Equal(tr), qt.IsFalse)
	c.Assert(tr.node(0, 0).Cmp(big.NewInt(1)), qt.Equals, 0)
}

func TestTreeCommitment(t *testing.T) {
	c := qt.New(t)

	leaves := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	salt := big.NewInt(42)

	manualTree := NewVoteOptionTree(2)
	for _, l := range leaves {
		manualTree.Insert(l)
	}
	expected := poseidon.HashLeftRight(manualTree.Root(), salt)
	c.Assert(TreeCommitment(leaves, salt, 2).Cmp(expected), qt.Equals, 0)
	c.Assert(TreeCommitment(leaves, big.NewInt(43), 2).Cmp(expected), qt.Not(qt.Equals), 0)
}
