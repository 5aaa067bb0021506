// Package tree implements the fixed-arity incremental Merkle tree the voting
// circuits verify against: append-only insertion, in-place leaf updates,
// Merkle paths, batch subroot paths and deterministic zero subtrees.
package tree

import (
	"fmt"
	"math/big"
)

// HashFunc hashes one node's children into the parent value. It receives
// exactly arity inputs.
type HashFunc func(inputs []*big.Int) *big.Int

// IncrementalQuinTree is an incremental Merkle tree of fixed arity. Leaves
// live at level 0, the root at level Depth. Absent nodes take the
// deterministic zero value of their level.
type IncrementalQuinTree struct {
	Depth     int
	Arity     int
	ZeroValue *big.Int

	hashFn    HashFunc
	nextIndex int
	// nodes[level][index]; sparse, zero-valued nodes are not stored
	nodes []map[int]*big.Int
	zeros []*big.Int
	capacity int
}

// MerklePath is a path from a leaf (or subtree root) up to the root.
// PathElements[level] holds the arity-1 siblings of the node on the path at
// that level; Indices[level] is the node's position among its parent's
// children.
type MerklePath struct {
	PathElements [][]*big.Int
	Indices      []int
	Depth        int
	Arity        int
	Root         *big.Int
	Leaf         *big.Int
}

// NewIncrementalQuinTree creates an empty tree of the given depth and arity
// whose missing leaves read as zeroValue.
func NewIncrementalQuinTree(depth, arity int, zeroValue *big.Int, hashFn HashFunc) *IncrementalQuinTree {
	if depth < 1 || arity < 2 {
		panic(fmt.Sprintf("invalid tree shape: depth %d arity %d", depth, arity))
	}
	zeros := make([]*big.Int, depth+1)
	zeros[0] = new(big.Int).Set(zeroValue)
	for l := 0; l < depth; l++ {
		children := make([]*big.Int, arity)
		for i := range children {
			children[i] = zeros[l]
		}
		zeros[l+1] = hashFn(children)
	}
	nodes := make([]map[int]*big.Int, depth+1)
	for l := range nodes {
		nodes[l] = map[int]*big.Int{}
	}
	capacity := 1
	for i := 0; i < depth; i++ {
		capacity *= arity
	}
	return &IncrementalQuinTree{
		Depth:     depth,
		Arity:     arity,
		ZeroValue: zeros[0],
		hashFn:    hashFn,
		nodes:     nodes,
		zeros:     zeros,
		capacity:  capacity,
	}
}

// NextIndex returns the index the next inserted leaf will take.
func (t *IncrementalQuinTree) NextIndex() int {
	return t.nextIndex
}

// Root returns the current root of the tree.
func (t *IncrementalQuinTree) Root() *big.Int {
	return new(big.Int).Set(t.node(t.Depth, 0))
}

// ZeroHash returns the zero value at the given level (0 = leaf level).
func (t *IncrementalQuinTree) ZeroHash(level int) *big.Int {
	return new(big.Int).Set(t.zeros[level])
}

func (t *IncrementalQuinTree) node(level, index int) *big.Int {
	if v, ok := t.nodes[level][index]; ok {
		return v
	}
	return t.zeros[level]
}

// Insert appends a leaf at the next free index.
func (t *IncrementalQuinTree) Insert(leaf *big.Int) {
	if t.nextIndex >= t.capacity {
		panic(fmt.Sprintf("tree is full: capacity %d", t.capacity))
	}
	t.set(t.nextIndex, leaf)
	t.nextIndex++
}

// Update replaces the leaf at index and recomputes the affected path.
func (t *IncrementalQuinTree) Update(index int, leaf *big.Int) {
	if index < 0 || index >= t.nextIndex {
		panic(fmt.Sprintf("update index %d out of range [0, %d)", index, t.nextIndex))
	}
	t.set(index, leaf)
}

func (t *IncrementalQuinTree) set(index int, leaf *big.Int) {
	t.nodes[0][index] = new(big.Int).Set(leaf)
	idx := index
	for level := 0; level < t.Depth; level++ {
		parent := idx / t.Arity
		children := make([]*big.Int, t.Arity)
		for i := 0; i < t.Arity; i++ {
			children[i] = t.node(level, parent*t.Arity+i)
		}
		t.nodes[level+1][parent] = t.hashFn(children)
		idx = parent
	}
}

// GenMerklePath builds the Merkle path for the leaf at index against the
// current tree shape.
func (t *IncrementalQuinTree) GenMerklePath(index int) *MerklePath {
	if index < 0 || index >= t.capacity {
		panic(fmt.Sprintf("path index %d out of range [0, %d)", index, t.capacity))
	}
	return t.genPath(index, 0, t.Depth)
}

// GenMerkleSubrootPath builds the path from the subtree covering leaves
// [startIndex, endIndex) up to the root. The range length must be a power of
// the arity and startIndex must be aligned to it.
func (t *IncrementalQuinTree) GenMerkleSubrootPath(startIndex, endIndex int) *MerklePath {
	length := endIndex - startIndex
	subDepth := 0
	for span := 1; span < length; span *= t.Arity {
		subDepth++
	}
	span := 1
	for i := 0; i < subDepth; i++ {
		span *= t.Arity
	}
	if span != length {
		panic(fmt.Sprintf("subroot range %d is not a power of arity %d", length, t.Arity))
	}
	if startIndex%length != 0 {
		panic(fmt.Sprintf("subroot start %d is not aligned to range %d", startIndex, length))
	}
	return t.genPath(startIndex/length, subDepth, t.Depth-subDepth)
}

func (t *IncrementalQuinTree) genPath(index, baseLevel, depth int) *MerklePath {
	pathElements := make([][]*big.Int, depth)
	indices := make([]int, depth)
	idx := index
	for level := 0; level < depth; level++ {
		pos := idx % t.Arity
		parent := idx / t.Arity
		siblings := make([]*big.Int, 0, t.Arity-1)
		for i := 0; i < t.Arity; i++ {
			if i == pos {
				continue
			}
			siblings = append(siblings, new(big.Int).Set(t.node(baseLevel+level, parent*t.Arity+i)))
		}
		pathElements[level] = siblings
		indices[level] = pos
		idx = parent
	}
	return &MerklePath{
		PathElements: pathElements,
		Indices:      indices,
		Depth:        depth,
		Arity:        t.Arity,
		Root:         t.Root(),
		Leaf:         new(big.Int).Set(t.node(baseLevel, index)),
	}
}

// VerifyMerklePath recomputes the root from the path and compares it.
func VerifyMerklePath(path *MerklePath, hashFn HashFunc) bool {
	if path == nil || len(path.PathElements) != path.Depth || len(path.Indices) != path.Depth {
		return false
	}
	current := path.Leaf
	for level := 0; level < path.Depth; level++ {
		if len(path.PathElements[level]) != path.Arity-1 {
			return false
		}
		children := make([]*big.Int, 0, path.Arity)
		s := 0
		for i := 0; i < path.Arity; i++ {
			if i == path.Indices[level] {
				children = append(children, current)
				continue
			}
			children = append(children, path.PathElements[level][s])
			s++
		}
		current = hashFn(children)
	}
	return current.Cmp(path.Root) == 0
}

// Copy returns a deep copy of the tree.
func (t *IncrementalQuinTree) Copy() *IncrementalQuinTree {
	nodes := make([]map[int]*big.Int, len(t.nodes))
	for l, level := range t.nodes {
		nodes[l] = make(map[int]*big.Int, len(level))
		for i, v := range level {
			nodes[l][i] = new(big.Int).Set(v)
		}
	}
	zeros := make([]*big.Int, len(t.zeros))
	for i, z := range t.zeros {
		zeros[i] = new(big.Int).Set(z)
	}
	return &IncrementalQuinTree{
		Depth:     t.Depth,
		Arity:     t.Arity,
		ZeroValue: new(big.Int).Set(t.ZeroValue),
		hashFn:    t.hashFn,
		nextIndex: t.nextIndex,
		nodes:     nodes,
		zeros:     zeros,
		capacity:  t.capacity,
	}
}

// Equal reports whether both trees have the same shape, fill and root.
func (t *IncrementalQuinTree) Equal(o *IncrementalQuinTree) bool {
	if o == nil {
		return false
	}
	return t.Depth == o.Depth && t.Arity == o.Arity &&
		t.nextIndex == o.nextIndex && t.Root().Cmp(o.Root()) == 0
}
