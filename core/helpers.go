package core

import (
	"math/big"

	"github.com/vocdoni/maci-coordinator/domain"
	"github.com/vocdoni/maci-coordinator/types"
)

// Conversion helpers between the raw big.Int working representation and the
// decimal-string-serializing circuit input types.

func bigsAsInputs(in []*big.Int) []*types.BigInt {
	out := make([]*types.BigInt, len(in))
	for i, v := range in {
		out[i] = types.FromBigInt(v)
	}
	return out
}

// pathAsInputs converts one Merkle path's elements (level x siblings).
func pathAsInputs(path [][]*big.Int) [][]*types.BigInt {
	out := make([][]*types.BigInt, len(path))
	for i, level := range path {
		out[i] = bigsAsInputs(level)
	}
	return out
}

// pathsAsInputs converts a batch of Merkle paths.
func pathsAsInputs(paths [][][]*big.Int) [][][]*types.BigInt {
	out := make([][][]*types.BigInt, len(paths))
	for i, path := range paths {
		out[i] = pathAsInputs(path)
	}
	return out
}

func stateLeavesAsInputs(leaves []*domain.StateLeaf) [][]*types.BigInt {
	out := make([][]*types.BigInt, len(leaves))
	for i, leaf := range leaves {
		out[i] = bigsAsInputs(leaf.AsCircuitInputs())
	}
	return out
}

func ballotsAsInputs(ballots []*domain.Ballot) [][]*types.BigInt {
	out := make([][]*types.BigInt, len(ballots))
	for i, b := range ballots {
		out[i] = bigsAsInputs(b.AsCircuitInputs())
	}
	return out
}

func votesAsInputs(ballots []*domain.Ballot) [][]*types.BigInt {
	out := make([][]*types.BigInt, len(ballots))
	for i, b := range ballots {
		out[i] = bigsAsInputs(b.VotesAsBigInts())
	}
	return out
}
