// Package babyjub implements the Baby Jubjub key material used by the poll
// coordinator and its voters: EdDSA-Poseidon keypairs, ECDH shared keys and
// the authenticated command cipher. It wraps the iden3 implementation.
package babyjub

import (
	"encoding/json"
	"fmt"
	"math/big"

	babyjubjub "github.com/iden3/go-iden3-crypto/babyjub"

	"github.com/vocdoni/maci-coordinator/crypto/poseidon"
	"github.com/vocdoni/maci-coordinator/types"
)

// PrivKey is an EdDSA private key on Baby Jubjub.
type PrivKey struct {
	inner babyjubjub.PrivateKey
}

// PubKey is a point of the Baby Jubjub prime-order subgroup, used both as an
// EdDSA verification key and as an ECDH party key.
type PubKey struct {
	X *big.Int
	Y *big.Int
}

// Keypair holds a private key and its derived public key.
type Keypair struct {
	PrivKey *PrivKey
	PubKey  *PubKey
}

// Signature is an EdDSA-Poseidon signature.
type Signature struct {
	R8X *big.Int
	R8Y *big.Int
	S   *big.Int
}

// GenKeypair generates a new random keypair.
func GenKeypair() *Keypair {
	priv := &PrivKey{inner: babyjubjub.NewRandPrivKey()}
	return &Keypair{PrivKey: priv, PubKey: priv.Public()}
}

// NewKeypairFromSeed derives a keypair from 32 bytes of seed material. The
// same seed always yields the same keypair.
func NewKeypairFromSeed(seed [32]byte) *Keypair {
	priv := &PrivKey{}
	copy(priv.inner[:], seed[:])
	return &Keypair{PrivKey: priv, PubKey: priv.Public()}
}

// Public derives the public key of k.
func (k *PrivKey) Public() *PubKey {
	p := k.inner.Public()
	return &PubKey{X: new(big.Int).Set(p.X), Y: new(big.Int).Set(p.Y)}
}

// Scalar returns the pruned private scalar used for both signing and ECDH,
// following the iden3 Blake-512 key derivation.
func (k *PrivKey) Scalar() *big.Int {
	return babyjubjub.SkToBigInt(&k.inner)
}

// SignPoseidon signs msg with the EdDSA-Poseidon scheme.
func (k *PrivKey) SignPoseidon(msg *big.Int) *Signature {
	sig := k.inner.SignPoseidon(msg)
	return &Signature{
		R8X: new(big.Int).Set(sig.R8.X),
		R8Y: new(big.Int).Set(sig.R8.Y),
		S:   new(big.Int).Set(sig.S),
	}
}

// Copy returns a deep copy of the private key.
func (k *PrivKey) Copy() *PrivKey {
	c := &PrivKey{}
	c.inner = k.inner
	return c
}

// VerifyPoseidon checks an EdDSA-Poseidon signature over msg.
func (p *PubKey) VerifyPoseidon(msg *big.Int, sig *Signature) bool {
	if sig == nil || sig.R8X == nil || sig.R8Y == nil || sig.S == nil {
		return false
	}
	point := &babyjubjub.Point{X: new(big.Int).Set(p.X), Y: new(big.Int).Set(p.Y)}
	pk := babyjubjub.PublicKey(*point)
	iSig := &babyjubjub.Signature{
		R8: &babyjubjub.Point{X: new(big.Int).Set(sig.R8X), Y: new(big.Int).Set(sig.R8Y)},
		S:  new(big.Int).Set(sig.S),
	}
	return pk.VerifyPoseidon(msg, iSig)
}

// Hash returns the Poseidon hash of the two public key coordinates.
func (p *PubKey) Hash() *big.Int {
	return poseidon.HashLeftRight(p.X, p.Y)
}

// Copy returns a deep copy of the public key.
func (p *PubKey) Copy() *PubKey {
	return &PubKey{X: new(big.Int).Set(p.X), Y: new(big.Int).Set(p.Y)}
}

// Equal reports whether both public keys are the same curve point.
func (p *PubKey) Equal(o *PubKey) bool {
	if p == nil || o == nil {
		return (p == nil) == (o == nil)
	}
	return p.X.Cmp(o.X) == 0 && p.Y.Cmp(o.Y) == 0
}

// InField reports whether both coordinates are canonical field residues.
func (p *PubKey) InField() bool {
	return p.X.Sign() >= 0 && p.X.Cmp(types.SNARKFieldSize) < 0 &&
		p.Y.Sign() >= 0 && p.Y.Cmp(types.SNARKFieldSize) < 0
}

// MarshalJSON serializes the public key as a pair of decimal strings.
func (p *PubKey) MarshalJSON() ([]byte, error) {
	return json.Marshal([]*types.BigInt{types.FromBigInt(p.X), types.FromBigInt(p.Y)})
}

// UnmarshalJSON deserializes the public key from a pair of decimal strings.
func (p *PubKey) UnmarshalJSON(buf []byte) error {
	var coords []*types.BigInt
	if err := json.Unmarshal(buf, &coords); err != nil {
		return err
	}
	if len(coords) != 2 {
		return fmt.Errorf("expected 2 coordinates, got %d", len(coords))
	}
	p.X = new(big.Int).Set(coords[0].MathBigInt())
	p.Y = new(big.Int).Set(coords[1].MathBigInt())
	return nil
}

// PadKey returns the fixed public key attached to topup messages and to the
// blank state leaf. Nobody knows a private key for it.
func PadKey() *PubKey {
	return &PubKey{X: new(big.Int).Set(types.PadKeyX), Y: new(big.Int).Set(types.PadKeyY)}
}

// Copy returns a deep copy of the keypair.
func (k *Keypair) Copy() *Keypair {
	return &Keypair{PrivKey: k.PrivKey.Copy(), PubKey: k.PubKey.Copy()}
}

// EcdhSharedKey computes the Diffie-Hellman shared point between a private and
// a public key. Both parties derive the same point, which keys the command
// cipher.
func EcdhSharedKey(priv *PrivKey, pub *PubKey) *PubKey {
	point := &babyjubjub.Point{X: new(big.Int).Set(pub.X), Y: new(big.Int).Set(pub.Y)}
	shared := babyjubjub.NewPoint().Mul(priv.Scalar(), point)
	return &PubKey{X: shared.X, Y: shared.Y}
}
