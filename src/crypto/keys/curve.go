package keys

import (
	"crypto/elliptic"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

/*
Registry writes are signed with elliptic curve cryptography. We use the
secp256k1 curve because it is the curve used by the anchor chains the pointer
registry is deployed on.
*/

// Parameters of the secp256k1 curve. They are used in other functions to
// verify that a private key is valid.
var (
	secp256k1N, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
)

// Curve returns an elliptic.Curve. We use btcsuite's golang implementation of
// secp256k1.
func Curve() elliptic.Curve {
	return btcec.S256() //secp256k1
}
