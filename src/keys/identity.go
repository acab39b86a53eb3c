// Package keys derives wallet-style identity keys from secp256k1 public
// keys. The rendezvous server never verifies ownership of a key; it only
// needs a stable, well-formed identifier to feed the proximity metric.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mr-tron/base58"
)

// identityLen is the number of digest bytes kept in the rendered identity.
// 20 bytes matches the address length common to wallet schemes.
const identityLen = 20

// FromPubKey derives an identity key from a compressed or uncompressed
// secp256k1 public key in hex, with or without a 0x prefix. The result is
// the base58 rendering of the leading bytes of the SHA256 of the compressed
// key, so both encodings of the same key yield the same identity.
func FromPubKey(pubKeyHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(pubKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("decoding public key hex: %v", err)
	}

	pub, err := btcec.ParsePubKey(raw, btcec.S256())
	if err != nil {
		return "", fmt.Errorf("parsing public key: %v", err)
	}

	sum := sha256.Sum256(pub.SerializeCompressed())

	return base58.Encode(sum[:identityLen]), nil
}
