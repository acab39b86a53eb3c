package keys

import (
	"strings"
	"testing"
)

// Compressed and uncompressed encodings of the secp256k1 generator point.
const (
	compressedG   = "0279BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798"
	uncompressedG = "0479BE667EF9DCBBAC55A06295CE870B07029BFCDB2DCE28D959F2815B16F81798" +
		"483ADA7726A3C4655DA4FBFC0E1108A8FD17B448A68554199C47D08FFB10D4B8"
)

func TestFromPubKey(t *testing.T) {
	id, err := FromPubKey(compressedG)
	if err != nil {
		t.Fatal(err)
	}

	if id == "" {
		t.Fatal("identity should not be empty")
	}

	// base58 excludes 0, O, I and l.
	if strings.ContainsAny(id, "0OIl") {
		t.Fatalf("identity %q is not base58", id)
	}
}

func TestFromPubKeyEncodings(t *testing.T) {
	fromCompressed, err := FromPubKey(compressedG)
	if err != nil {
		t.Fatal(err)
	}

	fromUncompressed, err := FromPubKey(uncompressedG)
	if err != nil {
		t.Fatal(err)
	}

	// Both encodings of the same point must yield the same identity.
	if fromCompressed != fromUncompressed {
		t.Fatalf("%q != %q", fromCompressed, fromUncompressed)
	}

	withPrefix, err := FromPubKey("0x" + compressedG)
	if err != nil {
		t.Fatal(err)
	}

	if withPrefix != fromCompressed {
		t.Fatal("0x prefix should not change the identity")
	}
}

func TestFromPubKeyErrors(t *testing.T) {
	if _, err := FromPubKey("not-hex"); err == nil {
		t.Fatal("non-hex input should fail")
	}

	if _, err := FromPubKey("02deadbeef"); err == nil {
		t.Fatal("a malformed point should fail")
	}

	if _, err := FromPubKey(""); err == nil {
		t.Fatal("empty input should fail")
	}
}
