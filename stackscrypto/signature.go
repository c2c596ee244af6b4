// Package stackscrypto verifies Stacks signed messages and derives c32check
// addresses from secp256k1 public keys.
package stackscrypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/pkg/errors"
)

// Prefixes are length-prefixed in the Bitcoin varstr style: the leading byte
// is the length of the ASCII text that follows.
const (
	signedMessagePrefix = "\x17Stacks Signed Message:\n"
	legacyMessagePrefix = "\x18Stacks Message Signing:\n"
)

const signatureLen = 65

var ErrSignatureMismatch = errors.New("signature does not match public key")

// compactSize renders n in the Bitcoin variable-length integer encoding.
func compactSize(n uint64) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(n))
		return buf
	case n <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(n))
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], n)
		return buf
	}
}

func prefixedDigest(prefix string, msg []byte) []byte {
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write(compactSize(uint64(len(msg))))
	h.Write(msg)
	return h.Sum(nil)
}

// MessageDigest hashes a message under the current signing prefix.
func MessageDigest(msg []byte) []byte {
	return prefixedDigest(signedMessagePrefix, msg)
}

// LegacyMessageDigest hashes a message under the pre-2022 signing prefix,
// kept for wallets that have not upgraded.
func LegacyMessageDigest(msg []byte) []byte {
	return prefixedDigest(legacyMessagePrefix, msg)
}

// recoverFromRSV rotates an R||S||V signature into the header-first compact
// layout and recovers the signing key.
func recoverFromRSV(digest, sig []byte) (*btcec.PublicKey, error) {
	if len(sig) != signatureLen {
		return nil, errors.Errorf("signature must be %d bytes, got %d", signatureLen, len(sig))
	}
	compact := make([]byte, signatureLen)
	compact[0] = 27 + sig[signatureLen-1] + 4
	copy(compact[1:], sig[:signatureLen-1])
	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return nil, errors.Wrap(err, "could not recover public key")
	}
	return pub, nil
}

// VerifyMessage checks a hex R||S||V signature over msg against a hex
// compressed public key. The current prefix is tried first, then the legacy
// one.
func VerifyMessage(msg string, signatureHex, publicKeyHex string) error {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return errors.Wrap(err, "malformed signature hex")
	}
	claimed, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return errors.Wrap(err, "malformed public key hex")
	}
	if _, err := btcec.ParsePubKey(claimed); err != nil {
		return errors.Wrap(err, "invalid public key")
	}
	for _, digest := range [][]byte{MessageDigest([]byte(msg)), LegacyMessageDigest([]byte(msg))} {
		pub, err := recoverFromRSV(digest, sig)
		if err != nil {
			continue
		}
		if bytes.Equal(pub.SerializeCompressed(), claimed) {
			return nil
		}
	}
	return ErrSignatureMismatch
}
