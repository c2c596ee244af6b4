package stackscrypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"
)

// Network selects the address version byte.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Single-sig address version bytes. Mainnet addresses render as "SP...",
// testnet as "ST...".
const (
	versionMainnet byte = 22
	versionTestnet byte = 26
)

func (n Network) version() byte {
	if n == Mainnet {
		return versionMainnet
	}
	return versionTestnet
}

const hash160Len = 20

// hash160 is RIPEMD-160 over SHA-256, the standard key-to-address digest.
func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sha[:])
	return r.Sum(nil)
}

// AddressFromPublicKey derives the c32check single-sig address of a
// secp256k1 public key on the given network.
func AddressFromPublicKey(pub *btcec.PublicKey, network Network) string {
	version := network.version()
	h := hash160(pub.SerializeCompressed())
	payload := append(h, c32Checksum(version, h)...)
	return "S" + string(c32Alphabet[version]) + c32Encode(payload)
}

// AddressFromPublicKeyHex derives the address from a hex compressed key.
func AddressFromPublicKeyHex(publicKeyHex string, network Network) (string, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", errors.Wrap(err, "malformed public key hex")
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return "", errors.Wrap(err, "invalid public key")
	}
	return AddressFromPublicKey(pub, network), nil
}

// DecodeAddress splits a c32check address into its version byte and hash160,
// verifying the checksum.
func DecodeAddress(addr string) (byte, []byte, error) {
	if len(addr) < 3 || addr[0] != 'S' {
		return 0, nil, errors.New("malformed address")
	}
	idx := strings.IndexByte(c32Alphabet, addr[1])
	if idx < 0 {
		return 0, nil, errors.New("unknown address version character")
	}
	version := byte(idx)
	payload, err := c32Decode(addr[2:], hash160Len+4)
	if err != nil {
		return 0, nil, err
	}
	h, sum := payload[:hash160Len], payload[hash160Len:]
	if !bytes.Equal(sum, c32Checksum(version, h)) {
		return 0, nil, errors.New("address checksum mismatch")
	}
	return version, h, nil
}
