package stackscrypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signRSV produces the wire-format hex signature clients send: R||S||V.
func signRSV(t *testing.T, priv *btcec.PrivateKey, digest []byte) string {
	t.Helper()
	compact, err := ecdsa.SignCompact(priv, digest, true)
	require.NoError(t, err)
	rsv := make([]byte, 65)
	copy(rsv[:64], compact[1:])
	rsv[64] = compact[0] - 27 - 4
	return hex.EncodeToString(rsv)
}

func TestVerifyMessage(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	msg := "B2PIX - Comprar\nb2pix.org\nSP000\n2026-08-24T12:00:00Z"
	sig := signRSV(t, priv, MessageDigest([]byte(msg)))

	assert.NoError(t, VerifyMessage(msg, sig, pubHex))
	assert.ErrorIs(t, VerifyMessage(msg+"x", sig, pubHex), ErrSignatureMismatch)

	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	otherHex := hex.EncodeToString(other.PubKey().SerializeCompressed())
	assert.ErrorIs(t, VerifyMessage(msg, sig, otherHex), ErrSignatureMismatch)
}

func TestVerifyMessage_LegacyPrefix(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	msg := "B2PIX - Marcar como Pago\nb2pix.org\nabc123\n2026-08-24T12:00:00Z"
	sig := signRSV(t, priv, LegacyMessageDigest([]byte(msg)))

	assert.NoError(t, VerifyMessage(msg, sig, pubHex))
}

func TestVerifyMessage_MalformedInputs(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	assert.Error(t, VerifyMessage("m", "zz", pubHex))
	assert.Error(t, VerifyMessage("m", "abcd", pubHex))
	assert.Error(t, VerifyMessage("m", strings.Repeat("00", 65), "nothex"))
}

func TestMessageDigest_VarintBoundary(t *testing.T) {
	// 253 is the first length that needs the 0xfd three-byte encoding; the
	// digest must diverge from a single-byte length interpretation.
	short := make([]byte, 252)
	long := make([]byte, 253)
	assert.NotEqual(t, MessageDigest(short), MessageDigest(long))
	assert.Len(t, MessageDigest(nil), 32)
}

func TestAddressDerivation(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	main := AddressFromPublicKey(priv.PubKey(), Mainnet)
	test := AddressFromPublicKey(priv.PubKey(), Testnet)

	assert.True(t, strings.HasPrefix(main, "SP"), main)
	assert.True(t, strings.HasPrefix(test, "ST"), test)
	assert.NotEqual(t, main, test)

	version, h, err := DecodeAddress(main)
	require.NoError(t, err)
	assert.Equal(t, byte(22), version)
	assert.Equal(t, hash160(priv.PubKey().SerializeCompressed()), h)

	version, _, err = DecodeAddress(test)
	require.NoError(t, err)
	assert.Equal(t, byte(26), version)
}

func TestDecodeAddress_RejectsTampering(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr := AddressFromPublicKey(priv.PubKey(), Mainnet)

	last := addr[len(addr)-1]
	replacement := byte('0')
	if last == replacement {
		replacement = '1'
	}
	_, _, err = DecodeAddress(addr[:len(addr)-1] + string(replacement))
	assert.Error(t, err)

	_, _, err = DecodeAddress("XP123")
	assert.Error(t, err)
}

func TestAddressFromPublicKeyHex(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pubHex := hex.EncodeToString(priv.PubKey().SerializeCompressed())

	addr, err := AddressFromPublicKeyHex(pubHex, Mainnet)
	require.NoError(t, err)
	assert.Equal(t, AddressFromPublicKey(priv.PubKey(), Mainnet), addr)

	_, err = AddressFromPublicKeyHex("nothex", Mainnet)
	assert.Error(t, err)
}
