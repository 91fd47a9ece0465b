package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

type solanaWallet struct {
	addr string
	priv ed25519.PrivateKey
}

func newSolanaWallet(t *testing.T) solanaWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return solanaWallet{addr: base58.Encode(pub), priv: priv}
}

func (w solanaWallet) sign(message string) string {
	return base58.Encode(ed25519.Sign(w.priv, []byte(message)))
}

type ethereumWallet struct {
	addr string
	priv *secp256k1.PrivateKey
}

func newEthereumWallet(t *testing.T) ethereumWallet {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	raw := priv.PubKey().SerializeUncompressed()
	h := sha3.NewLegacyKeccak256()
	h.Write(raw[1:])
	addr := "0x" + hex.EncodeToString(h.Sum(nil)[12:])
	return ethereumWallet{addr: addr, priv: priv}
}

// sign produces the r||s||v layout wallets emit from personal_sign.
func (w ethereumWallet) sign(message string) string {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefixed))
	compact := ecdsa.SignCompact(w.priv, h.Sum(nil), false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}

func TestWeb3NonceValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := s.Web3Nonce(ctx, "bitcoin", "addr")
	assert.Error(t, err)
	_, _, err = s.Web3Nonce(ctx, ChainSolana, "  ")
	assert.Error(t, err)
}

func TestWeb3LoginSolana(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	w := newSolanaWallet(t)

	nonce, challenge, err := s.Web3Nonce(ctx, ChainSolana, w.addr)
	require.NoError(t, err)
	assert.Contains(t, challenge, w.addr)
	assert.Contains(t, challenge, nonce)

	user, err := s.Web3Login(ctx, ChainSolana, w.addr, w.sign(challenge))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, shortAddr(w.addr), user.Name)

	// Second login finds the same account instead of minting another.
	_, challenge, err = s.Web3Nonce(ctx, ChainSolana, w.addr)
	require.NoError(t, err)
	again, err := s.Web3Login(ctx, ChainSolana, w.addr, w.sign(challenge))
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestWeb3LoginEthereum(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	w := newEthereumWallet(t)

	_, challenge, err := s.Web3Nonce(ctx, ChainEthereum, w.addr)
	require.NoError(t, err)

	user, err := s.Web3Login(ctx, ChainEthereum, w.addr, w.sign(challenge))
	require.NoError(t, err)
	require.NotNil(t, user)
}

func TestWeb3LoginEthereumMixedCaseAddress(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	w := newEthereumWallet(t)

	// EIP-55 style checksummed input maps to the same lowercased identity.
	mixed := "0x" + toUpperHex(w.addr[2:])
	_, challenge, err := s.Web3Nonce(ctx, ChainEthereum, mixed)
	require.NoError(t, err)
	assert.Contains(t, challenge, w.addr, "the challenge carries the normalized address")

	user, err := s.Web3Login(ctx, ChainEthereum, mixed, w.sign(challenge))
	require.NoError(t, err)
	require.NotNil(t, user)
}

func toUpperHex(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestWeb3LoginNonceSingleUse(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	w := newSolanaWallet(t)

	_, challenge, err := s.Web3Nonce(ctx, ChainSolana, w.addr)
	require.NoError(t, err)
	sig := w.sign(challenge)

	_, err = s.Web3Login(ctx, ChainSolana, w.addr, sig)
	require.NoError(t, err)
	_, err = s.Web3Login(ctx, ChainSolana, w.addr, sig)
	assert.Error(t, err, "a redeemed nonce cannot be replayed")
}

func TestWeb3LoginWrongSigner(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	w := newSolanaWallet(t)
	imposter := newSolanaWallet(t)

	_, challenge, err := s.Web3Nonce(ctx, ChainSolana, w.addr)
	require.NoError(t, err)

	_, err = s.Web3Login(ctx, ChainSolana, w.addr, imposter.sign(challenge))
	assert.Error(t, err)
}

func TestWeb3LoginNoNonce(t *testing.T) {
	s, _ := newTestService(t)
	w := newSolanaWallet(t)

	_, err := s.Web3Login(context.Background(), ChainSolana, w.addr, w.sign("anything"))
	assert.Error(t, err)
}

func TestVerifyEthereumSignatureGarbage(t *testing.T) {
	assert.False(t, verifyEthereumSignature("0xabc", "msg", "not-hex"))
	assert.False(t, verifyEthereumSignature("0xabc", "msg", "0x"+hex.EncodeToString(make([]byte, 64))), "short signature")
}

func TestVerifySolanaSignatureGarbage(t *testing.T) {
	assert.False(t, verifySolanaSignature("not!!base58", "msg", "sig"))
	w := newSolanaWallet(t)
	assert.False(t, verifySolanaSignature(w.addr, "msg", base58.Encode([]byte("short"))))
}

func TestShortAddr(t *testing.T) {
	assert.Equal(t, "0xdead", shortAddr("0xdead"))
	assert.Equal(t, "0x1234…cdef", shortAddr("0x1234567890abcdef1234567890abcdef12345678cdef"))
}
