package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/models"
	"golang.org/x/crypto/sha3"
)

// Wallet login: the server issues a nonce, the wallet signs a challenge
// containing it, and the signature proves control of the address.

const (
	ChainEthereum = "ethereum"
	ChainSolana   = "solana"

	web3NonceTTL = 10 * time.Minute
)

func signChallenge(addr, nonce string) string {
	return fmt.Sprintf("Sign this message to authenticate.\n\nAddress: %s\nNonce: %s", addr, nonce)
}

// Web3Nonce issues a fresh login nonce for the address. Single use; a new
// request replaces any outstanding nonce.
func (s *Service) Web3Nonce(ctx context.Context, chain, addr string) (string, string, error) {
	chain = strings.ToLower(chain)
	if chain != ChainEthereum && chain != ChainSolana {
		return "", "", apperrors.ValidationError("chain", "must be ethereum or solana")
	}
	addr = normalizeAddr(chain, addr)
	if addr == "" {
		return "", "", apperrors.ValidationError("address", "required")
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", apperrors.InternalError("generate nonce").WithCause(err)
	}
	nonce := hex.EncodeToString(buf)
	if err := s.rdb.SetEx(ctx, models.KeyWeb3Nonce(chain, addr), nonce, web3NonceTTL); err != nil {
		return "", "", apperrors.ServiceUnavailable("verify store").WithCause(err)
	}
	return nonce, signChallenge(addr, nonce), nil
}

// Web3Login redeems a signed challenge and returns the wallet's user,
// creating the account on first login.
func (s *Service) Web3Login(ctx context.Context, chain, addr, signature string) (*models.User, error) {
	chain = strings.ToLower(chain)
	addr = normalizeAddr(chain, addr)

	nonce, found, err := s.rdb.GetDel(ctx, models.KeyWeb3Nonce(chain, addr))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("verify store").WithCause(err)
	}
	if !found {
		return nil, apperrors.Unauthorized("nonce expired, request a new one")
	}

	message := signChallenge(addr, nonce)
	switch chain {
	case ChainEthereum:
		if !verifyEthereumSignature(addr, message, signature) {
			return nil, apperrors.Unauthorized("signature verification failed")
		}
	case ChainSolana:
		if !verifySolanaSignature(addr, message, signature) {
			return nil, apperrors.Unauthorized("signature verification failed")
		}
	default:
		return nil, apperrors.ValidationError("chain", "must be ethereum or solana")
	}

	user, err := s.users.ByWallet(ctx, chain, addr)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = models.NewUser(shortAddr(addr))
	user.AddIdentity(models.WalletIdentity(chain, addr))
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}
	if err := s.users.IndexWallet(ctx, chain, addr, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func normalizeAddr(chain, addr string) string {
	addr = strings.TrimSpace(addr)
	if chain == ChainEthereum {
		return strings.ToLower(addr)
	}
	return addr
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// verifyEthereumSignature checks a personal_sign signature: the recovered
// public key must hash to the claimed address.
func verifyEthereumSignature(addr, message, signature string) bool {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return false
	}

	// personal_sign prefixes the message before hashing.
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := keccak256([]byte(prefixed))

	// Wallets emit r||s||v; RecoverCompact wants the recovery byte first.
	v := sig[64]
	if v < 27 {
		v += 27
	}
	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pubKey, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return false
	}

	raw := pubKey.SerializeUncompressed()
	recovered := "0x" + hex.EncodeToString(keccak256(raw[1:])[12:])
	return recovered == addr
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// verifySolanaSignature checks an ed25519 signature; the address is the
// base58-encoded public key.
func verifySolanaSignature(addr, message, signature string) bool {
	pub, err := base58.Decode(addr)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}
