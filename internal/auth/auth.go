package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/solpond/arena/internal/obslog"
	"github.com/solpond/arena/internal/store"
	"github.com/solpond/arena/pkg/arenadto"
)

const (
	nonceTTL    = 5 * time.Minute
	tokenIssuer = "arena"
)

// Service issues bearer tokens to wallet holders. Ownership is proven by
// signing a single-use nonce with the wallet's key; Solana addresses are
// ed25519 public keys, so the address itself is the verification key.
type Service struct {
	st       *store.Store
	signKey  ed25519.PrivateKey
	tokenTTL time.Duration
}

// NewService builds the service. seed is an optional base64 32-byte
// ed25519 seed for the token signing key; when empty an ephemeral key is
// generated and tokens do not survive a restart.
func NewService(st *store.Store, seed string, tokenTTL time.Duration) (*Service, error) {
	var key ed25519.PrivateKey
	if seed != "" {
		raw, err := base64.StdEncoding.DecodeString(seed)
		if err != nil {
			return nil, fmt.Errorf("decode token signing seed: %w", err)
		}
		if len(raw) != ed25519.SeedSize {
			return nil, fmt.Errorf("token signing seed must be %d bytes, got %d", ed25519.SeedSize, len(raw))
		}
		key = ed25519.NewKeyFromSeed(raw)
	} else {
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		key = k
		obslog.L().Warn("auth_ephemeral_signing_key")
	}
	return &Service{st: st, signKey: key, tokenTTL: tokenTTL}, nil
}

// Challenge stores and returns a fresh login nonce for the wallet. The
// client signs the nonce bytes with the wallet key and trades the
// signature for a token. A new challenge replaces any outstanding one.
func (s *Service) Challenge(ctx context.Context, wallet string) (string, error) {
	if _, err := solana.PublicKeyFromBase58(wallet); err != nil {
		return "", arenadto.ErrUnauthenticated
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(buf)
	if err := s.st.PutNonce(ctx, wallet, nonce, nonceTTL); err != nil {
		return "", err
	}
	return nonce, nil
}

// Token verifies a signed challenge and issues a JWT whose subject is the
// wallet address. The nonce is consumed on the attempt whether or not the
// signature checks out.
func (s *Service) Token(ctx context.Context, wallet, signatureB58 string) (string, time.Time, error) {
	pub, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return "", time.Time{}, arenadto.ErrUnauthenticated
	}
	nonce, err := s.st.TakeNonce(ctx, wallet)
	if err != nil {
		return "", time.Time{}, err
	}
	if nonce == "" {
		return "", time.Time{}, arenadto.ErrUnauthenticated
	}
	sig, err := solana.SignatureFromBase58(signatureB58)
	if err != nil {
		return "", time.Time{}, arenadto.ErrUnauthenticated
	}
	if !ed25519.Verify(pub.Bytes(), []byte(nonce), sig[:]) {
		obslog.L().Info("auth_bad_signature", zap.String("wallet", wallet))
		return "", time.Time{}, arenadto.ErrUnauthenticated
	}

	now := time.Now()
	expires := now.Add(s.tokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   wallet,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Verify parses a bearer token and returns the wallet it was issued to.
func (s *Service) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signKey.Public(), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", arenadto.ErrUnauthenticated
	}
	return claims.Subject, nil
}
