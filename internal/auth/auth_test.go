package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"

	"github.com/solpond/arena/internal/store"
	"github.com/solpond/arena/pkg/arenadto"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	svc, err := NewService(store.New(rdb), "", time.Hour)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func newWallet(t *testing.T) (string, solana.PrivateKey) {
	t.Helper()
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return priv.PublicKey().String(), priv
}

func signNonce(priv solana.PrivateKey, nonce string) string {
	sig := ed25519.Sign(ed25519.PrivateKey(priv), []byte(nonce))
	out := solana.SignatureFromBytes(sig)
	return out.String()
}

func TestChallengeTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	wallet, priv := newWallet(t)

	nonce, err := svc.Challenge(ctx, wallet)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	token, expires, err := svc.Token(ctx, wallet, signNonce(priv, nonce))
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("token already expired: %v", expires)
	}

	got, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != wallet {
		t.Fatalf("token subject = %s, want %s", got, wallet)
	}
}

func TestTokenRejectsWrongKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	wallet, _ := newWallet(t)
	_, otherPriv := newWallet(t)

	nonce, err := svc.Challenge(ctx, wallet)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if _, _, err := svc.Token(ctx, wallet, signNonce(otherPriv, nonce)); !errors.Is(err, arenadto.ErrUnauthenticated) {
		t.Fatalf("wrong-key signature accepted: %v", err)
	}
}

func TestTokenRequiresOutstandingChallenge(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	wallet, priv := newWallet(t)

	if _, _, err := svc.Token(ctx, wallet, signNonce(priv, "whatever")); !errors.Is(err, arenadto.ErrUnauthenticated) {
		t.Fatalf("token without challenge: %v", err)
	}
}

func TestNonceIsSingleUse(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	wallet, priv := newWallet(t)

	nonce, err := svc.Challenge(ctx, wallet)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	sig := signNonce(priv, nonce)
	if _, _, err := svc.Token(ctx, wallet, sig); err != nil {
		t.Fatalf("first Token: %v", err)
	}
	if _, _, err := svc.Token(ctx, wallet, sig); !errors.Is(err, arenadto.ErrUnauthenticated) {
		t.Fatalf("nonce replayed: %v", err)
	}
}

func TestChallengeRejectsBadAddress(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Challenge(context.Background(), "not-a-wallet"); !errors.Is(err, arenadto.ErrUnauthenticated) {
		t.Fatalf("bad address accepted: %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Verify("not.a.token"); !errors.Is(err, arenadto.ErrUnauthenticated) {
		t.Fatalf("garbage token accepted: %v", err)
	}
}
