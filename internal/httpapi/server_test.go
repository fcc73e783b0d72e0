package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/solpond/arena/internal/auth"
	"github.com/solpond/arena/internal/ledger"
	"github.com/solpond/arena/internal/lobby"
	"github.com/solpond/arena/internal/match"
	"github.com/solpond/arena/internal/payment"
	"github.com/solpond/arena/internal/settlement"
	"github.com/solpond/arena/internal/store"
	"github.com/solpond/arena/pkg/arenadto"
)

const (
	testEscrow   = "EscrowAddr111"
	testEntryFee = uint64(100_000_000)
	testPrize    = 2 * testEntryFee
)

type harness struct {
	router  *gin.Engine
	st      *store.Store
	fake    *ledger.Fake
	authSvc *auth.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	st := store.New(rdb)
	fake := ledger.NewFake()

	authSvc, err := auth.NewService(st, "", time.Hour)
	require.NoError(t, err)

	lobbies := lobby.NewManager(st)
	payments := payment.NewVerifier(st, fake, testEscrow, testEntryFee, 5*time.Minute)
	matches := match.NewOrchestrator(st, nil, 150*time.Second, testEntryFee, testPrize)
	settle := settlement.NewService(st, fake, nil, testEntryFee, 5*time.Minute, 5*time.Second)

	srv := NewServer(st, authSvc, lobbies, payments, matches, settle)
	return &harness{router: srv.Router(), st: st, fake: fake, authSvc: authSvc}
}

type wallet struct {
	addr  string
	token string
}

func (h *harness) login(t *testing.T) wallet {
	t.Helper()
	priv, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	addr := priv.PublicKey().String()

	nonce, err := h.authSvc.Challenge(context.Background(), addr)
	require.NoError(t, err)
	sig := ed25519.Sign(ed25519.PrivateKey(priv), []byte(nonce))
	solSig := solana.SignatureFromBytes(sig)
	token, _, err := h.authSvc.Token(context.Background(), addr, solSig.String())
	require.NoError(t, err)
	return wallet{addr: addr, token: token}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

func TestAuthFailsClosed(t *testing.T) {
	h := newHarness(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/lobbies/join"},
		{http.MethodPost, "/v1/games"},
		{http.MethodPost, "/v1/games/g1/distribute"},
	} {
		w := h.do(t, tc.method, tc.path, "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
		var body arenadto.ErrorResponse
		decodeInto(t, w, &body)
		require.Equal(t, arenadto.CategoryUnauthenticated, body.Category)
	}

	w := h.do(t, http.MethodPost, "/v1/lobbies/join", "bogus-token", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthzIsPublic(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestChallengeTokenEndpoints(t *testing.T) {
	h := newHarness(t)
	priv, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	addr := priv.PublicKey().String()

	w := h.do(t, http.MethodPost, "/v1/auth/challenge", "", arenadto.ChallengeRequest{Wallet: addr})
	require.Equal(t, http.StatusOK, w.Code)
	var ch arenadto.ChallengeResponse
	decodeInto(t, w, &ch)
	require.NotEmpty(t, ch.Nonce)

	sig := ed25519.Sign(ed25519.PrivateKey(priv), []byte(ch.Nonce))
	solSig := solana.SignatureFromBytes(sig)
	w = h.do(t, http.MethodPost, "/v1/auth/token", "", arenadto.TokenRequest{Wallet: addr, Signature: solSig.String()})
	require.Equal(t, http.StatusOK, w.Code)
	var tok arenadto.TokenResponse
	decodeInto(t, w, &tok)
	require.NotEmpty(t, tok.Token)

	w = h.do(t, http.MethodPost, "/v1/lobbies/join", tok.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

// TestFullMatchFlow drives the whole lifecycle over HTTP: join, pay,
// verify, start, score, end, distribute.
func TestFullMatchFlow(t *testing.T) {
	h := newHarness(t)
	a := h.login(t)
	b := h.login(t)

	w := h.do(t, http.MethodPost, "/v1/lobbies/join", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var join arenadto.JoinLobbyResponse
	decodeInto(t, w, &join)
	lobbyID := join.LobbyID

	w = h.do(t, http.MethodPost, "/v1/lobbies/join", b.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var join2 arenadto.JoinLobbyResponse
	decodeInto(t, w, &join2)
	require.Equal(t, lobbyID, join2.LobbyID)

	for i, p := range []wallet{a, b} {
		sig := "entry-sig-" + p.addr[:6]
		h.fake.SetTransfer(&ledger.TransferDetail{
			Signature:      sig,
			Sender:         p.addr,
			Recipient:      testEscrow,
			Lamports:       testEntryFee,
			BlockTime:      time.Now().UTC(),
			Confirmed:      true,
			NativeTransfer: true,
		})
		w = h.do(t, http.MethodPost, "/v1/lobbies/"+lobbyID+"/transactions", p.token, arenadto.RecordTransactionRequest{Signature: sig})
		require.Equal(t, http.StatusOK, w.Code)
		w = h.do(t, http.MethodPost, "/v1/lobbies/"+lobbyID+"/verify", p.token, arenadto.VerifyPaymentRequest{Signature: sig})
		require.Equal(t, http.StatusOK, w.Code)
		var snap store.Lobby
		decodeInto(t, w, &snap)
		if i == 1 {
			require.Equal(t, store.LobbyReady, snap.Status)
		}
	}

	w = h.do(t, http.MethodPost, "/v1/games", a.token, arenadto.StartGameRequest{LobbyID: lobbyID})
	require.Equal(t, http.StatusOK, w.Code)
	var started arenadto.StartGameResponse
	decodeInto(t, w, &started)
	gameID := started.GameID

	w = h.do(t, http.MethodPost, "/v1/games/"+gameID+"/score", a.token, arenadto.ScoreRequest{Score: 12})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, http.MethodPost, "/v1/games/"+gameID+"/score", b.token, arenadto.ScoreRequest{Score: 7})
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/v1/games/"+gameID+"/end", b.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ended arenadto.EndGameResponse
	decodeInto(t, w, &ended)
	require.Equal(t, a.addr, ended.Winner)

	w = h.do(t, http.MethodPost, "/v1/games/"+gameID+"/distribute", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dist arenadto.DistributeResponse
	decodeInto(t, w, &dist)
	det, err := h.fake.LookupTransfer(context.Background(), dist.Signature)
	require.NoError(t, err)
	require.Equal(t, a.addr, det.Recipient)
	require.Equal(t, testPrize, det.Lamports)

	// Second distribute maps to 409 with a stable code.
	w = h.do(t, http.MethodPost, "/v1/games/"+gameID+"/distribute", b.token, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	var derr arenadto.ErrorResponse
	decodeInto(t, w, &derr)
	require.Equal(t, "AlreadyDistributed", derr.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t)
	a := h.login(t)

	w := h.do(t, http.MethodGet, "/v1/games/nope", a.token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodPost, "/v1/lobbies/join", a.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var join arenadto.JoinLobbyResponse
	decodeInto(t, w, &join)

	// Wrong amount on the ledger maps to 422 with the mismatch code.
	h.fake.SetTransfer(&ledger.TransferDetail{
		Signature:      "short-sig",
		Sender:         a.addr,
		Recipient:      testEscrow,
		Lamports:       testEntryFee - 1,
		BlockTime:      time.Now().UTC(),
		Confirmed:      true,
		NativeTransfer: true,
	})
	w = h.do(t, http.MethodPost, "/v1/lobbies/"+join.LobbyID+"/transactions", a.token, arenadto.RecordTransactionRequest{Signature: "short-sig"})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, http.MethodPost, "/v1/lobbies/"+join.LobbyID+"/verify", a.token, arenadto.VerifyPaymentRequest{Signature: "short-sig"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var derr arenadto.ErrorResponse
	decodeInto(t, w, &derr)
	require.Equal(t, "AmountMismatch", derr.Code)
	require.False(t, derr.Retryable)
}

func TestScoreCannotImpersonate(t *testing.T) {
	h := newHarness(t)
	a := h.login(t)

	w := h.do(t, http.MethodPost, "/v1/games/g1/score", a.token, arenadto.ScoreRequest{PlayerID: "someone-else", Score: 99})
	require.Equal(t, http.StatusForbidden, w.Code)
}
