package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
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
	return New(rdb)
}

func newLobby(id string) *Lobby {
	return &Lobby{
		ID:        id,
		Status:    LobbyWaiting,
		CreatedAt: time.Now().UTC(),
		Players:   []Player{{ID: "walletA", JoinedAt: time.Now().UTC(), PaymentStatus: PaymentPending}},
	}
}

func TestCreateLobbyClaimsKey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateLobby(ctx, newLobby("l1")); err != nil {
		t.Fatalf("CreateLobby: %v", err)
	}
	if err := st.CreateLobby(ctx, newLobby("l1")); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate create: %v", err)
	}

	open, err := st.OpenLobbyIDs(ctx)
	if err != nil || len(open) != 1 || open[0] != "l1" {
		t.Fatalf("open index: %v %v", open, err)
	}
}

func TestUpdateLobbyAbortsOnMutateError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.CreateLobby(ctx, newLobby("l1")); err != nil {
		t.Fatalf("CreateLobby: %v", err)
	}

	boom := errors.New("rejected")
	if _, err := st.UpdateLobby(ctx, "l1", func(l *Lobby) error {
		l.Status = LobbyMatched
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("mutate error not surfaced: %v", err)
	}

	l, err := st.LoadLobby(ctx, "l1")
	if err != nil {
		t.Fatalf("LoadLobby: %v", err)
	}
	if l.Status != LobbyWaiting {
		t.Fatalf("aborted mutate was committed: %s", l.Status)
	}
}

func TestUpdateLobbyConcurrentIncrements(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	l := newLobby("l1")
	l.Transactions = map[string]*Transaction{}
	if err := st.CreateLobby(ctx, l); err != nil {
		t.Fatalf("CreateLobby: %v", err)
	}

	// Each goroutine adds its own key; with CAS none may be lost.
	sigs := []string{"s1", "s2", "s3", "s4", "s5"}
	var wg sync.WaitGroup
	for _, sig := range sigs {
		wg.Add(1)
		go func(sig string) {
			defer wg.Done()
			_, err := st.UpdateLobby(ctx, "l1", func(cur *Lobby) error {
				if cur.Transactions == nil {
					cur.Transactions = map[string]*Transaction{}
				}
				cur.Transactions[sig] = &Transaction{Signature: sig, Status: TxPending}
				return nil
			})
			if err != nil {
				t.Errorf("UpdateLobby %s: %v", sig, err)
			}
		}(sig)
	}
	wg.Wait()

	got, _ := st.LoadLobby(ctx, "l1")
	if len(got.Transactions) != len(sigs) {
		t.Fatalf("lost updates: %d of %d", len(got.Transactions), len(sigs))
	}
}

func TestOpenIndexFollowsStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.CreateLobby(ctx, newLobby("l1")); err != nil {
		t.Fatalf("CreateLobby: %v", err)
	}

	if _, err := st.UpdateLobby(ctx, "l1", func(l *Lobby) error {
		l.Players = append(l.Players, Player{ID: "walletB"})
		l.Status = LobbyMatched
		return nil
	}); err != nil {
		t.Fatalf("UpdateLobby: %v", err)
	}
	open, _ := st.OpenLobbyIDs(ctx)
	if len(open) != 0 {
		t.Fatalf("matched lobby still open: %v", open)
	}

	if _, err := st.UpdateLobby(ctx, "l1", func(l *Lobby) error {
		l.Players = l.Players[:1]
		l.Status = LobbyWaiting
		return nil
	}); err != nil {
		t.Fatalf("UpdateLobby: %v", err)
	}
	open, _ = st.OpenLobbyIDs(ctx)
	if len(open) != 1 {
		t.Fatalf("reopened lobby not indexed: %v", open)
	}
}

func TestClaimPromotionFirstWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	got, claimed, err := st.ClaimPromotion(ctx, "l1", "g1")
	if err != nil || !claimed || got != "g1" {
		t.Fatalf("first claim: %s %v %v", got, claimed, err)
	}
	got, claimed, err = st.ClaimPromotion(ctx, "l1", "g2")
	if err != nil || claimed || got != "g1" {
		t.Fatalf("second claim: %s %v %v", got, claimed, err)
	}
	id, err := st.PromotedGameID(ctx, "l1")
	if err != nil || id != "g1" {
		t.Fatalf("PromotedGameID: %s %v", id, err)
	}
	if _, err := st.PromotedGameID(ctx, "never"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unclaimed lobby: %v", err)
	}
}

func TestNonceTakeIsDestructive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.PutNonce(ctx, "walletA", "n1", time.Minute); err != nil {
		t.Fatalf("PutNonce: %v", err)
	}
	got, err := st.TakeNonce(ctx, "walletA")
	if err != nil || got != "n1" {
		t.Fatalf("TakeNonce: %q %v", got, err)
	}
	got, err = st.TakeNonce(ctx, "walletA")
	if err != nil || got != "" {
		t.Fatalf("second TakeNonce: %q %v", got, err)
	}
}
