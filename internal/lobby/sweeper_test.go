package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/solpond/arena/internal/store"
)

func seedLobby(t *testing.T, st *store.Store, id string, age time.Duration, funded bool) {
	t.Helper()
	l := &store.Lobby{
		ID:        id,
		Status:    store.LobbyWaiting,
		CreatedAt: time.Now().UTC().Add(-age),
		Players:   []store.Player{{ID: "wallet-" + id, JoinedAt: time.Now().UTC(), PaymentStatus: store.PaymentPending}},
	}
	if funded {
		l.Transactions = map[string]*store.Transaction{
			"sig-" + id: {Signature: "sig-" + id, WalletAddress: "wallet-" + id, Status: store.TxPending, RecordedAt: time.Now()},
		}
	}
	if err := st.CreateLobby(context.Background(), l); err != nil {
		t.Fatalf("CreateLobby %s: %v", id, err)
	}
}

func TestSweepRemovesStaleUnfunded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedLobby(t, st, "stale", 10*time.Minute, false)
	seedLobby(t, st, "fresh", time.Minute, false)
	seedLobby(t, st, "funded", 10*time.Minute, true)

	sw := NewSweeper(st, time.Minute, 5*time.Minute)
	sw.Sweep(ctx)

	if _, err := st.LoadLobby(ctx, "stale"); err != store.ErrNotFound {
		t.Fatalf("stale lobby survived sweep: err=%v", err)
	}
	if _, err := st.LoadLobby(ctx, "fresh"); err != nil {
		t.Fatalf("fresh lobby swept: %v", err)
	}
	if _, err := st.LoadLobby(ctx, "funded"); err != nil {
		t.Fatalf("funded lobby swept: %v", err)
	}
}

func TestSweepCleansDanglingIndexEntries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedLobby(t, st, "gone", 10*time.Minute, false)
	// Simulate TTL expiry of the row with the index entry left behind.
	if err := st.DeleteLobby(ctx, "gone"); err != nil {
		t.Fatalf("DeleteLobby: %v", err)
	}
	seedLobby(t, st, "gone2", 10*time.Minute, false)

	sw := NewSweeper(st, time.Minute, 5*time.Minute)
	sw.Sweep(ctx)

	ids, err := st.AllLobbyIDs(ctx)
	if err != nil {
		t.Fatalf("AllLobbyIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("index not cleaned: %v", ids)
	}
}
