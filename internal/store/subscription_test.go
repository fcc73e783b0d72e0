package store

import (
	"context"
	"testing"
	"time"
)

func waitLobbyEvent(t *testing.T, c <-chan LobbyEvent) LobbyEvent {
	t.Helper()
	select {
	case ev, ok := <-c:
		if !ok {
			t.Fatalf("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return LobbyEvent{}
	}
}

func TestSubscribeLobbyDeliversWritesAndTombstone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.CreateLobby(ctx, newLobby("l1")); err != nil {
		t.Fatalf("CreateLobby: %v", err)
	}

	sub := st.SubscribeLobby(ctx, "l1")
	defer sub.Cancel()
	time.Sleep(50 * time.Millisecond)

	if _, err := st.UpdateLobby(ctx, "l1", func(l *Lobby) error {
		l.Status = LobbyMatched
		return nil
	}); err != nil {
		t.Fatalf("UpdateLobby: %v", err)
	}
	ev := waitLobbyEvent(t, sub.C)
	if ev.Deleted || ev.Lobby == nil || ev.Lobby.Status != LobbyMatched {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if err := st.DeleteLobby(ctx, "l1"); err != nil {
		t.Fatalf("DeleteLobby: %v", err)
	}
	ev = waitLobbyEvent(t, sub.C)
	if !ev.Deleted {
		t.Fatalf("expected tombstone, got %+v", ev)
	}
}

func TestSubscriptionCancelStopsDelivery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.CreateLobby(ctx, newLobby("l1")); err != nil {
		t.Fatalf("CreateLobby: %v", err)
	}

	sub := st.SubscribeLobby(ctx, "l1")
	time.Sleep(50 * time.Millisecond)
	sub.Cancel()
	sub.Cancel() // repeat cancel is a no-op

	if _, err := st.UpdateLobby(ctx, "l1", func(l *Lobby) error {
		l.Status = LobbyMatched
		return nil
	}); err != nil {
		t.Fatalf("UpdateLobby: %v", err)
	}

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return // channel drained and closed
			}
		case <-deadline:
			t.Fatalf("channel not closed after Cancel")
		}
	}
}
