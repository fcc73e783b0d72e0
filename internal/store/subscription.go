package store

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// LobbySubscription streams lobby snapshots published on every committed
// write. Cancel detaches; the channel is closed and nothing is delivered
// afterwards.
type LobbySubscription struct {
	C <-chan LobbyEvent

	ps   *redis.PubSub
	done chan struct{}
}

func (s *LobbySubscription) Cancel() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	_ = s.ps.Close()
}

// SubscribeLobby attaches a snapshot stream for one lobby id. Subscribing
// to an id that does not exist yet is allowed; events start flowing once
// the lobby is written.
func (s *Store) SubscribeLobby(ctx context.Context, id string) *LobbySubscription {
	ps := s.rdb.Subscribe(ctx, s.chanLobby(id))
	out := make(chan LobbyEvent)
	sub := &LobbySubscription{C: out, ps: ps, done: make(chan struct{})}
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev LobbyEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}()
	return sub
}

type GameSubscription struct {
	C <-chan GameEvent

	ps   *redis.PubSub
	done chan struct{}
}

func (s *GameSubscription) Cancel() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	_ = s.ps.Close()
}

// SubscribeGame attaches a snapshot stream for one game id.
func (s *Store) SubscribeGame(ctx context.Context, id string) *GameSubscription {
	ps := s.rdb.Subscribe(ctx, s.chanGame(id))
	out := make(chan GameEvent)
	sub := &GameSubscription{C: out, ps: ps, done: make(chan struct{})}
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev GameEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			case out <- ev:
			}
		}
	}()
	return sub
}
