package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/solpond/arena/internal/obslog"
)

var (
	// ErrNotFound is returned for point reads and updates of absent records.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when an optimistic update keeps losing the
	// WATCH race past the retry bound.
	ErrConflict = errors.New("store: concurrent update conflict")
	// ErrExists is returned when a create hits an already claimed key.
	ErrExists = errors.New("store: record already exists")
)

const (
	casRetries = 8

	// Backstop TTL on lobby rows; the janitor owns real cleanup. Game rows
	// never expire: the prizeDistributed flag is the payout idempotency
	// gate and must outlive any retry horizon.
	lobbyTTL = 24 * time.Hour
)

// Store is the Redis adapter for all shared state. It is the only
// synchronization point between handlers: every mutation goes through a
// WATCH-guarded read-mutate-write so each transition decision is made
// against freshly read state.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// NewFromURL connects a client from a redis:// URL and verifies the
// connection with a ping.
func NewFromURL(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) keyLobby(id string) string       { return "lobby:" + id }
func (s *Store) keyGame(id string) string        { return "game:" + id }
func (s *Store) keyOpen() string                 { return "lobby:index:open" }
func (s *Store) keyAll() string                  { return "lobby:index:all" }
func (s *Store) keyPromotion(lobbyID string) string { return "game:bylobby:" + lobbyID }
func (s *Store) chanLobby(id string) string      { return "events:lobby:" + id }
func (s *Store) chanGame(id string) string       { return "events:game:" + id }

// --- lobbies ---

// CreateLobby claims the lobby key with SETNX and registers it in the
// open/all indexes.
func (s *Store) CreateLobby(ctx context.Context, l *Lobby) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.keyLobby(l.ID), raw, lobbyTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, s.keyAll(), l.ID)
	if l.Status == LobbyWaiting {
		pipe.SAdd(ctx, s.keyOpen(), l.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	s.publishLobby(ctx, &LobbyEvent{Lobby: l})
	return nil
}

// LoadLobby point-reads a lobby; (nil, ErrNotFound) when absent.
func (s *Store) LoadLobby(ctx context.Context, id string) (*Lobby, error) {
	raw, err := s.rdb.Get(ctx, s.keyLobby(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var l Lobby
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateLobby runs mutate against a freshly read lobby under WATCH and
// commits the result atomically. An error from mutate aborts the update
// and is returned verbatim, so callers can use domain errors to reject a
// transition. Lost races are retried with re-read state.
func (s *Store) UpdateLobby(ctx context.Context, id string, mutate func(*Lobby) error) (*Lobby, error) {
	key := s.keyLobby(id)
	for attempt := 0; attempt < casRetries; attempt++ {
		var updated *Lobby
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			var cur Lobby
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if err := mutate(&cur); err != nil {
				return err
			}
			newRaw, err := json.Marshal(&cur)
			if err != nil {
				return err
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, key, newRaw, lobbyTTL)
			if cur.Status == LobbyWaiting && len(cur.Players) < 2 {
				pipe.SAdd(ctx, s.keyOpen(), cur.ID)
			} else {
				pipe.SRem(ctx, s.keyOpen(), cur.ID)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			updated = &cur
			return nil
		}, key)
		if err == nil {
			s.publishLobby(ctx, &LobbyEvent{Lobby: updated})
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

// DeleteLobby removes the lobby row and its index entries and publishes a
// tombstone to subscribers.
func (s *Store) DeleteLobby(ctx context.Context, id string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, s.keyLobby(id))
	pipe.SRem(ctx, s.keyOpen(), id)
	pipe.SRem(ctx, s.keyAll(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	ev := &LobbyEvent{Deleted: true, Lobby: &Lobby{ID: id}}
	if raw, err := json.Marshal(ev); err == nil {
		if err := s.rdb.Publish(ctx, s.chanLobby(id), raw).Err(); err != nil {
			obslog.L().Warn("store_publish_error", zap.String("lobby_id", id), zap.Error(err))
		}
	}
	return nil
}

// OpenLobbyIDs returns ids of joinable lobbies.
func (s *Store) OpenLobbyIDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyOpen()).Result()
}

// AllLobbyIDs returns every live lobby id; used by the janitor sweep.
func (s *Store) AllLobbyIDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyAll()).Result()
}

func (s *Store) publishLobby(ctx context.Context, ev *LobbyEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, s.chanLobby(ev.Lobby.ID), raw).Err(); err != nil {
		obslog.L().Warn("store_publish_error", zap.String("lobby_id", ev.Lobby.ID), zap.Error(err))
	}
}

// --- games ---

// ClaimPromotion atomically binds a lobby to the game id that its
// promotion created. The first caller wins; later callers get the winner's
// game id back. This is what makes startMultiplayerGame idempotent under
// concurrent calls.
func (s *Store) ClaimPromotion(ctx context.Context, lobbyID, gameID string) (string, bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keyPromotion(lobbyID), gameID, 0).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return gameID, true, nil
	}
	winner, err := s.rdb.Get(ctx, s.keyPromotion(lobbyID)).Result()
	if err != nil {
		return "", false, err
	}
	return winner, false, nil
}

// PromotedGameID looks up the game id a lobby was promoted into, if the
// promotion slot was ever claimed.
func (s *Store) PromotedGameID(ctx context.Context, lobbyID string) (string, error) {
	id, err := s.rdb.Get(ctx, s.keyPromotion(lobbyID)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) CreateGame(ctx context.Context, g *Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.keyGame(g.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	s.publishGame(ctx, &GameEvent{Game: g})
	return nil
}

func (s *Store) LoadGame(ctx context.Context, id string) (*Game, error) {
	raw, err := s.rdb.Get(ctx, s.keyGame(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// UpdateGame is the game-side CAS primitive; see UpdateLobby.
func (s *Store) UpdateGame(ctx context.Context, id string, mutate func(*Game) error) (*Game, error) {
	key := s.keyGame(id)
	for attempt := 0; attempt < casRetries; attempt++ {
		var updated *Game
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			var cur Game
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
			if err := mutate(&cur); err != nil {
				return err
			}
			newRaw, err := json.Marshal(&cur)
			if err != nil {
				return err
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, key, newRaw, 0)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			updated = &cur
			return nil
		}, key)
		if err == nil {
			s.publishGame(ctx, &GameEvent{Game: updated})
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

func (s *Store) publishGame(ctx context.Context, ev *GameEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, s.chanGame(ev.Game.ID), raw).Err(); err != nil {
		obslog.L().Warn("store_publish_error", zap.String("game_id", ev.Game.ID), zap.Error(err))
	}
}

// --- auth nonces ---

// PutNonce stores a single-use login nonce for a wallet.
func (s *Store) PutNonce(ctx context.Context, wallet, nonce string, ttl time.Duration) error {
	return s.rdb.Set(ctx, "auth:nonce:"+wallet, nonce, ttl).Err()
}

// TakeNonce fetches and deletes the wallet's nonce. Empty string when no
// challenge is outstanding.
func (s *Store) TakeNonce(ctx context.Context, wallet string) (string, error) {
	val, err := s.rdb.GetDel(ctx, "auth:nonce:"+wallet).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// AppendAlert pushes an operational alert onto the append-only monitoring
// log. Pure observability; nothing reads it on the hot path.
func (s *Store) AppendAlert(ctx context.Context, message string) error {
	return s.rdb.RPush(ctx, "escrow:alerts", message).Err()
}
