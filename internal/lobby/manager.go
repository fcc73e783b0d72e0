package lobby

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solpond/arena/internal/obslog"
	"github.com/solpond/arena/internal/store"
	"github.com/solpond/arena/pkg/arenadto"
)

// errNotJoinable aborts a join CAS when the candidate lobby filled or
// changed status between the index read and the guarded re-read.
var errNotJoinable = errors.New("lobby: not joinable")

// Manager owns lobby membership. It keeps no state of its own; every
// decision is made inside a store CAS against freshly read lobby state.
type Manager struct {
	st *store.Store
}

func NewManager(st *store.Store) *Manager {
	return &Manager{st: st}
}

// Join places the wallet into an open lobby, preferring the most recently
// sorted id so concurrent joiners tend to pile onto the same lobby and
// fill it. When no open lobby will take the player a fresh one is created.
// A wallet already seated in any live lobby, open or not, gets that lobby
// back instead of a new one: one seat per wallet.
func (m *Manager) Join(ctx context.Context, wallet string) (*store.Lobby, error) {
	all, err := m.st.AllLobbyIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range all {
		l, err := m.st.LoadLobby(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if l.Member(wallet) != nil {
			obslog.L().Info("lobby_rejoined",
				zap.String("lobby_id", l.ID),
				zap.String("wallet", wallet))
			return l, nil
		}
	}

	ids, err := m.st.OpenLobbyIDs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	for i := len(ids) - 1; i >= 0; i-- {
		joined, err := m.st.UpdateLobby(ctx, ids[i], func(l *store.Lobby) error {
			if l.Member(wallet) != nil {
				return nil
			}
			if l.Status != store.LobbyWaiting || len(l.Players) >= 2 {
				return errNotJoinable
			}
			l.Players = append(l.Players, store.Player{
				ID:            wallet,
				JoinedAt:      time.Now().UTC(),
				PaymentStatus: store.PaymentPending,
			})
			if len(l.Players) == 2 {
				l.Status = store.LobbyMatched
			}
			return nil
		})
		if errors.Is(err, errNotJoinable) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		obslog.L().Info("lobby_joined",
			zap.String("lobby_id", joined.ID),
			zap.String("wallet", wallet),
			zap.String("status", string(joined.Status)))
		return joined, nil
	}

	l := &store.Lobby{
		ID:        uuid.NewString(),
		Status:    store.LobbyWaiting,
		CreatedAt: time.Now().UTC(),
		Players: []store.Player{{
			ID:            wallet,
			JoinedAt:      time.Now().UTC(),
			PaymentStatus: store.PaymentPending,
		}},
	}
	if err := m.st.CreateLobby(ctx, l); err != nil {
		return nil, err
	}
	obslog.L().Info("lobby_created",
		zap.String("lobby_id", l.ID),
		zap.String("wallet", wallet))
	return l, nil
}

// Leave removes the wallet from the lobby. A wallet with a live entry
// payment cannot leave: the seat is what keeps its refund reachable, and
// walking away would let the lobby refill and promote on a fee the payer
// no longer stands behind. An emptied lobby with no live funding is
// deleted outright.
func (m *Manager) Leave(ctx context.Context, wallet, lobbyID string) error {
	updated, err := m.st.UpdateLobby(ctx, lobbyID, func(l *store.Lobby) error {
		if l.Member(wallet) == nil {
			return arenadto.ErrInvalidLobby
		}
		if l.Status == store.LobbyInGame {
			return arenadto.ErrInvalidLobby
		}
		if tx := l.ActiveTransactionFor(wallet); tx != nil {
			return arenadto.ErrFundsCommitted
		}
		kept := l.Players[:0]
		for _, p := range l.Players {
			if p.ID != wallet {
				kept = append(kept, p)
			}
		}
		l.Players = kept
		if len(l.Players) < 2 && l.Status != store.LobbyWaiting {
			l.Status = store.LobbyWaiting
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return arenadto.ErrLobbyNotFound
	}
	if err != nil {
		return err
	}

	if len(updated.Players) == 0 && !updated.HasLiveFunding() {
		if err := m.st.DeleteLobby(ctx, lobbyID); err != nil {
			return err
		}
		obslog.L().Info("lobby_deleted_empty", zap.String("lobby_id", lobbyID))
		return nil
	}
	obslog.L().Info("lobby_left",
		zap.String("lobby_id", lobbyID),
		zap.String("wallet", wallet))
	return nil
}

// Get point-reads a lobby for the API layer.
func (m *Manager) Get(ctx context.Context, lobbyID string) (*store.Lobby, error) {
	l, err := m.st.LoadLobby(ctx, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, arenadto.ErrLobbyNotFound
	}
	return l, err
}
