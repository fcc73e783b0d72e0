package lobby

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/solpond/arena/internal/obslog"
	"github.com/solpond/arena/internal/store"
)

// Sweeper removes lobbies that sat unpromoted past maxAge. Lobbies holding
// live funding are never swept; refunds must stay reachable until the
// money has somewhere to go.
type Sweeper struct {
	st       *store.Store
	interval time.Duration
	maxAge   time.Duration
}

func NewSweeper(st *store.Store, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{st: st, interval: interval, maxAge: maxAge}
}

// Run sweeps on the configured interval until ctx is cancelled. Per-lobby
// failures are logged and skipped; the next tick retries everything.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	obslog.L().Info("lobby_sweeper_started",
		zap.Duration("interval", s.interval),
		zap.Duration("max_age", s.maxAge))

	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("lobby_sweeper_stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every live lobby.
func (s *Sweeper) Sweep(ctx context.Context) {
	ids, err := s.st.AllLobbyIDs(ctx)
	if err != nil {
		obslog.L().Warn("lobby_sweep_index_error", zap.Error(err))
		return
	}
	cutoff := time.Now().UTC().Add(-s.maxAge)
	removed := 0
	for _, id := range ids {
		l, err := s.st.LoadLobby(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			// Row expired or was deleted after the index read; drop the
			// dangling index entry.
			if derr := s.st.DeleteLobby(ctx, id); derr != nil {
				obslog.L().Warn("lobby_sweep_deindex_error", zap.String("lobby_id", id), zap.Error(derr))
			}
			continue
		}
		if err != nil {
			obslog.L().Warn("lobby_sweep_load_error", zap.String("lobby_id", id), zap.Error(err))
			continue
		}
		if !l.CreatedAt.Before(cutoff) {
			continue
		}
		if l.HasLiveFunding() {
			continue
		}
		if err := s.st.DeleteLobby(ctx, id); err != nil {
			obslog.L().Warn("lobby_sweep_delete_error", zap.String("lobby_id", id), zap.Error(err))
			continue
		}
		removed++
		obslog.L().Info("lobby_swept",
			zap.String("lobby_id", id),
			zap.Time("created_at", l.CreatedAt))
	}
	if removed > 0 {
		obslog.L().Info("lobby_sweep_done", zap.Int("removed", removed))
	}
}
