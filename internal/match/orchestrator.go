package match

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solpond/arena/internal/obslog"
	"github.com/solpond/arena/internal/store"
	"github.com/solpond/arena/pkg/arenadto"
)

// AuditSink receives completed-game records for offline bookkeeping.
// Failures are logged and swallowed; settlement never depends on it.
type AuditSink interface {
	SaveGameResult(ctx context.Context, g *store.Game) error
}

// Orchestrator runs the game lifecycle from lobby promotion to scored
// completion. Prize movement lives in the settlement package.
type Orchestrator struct {
	st       *store.Store
	audit    AuditSink
	duration time.Duration
	entryFee uint64
	prize    uint64
}

func NewOrchestrator(st *store.Store, audit AuditSink, duration time.Duration, entryFee, prize uint64) *Orchestrator {
	return &Orchestrator{st: st, audit: audit, duration: duration, entryFee: entryFee, prize: prize}
}

// Start promotes a ready lobby into a game. The eligibility checks and
// the flip to in_game happen in one lobby CAS, so a leave or refund
// racing the promotion either lands before the flip (and fails the
// checks) or is rejected by the in_game status. Every caller then
// converges on the id bound by the promotion marker and creates the game
// from its own lobby snapshot if it is not there yet, so a crash between
// binding and creation is resumed by the next caller rather than wedging
// the lobby. The lobby row is removed once the game exists.
func (o *Orchestrator) Start(ctx context.Context, caller, lobbyID string) (*store.Game, error) {
	l, err := o.st.UpdateLobby(ctx, lobbyID, func(cur *store.Lobby) error {
		if cur.Member(caller) == nil {
			return arenadto.ErrInvalidLobby
		}
		if cur.Status == store.LobbyInGame {
			// Promotion already claimed; resolve the bound game below.
			return nil
		}
		if cur.Status != store.LobbyReady || !cur.AllPaid() {
			return arenadto.ErrIncompletePlayers
		}
		// A paid flag is only trustworthy while the confirmed transaction
		// behind it is still confirmed; a refunded fee must not fund a game.
		if confirmedEntries(cur) == nil {
			return arenadto.ErrIncompletePlayers
		}
		cur.Status = store.LobbyInGame
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		// The lobby may already be promoted; the claim marker outlives it.
		if g, cerr := o.gameForLobby(ctx, lobbyID, caller); cerr == nil {
			return g, nil
		}
		return nil, arenadto.ErrLobbyNotFound
	}
	if err != nil {
		return nil, err
	}

	gameID, _, err := o.st.ClaimPromotion(ctx, lobbyID, uuid.NewString())
	if err != nil {
		return nil, err
	}

	g, err := o.st.LoadGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		g = o.buildGame(gameID, l)
		if cerr := o.st.CreateGame(ctx, g); cerr != nil {
			if !errors.Is(cerr, store.ErrExists) {
				return nil, cerr
			}
			if g, err = o.st.LoadGame(ctx, gameID); err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}
	if err := o.st.DeleteLobby(ctx, lobbyID); err != nil {
		obslog.L().Warn("match_lobby_cleanup_error",
			zap.String("lobby_id", lobbyID), zap.Error(err))
	}
	obslog.L().Info("match_started",
		zap.String("game_id", g.ID),
		zap.String("lobby_id", lobbyID),
		zap.Uint64("prize_pool", g.PrizePoolLamports))
	return g, nil
}

func (o *Orchestrator) buildGame(gameID string, l *store.Lobby) *store.Game {
	g := &store.Game{
		ID:                gameID,
		LobbyID:           l.ID,
		Players:           append([]store.Player(nil), l.Players...),
		Scores:            map[string]int{},
		Status:            store.GameActive,
		TimeRemaining:     int(o.duration.Seconds()),
		EntryFeeLamports:  o.entryFee,
		PrizePoolLamports: o.prize,
		EntrySignatures:   confirmedEntries(l),
		CreatedAt:         time.Now().UTC(),
	}
	for _, p := range g.Players {
		g.Scores[p.ID] = 0
	}
	return g
}

// confirmedEntries maps each player's wallet to its confirmed entry
// signature. Nil when any player lacks one.
func confirmedEntries(l *store.Lobby) map[string]string {
	sigs := make(map[string]string, len(l.Players))
	for sig, tx := range l.Transactions {
		if tx.Status == store.TxConfirmed {
			sigs[tx.WalletAddress] = sig
		}
	}
	for i := range l.Players {
		if _, ok := sigs[l.Players[i].ID]; !ok {
			return nil
		}
	}
	return sigs
}

// gameForLobby resolves an already claimed promotion for a caller whose
// lobby row is gone.
func (o *Orchestrator) gameForLobby(ctx context.Context, lobbyID, caller string) (*store.Game, error) {
	gameID, err := o.st.PromotedGameID(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	g, err := o.st.LoadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !g.HasPlayer(caller) {
		return nil, arenadto.ErrPermissionDenied
	}
	return g, nil
}

// UpdateScore records a player's own score while the game is active.
// Last write wins per player.
func (o *Orchestrator) UpdateScore(ctx context.Context, caller, gameID string, score int) (*store.Game, error) {
	updated, err := o.st.UpdateGame(ctx, gameID, func(g *store.Game) error {
		if !g.HasPlayer(caller) {
			return arenadto.ErrPermissionDenied
		}
		if g.Status != store.GameActive {
			return arenadto.ErrAlreadyCompleted
		}
		g.Scores[caller] = score
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, arenadto.ErrGameNotFound
	}
	return updated, err
}

// End completes the game and decides the winner: strictly higher score
// wins, a tie goes to the lexicographically lower wallet address so both
// players resolve the same winner without coordination.
func (o *Orchestrator) End(ctx context.Context, caller, gameID string) (*store.Game, error) {
	updated, err := o.st.UpdateGame(ctx, gameID, func(g *store.Game) error {
		if !g.HasPlayer(caller) {
			return arenadto.ErrPermissionDenied
		}
		if g.Status == store.GameCompleted {
			return arenadto.ErrAlreadyCompleted
		}
		g.Status = store.GameCompleted
		g.TimeRemaining = 0
		g.Winner = decideWinner(g)
		now := time.Now().UTC()
		g.EndedAt = &now
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, arenadto.ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}

	if o.audit != nil {
		if aerr := o.audit.SaveGameResult(ctx, updated); aerr != nil {
			obslog.L().Warn("match_audit_error",
				zap.String("game_id", gameID), zap.Error(aerr))
		}
	}
	obslog.L().Info("match_ended",
		zap.String("game_id", gameID),
		zap.String("winner", updated.Winner),
		zap.Any("scores", updated.Scores))
	return updated, nil
}

// Get point-reads a game.
func (o *Orchestrator) Get(ctx context.Context, gameID string) (*store.Game, error) {
	g, err := o.st.LoadGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, arenadto.ErrGameNotFound
	}
	return g, err
}

func decideWinner(g *store.Game) string {
	if len(g.Players) == 0 {
		return ""
	}
	winner := g.Players[0].ID
	for _, p := range g.Players[1:] {
		ps, ws := g.Scores[p.ID], g.Scores[winner]
		if ps > ws || (ps == ws && p.ID < winner) {
			winner = p.ID
		}
	}
	return winner
}
