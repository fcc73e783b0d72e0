package settlement

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/solpond/arena/internal/store"
)

// Repository persists settlement bookkeeping to Postgres. It is an audit
// trail, not a source of truth: every method is nil-safe and callers treat
// failures as log-and-continue.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveGameResult upserts the final state of a game, including settlement
// fields once the prize has moved. Safe to call more than once per game.
func (r *Repository) SaveGameResult(ctx context.Context, g *store.Game) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}

	var playerA, playerB string
	var scoreA, scoreB int
	if len(g.Players) > 0 {
		playerA = g.Players[0].ID
		scoreA = g.Scores[playerA]
	}
	if len(g.Players) > 1 {
		playerB = g.Players[1].ID
		scoreB = g.Scores[playerB]
	}
	var endedAt *time.Time
	var durationMs int64
	if g.EndedAt != nil {
		endedAt = g.EndedAt
		durationMs = g.EndedAt.Sub(g.CreatedAt).Milliseconds()
		if durationMs < 0 {
			durationMs = 0
		}
	}

	q := `INSERT INTO arena_games (
	    game_id, lobby_id, player_a, player_b, score_a, score_b,
	    winner, entry_fee_lamports, prize_pool_lamports,
	    prize_distributed, prize_signature,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	  ) ON CONFLICT (game_id) DO UPDATE SET
	    score_a=EXCLUDED.score_a,
	    score_b=EXCLUDED.score_b,
	    winner=EXCLUDED.winner,
	    prize_distributed=EXCLUDED.prize_distributed,
	    prize_signature=EXCLUDED.prize_signature,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.ID, g.LobbyID,
		playerA, playerB, scoreA, scoreB,
		g.Winner, int64(g.EntryFeeLamports), int64(g.PrizePoolLamports),
		g.PrizeDistributed, g.PrizeTransaction,
		g.CreatedAt, endedAt, durationMs,
	)
	return err
}

// SaveRefund upserts one refunded entry-fee transaction.
func (r *Repository) SaveRefund(ctx context.Context, lobbyID string, tx *store.Transaction) error {
	if r == nil || r.db == nil || tx == nil {
		return nil
	}
	q := `INSERT INTO arena_refunds (
	    entry_signature, lobby_id, wallet_address,
	    refund_signature, submitted_at, refunded_at
	  ) VALUES ($1,$2,$3,$4,$5,$6)
	  ON CONFLICT (entry_signature) DO UPDATE SET
	    refund_signature=EXCLUDED.refund_signature,
	    submitted_at=EXCLUDED.submitted_at,
	    refunded_at=EXCLUDED.refunded_at`
	_, err := r.db.ExecContext(ctx, q,
		tx.Signature, lobbyID, tx.WalletAddress,
		tx.RefundSignature, tx.RefundSubmittedAt, tx.RefundedAt,
	)
	return err
}

// SaveAlert appends one operational alert row.
func (r *Repository) SaveAlert(ctx context.Context, kind, message string, balanceLamports uint64) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO arena_alerts (kind, message, balance_lamports, created_at)
	  VALUES ($1,$2,$3,$4)`
	_, err := r.db.ExecContext(ctx, q, kind, message, int64(balanceLamports), time.Now().UTC())
	return err
}
