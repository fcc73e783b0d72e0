package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solpond/arena/internal/ledger"
	"github.com/solpond/arena/internal/obslog"
	"github.com/solpond/arena/internal/store"
	"github.com/solpond/arena/pkg/arenadto"
)

// Service moves money out of escrow: winner payouts and entry-fee
// refunds. Every transfer is two-phase. The signed transaction is
// persisted as an in-flight marker before it touches the network, so a
// crash between broadcast and confirmation is resumable by re-sending the
// identical bytes; the ledger dedupes on the signature, so a resume can
// never pay twice. The distributed/refunded flag flips only after a
// confirmation has been observed.
type Service struct {
	st             *store.Store
	lg             ledger.Client
	audit          *Repository
	entryFee       uint64
	refundWindow   time.Duration
	confirmTimeout time.Duration
}

func NewService(st *store.Store, lg ledger.Client, audit *Repository, entryFee uint64, refundWindow, confirmTimeout time.Duration) *Service {
	return &Service{
		st:             st,
		lg:             lg,
		audit:          audit,
		entryFee:       entryFee,
		refundWindow:   refundWindow,
		confirmTimeout: confirmTimeout,
	}
}

// DistributePrize sends the prize pool to the game's winner, exactly once.
// The in-flight marker on the game record is the mutual exclusion: only
// the caller that CAS-installs its prepared transaction broadcasts a new
// one, every later caller re-broadcasts the same bytes until confirmation
// lands. Any game participant may trigger it.
func (s *Service) DistributePrize(ctx context.Context, caller, gameID string) (*store.Game, string, error) {
	g, err := s.st.LoadGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", arenadto.ErrGameNotFound
	}
	if err != nil {
		return nil, "", err
	}
	if !g.HasPlayer(caller) {
		return nil, "", arenadto.ErrPermissionDenied
	}
	if g.Status != store.GameCompleted || g.Winner == "" {
		return nil, "", arenadto.ErrGameNotCompleted
	}
	if g.PrizeDistributed {
		return nil, "", arenadto.ErrAlreadyDistributed
	}

	payout := g.Payout
	if payout == nil {
		prepared, err := s.lg.PrepareTransfer(ctx, g.Winner, g.PrizePoolLamports)
		if err != nil {
			return nil, "", fmt.Errorf("prepare prize transfer: %w", err)
		}
		claimed := false
		updated, err := s.st.UpdateGame(ctx, gameID, func(cur *store.Game) error {
			if cur.PrizeDistributed {
				return arenadto.ErrAlreadyDistributed
			}
			if cur.Status != store.GameCompleted {
				return arenadto.ErrGameNotCompleted
			}
			if cur.Payout != nil {
				// Someone else installed theirs first. Our prepared bytes
				// were never broadcast, so dropping them is free.
				claimed = false
				return nil
			}
			cur.Payout = &store.Payout{
				Signature:   prepared.Signature,
				Raw:         prepared.Raw,
				SubmittedAt: time.Now().UTC(),
			}
			claimed = true
			return nil
		})
		if err != nil {
			return nil, "", err
		}
		payout = updated.Payout
		if !claimed {
			obslog.L().Info("payout_claim_lost",
				zap.String("game_id", gameID),
				zap.String("winning_signature", payout.Signature))
		}
	}

	if err := s.lg.Broadcast(ctx, payout.Raw); err != nil {
		// Marker stays on the record; the next call resumes this payout.
		obslog.L().Warn("payout_broadcast_error",
			zap.String("game_id", gameID),
			zap.String("signature", payout.Signature),
			zap.Error(err))
		return nil, "", fmt.Errorf("broadcast prize transfer: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	if err := s.lg.AwaitConfirmation(confirmCtx, payout.Signature); err != nil {
		obslog.L().Warn("payout_unconfirmed",
			zap.String("game_id", gameID),
			zap.String("signature", payout.Signature),
			zap.Error(err))
		return nil, "", arenadto.ErrPayoutInFlight
	}

	final, err := s.st.UpdateGame(ctx, gameID, func(cur *store.Game) error {
		if cur.PrizeDistributed {
			return nil
		}
		cur.PrizeDistributed = true
		cur.PrizeTransaction = payout.Signature
		cur.Payout = nil
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if aerr := s.audit.SaveGameResult(ctx, final); aerr != nil {
		obslog.L().Warn("payout_audit_error", zap.String("game_id", gameID), zap.Error(aerr))
	}
	obslog.L().Info("prize_distributed",
		zap.String("game_id", gameID),
		zap.String("winner", final.Winner),
		zap.String("signature", payout.Signature),
		zap.Uint64("lamports", final.PrizePoolLamports))
	return final, payout.Signature, nil
}

// ProcessRefund returns a confirmed entry fee to its payer once the
// refund window has expired without the lobby being promoted. The lobby
// row still existing is itself the "no match happened" proof: promotion
// deletes it. Same two-phase shape as the prize payout. Claiming the
// refund also strips the payer's paid flag and demotes a ready lobby, so
// a lobby whose funding left escrow can never promote into a full prize
// pool. A transaction that is already refunded is rejected, matching the
// repeated-distribute behavior.
func (s *Service) ProcessRefund(ctx context.Context, caller, lobbyID, signature string) (string, error) {
	l, err := s.st.LoadLobby(ctx, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return "", arenadto.ErrRefundNotAvailable
	}
	if err != nil {
		return "", err
	}
	tx, ok := l.Transactions[signature]
	if !ok {
		return "", arenadto.ErrTransactionNotFound
	}
	if tx.WalletAddress != caller {
		return "", arenadto.ErrPermissionDenied
	}
	if l.FirstTransactionAt == nil || time.Since(*l.FirstTransactionAt) < s.refundWindow {
		return "", arenadto.ErrRefundNotAvailable
	}

	var pendingRefund *store.Transaction
	switch tx.Status {
	case store.TxConfirmed:
		// claim below
	case store.TxRefundRequested:
		pendingRefund = tx
	case store.TxRefunded:
		return "", arenadto.ErrAlreadyRefunded
	default:
		return "", arenadto.ErrNotRefundable
	}

	if pendingRefund == nil || pendingRefund.RefundRaw == nil {
		amount := tx.Amount
		if amount == 0 {
			amount = s.entryFee
		}
		prepared, err := s.lg.PrepareTransfer(ctx, caller, amount)
		if err != nil {
			return "", fmt.Errorf("prepare refund transfer: %w", err)
		}
		updated, err := s.st.UpdateLobby(ctx, lobbyID, func(cur *store.Lobby) error {
			t, ok := cur.Transactions[signature]
			if !ok {
				return arenadto.ErrTransactionNotFound
			}
			switch t.Status {
			case store.TxConfirmed:
				now := time.Now().UTC()
				t.Status = store.TxRefundRequested
				t.RefundSignature = prepared.Signature
				t.RefundRaw = prepared.Raw
				t.RefundSubmittedAt = &now
				// The entry fee is leaving escrow: the payer is no longer
				// funded, so the lobby cannot promote on this payment.
				if p := cur.Member(t.WalletAddress); p != nil {
					p.PaymentStatus = store.PaymentPending
				}
				if cur.Status == store.LobbyReady {
					cur.Status = store.LobbyMatched
				}
				return nil
			case store.TxRefundRequested:
				// Another caller claimed it; resume theirs.
				return nil
			case store.TxRefunded:
				return arenadto.ErrAlreadyRefunded
			default:
				return arenadto.ErrNotRefundable
			}
		})
		if err != nil {
			return "", err
		}
		pendingRefund = updated.Transactions[signature]
	}

	if err := s.lg.Broadcast(ctx, pendingRefund.RefundRaw); err != nil {
		obslog.L().Warn("refund_broadcast_error",
			zap.String("lobby_id", lobbyID),
			zap.String("signature", pendingRefund.RefundSignature),
			zap.Error(err))
		return "", fmt.Errorf("broadcast refund transfer: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	if err := s.lg.AwaitConfirmation(confirmCtx, pendingRefund.RefundSignature); err != nil {
		obslog.L().Warn("refund_unconfirmed",
			zap.String("lobby_id", lobbyID),
			zap.String("signature", pendingRefund.RefundSignature),
			zap.Error(err))
		return "", arenadto.ErrPayoutInFlight
	}

	final, err := s.st.UpdateLobby(ctx, lobbyID, func(cur *store.Lobby) error {
		t, ok := cur.Transactions[signature]
		if !ok {
			return arenadto.ErrTransactionNotFound
		}
		if t.Status == store.TxRefunded {
			return nil
		}
		now := time.Now().UTC()
		t.Status = store.TxRefunded
		t.RefundedAt = &now
		return nil
	})
	if err != nil {
		return "", err
	}
	refunded := final.Transactions[signature]
	if aerr := s.audit.SaveRefund(ctx, lobbyID, refunded); aerr != nil {
		obslog.L().Warn("refund_audit_error", zap.String("lobby_id", lobbyID), zap.Error(aerr))
	}
	obslog.L().Info("refund_processed",
		zap.String("lobby_id", lobbyID),
		zap.String("wallet", caller),
		zap.String("entry_signature", signature),
		zap.String("refund_signature", refunded.RefundSignature))
	return refunded.RefundSignature, nil
}
