package payment

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

// Verifier ties claimed entry-fee payments to what the ledger actually
// shows. Clients never set their own payment state: a player becomes paid
// only when a confirmed transfer of exactly the entry fee from their
// wallet to the escrow account has been read back from the ledger.
type Verifier struct {
	st         *store.Store
	lg         ledger.Client
	escrowAddr string
	entryFee   uint64
	window     time.Duration
}

func NewVerifier(st *store.Store, lg ledger.Client, escrowAddr string, entryFee uint64, window time.Duration) *Verifier {
	return &Verifier{st: st, lg: lg, escrowAddr: escrowAddr, entryFee: entryFee, window: window}
}

// RecordTransaction registers a transaction signature the player claims to
// have sent. One live payment per wallet per lobby: a wallet with a
// pending, confirmed or refund-requested transaction cannot record another.
func (v *Verifier) RecordTransaction(ctx context.Context, caller, lobbyID, signature string) (*store.Lobby, error) {
	if signature == "" {
		return nil, arenadto.ErrTransactionNotFound
	}
	updated, err := v.st.UpdateLobby(ctx, lobbyID, func(l *store.Lobby) error {
		if l.Member(caller) == nil {
			return arenadto.ErrInvalidLobby
		}
		if _, dup := l.Transactions[signature]; dup {
			return arenadto.ErrPaymentAlreadySubmitted
		}
		if l.ActiveTransactionFor(caller) != nil {
			return arenadto.ErrPaymentAlreadySubmitted
		}
		if l.Transactions == nil {
			l.Transactions = make(map[string]*store.Transaction)
		}
		now := time.Now().UTC()
		l.Transactions[signature] = &store.Transaction{
			Signature:     signature,
			WalletAddress: caller,
			Amount:        v.entryFee,
			Status:        store.TxPending,
			RecordedAt:    now,
		}
		if l.FirstTransactionAt == nil {
			l.FirstTransactionAt = &now
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, arenadto.ErrLobbyNotFound
	}
	if err != nil {
		return nil, err
	}
	obslog.L().Info("payment_recorded",
		zap.String("lobby_id", lobbyID),
		zap.String("wallet", caller),
		zap.String("signature", signature))
	return updated, nil
}

// VerifyEntryFeePayment reads the recorded transaction back from the
// ledger and settles its fate. An unconfirmed transaction is reported as
// retryable and left pending; any other rejection marks it failed with the
// ledger evidence attached. On success the transaction is confirmed, the
// player is marked paid, and the lobby becomes ready once both are.
func (v *Verifier) VerifyEntryFeePayment(ctx context.Context, caller, lobbyID, signature string) (*store.Lobby, error) {
	l, err := v.st.LoadLobby(ctx, lobbyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, arenadto.ErrLobbyNotFound
	}
	if err != nil {
		return nil, err
	}
	if l.Member(caller) == nil {
		return nil, arenadto.ErrInvalidLobby
	}
	tx, ok := l.Transactions[signature]
	if !ok {
		return nil, arenadto.ErrTransactionNotFound
	}
	if tx.WalletAddress != caller {
		return nil, arenadto.ErrPermissionDenied
	}
	if tx.Status == store.TxConfirmed {
		return l, nil
	}
	if tx.Status == store.TxFailed {
		return nil, failedPaymentErr(tx)
	}
	if tx.Status != store.TxPending {
		return nil, arenadto.ErrNotRefundable
	}

	det, err := v.lg.LookupTransfer(ctx, signature)
	if errors.Is(err, ledger.ErrTxNotFound) {
		return nil, arenadto.ErrTransactionNotFound
	}
	if err != nil {
		// Ledger unreachable is not evidence either way; leave the
		// transaction pending for a retry.
		obslog.L().Warn("payment_ledger_error",
			zap.String("signature", signature), zap.Error(err))
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	if !det.Confirmed {
		return nil, arenadto.ErrTransactionNotConfirmed
	}

	if reject := v.check(caller, det); reject != nil {
		verif := verificationFrom(det, false, reject.Code)
		if _, ferr := v.markFailed(ctx, lobbyID, signature, reject.Code, verif); ferr != nil {
			obslog.L().Warn("payment_mark_failed_error",
				zap.String("signature", signature), zap.Error(ferr))
		}
		obslog.L().Info("payment_rejected",
			zap.String("lobby_id", lobbyID),
			zap.String("signature", signature),
			zap.String("reason", reject.Code))
		return nil, *reject
	}

	verif := verificationFrom(det, true, "")
	updated, err := v.st.UpdateLobby(ctx, lobbyID, func(cur *store.Lobby) error {
		t, ok := cur.Transactions[signature]
		if !ok {
			return arenadto.ErrTransactionNotFound
		}
		if t.Status != store.TxPending && t.Status != store.TxConfirmed {
			return arenadto.ErrNotRefundable
		}
		t.Status = store.TxConfirmed
		t.Verification = verif
		if p := cur.Member(caller); p != nil {
			p.PaymentStatus = store.PaymentPaid
		}
		if cur.AllPaid() && cur.Status == store.LobbyMatched {
			cur.Status = store.LobbyReady
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, arenadto.ErrLobbyNotFound
	}
	if err != nil {
		return nil, err
	}
	obslog.L().Info("payment_verified",
		zap.String("lobby_id", lobbyID),
		zap.String("wallet", caller),
		zap.String("signature", signature),
		zap.String("lobby_status", string(updated.Status)))
	return updated, nil
}

// RefreshPaymentStatus recomputes every player's payment state from the
// confirmed transactions on record. It never trusts the caller: the only
// way to become paid is a confirmed transaction with a matching wallet.
func (v *Verifier) RefreshPaymentStatus(ctx context.Context, caller, lobbyID string) (*store.Lobby, error) {
	updated, err := v.st.UpdateLobby(ctx, lobbyID, func(l *store.Lobby) error {
		if l.Member(caller) == nil {
			return arenadto.ErrInvalidLobby
		}
		for i := range l.Players {
			l.Players[i].PaymentStatus = store.PaymentPending
			for _, tx := range l.Transactions {
				if tx.WalletAddress == l.Players[i].ID && tx.Status == store.TxConfirmed {
					l.Players[i].PaymentStatus = store.PaymentPaid
					break
				}
			}
		}
		switch {
		case l.AllPaid() && l.Status == store.LobbyMatched:
			l.Status = store.LobbyReady
		case !l.AllPaid() && l.Status == store.LobbyReady:
			l.Status = store.LobbyMatched
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, arenadto.ErrLobbyNotFound
	}
	return updated, err
}

// check validates a confirmed ledger read against the entry-fee contract.
func (v *Verifier) check(caller string, det *ledger.TransferDetail) *arenadto.DomainError {
	fail := func(e arenadto.DomainError) *arenadto.DomainError { return &e }
	// Malformed first: a transaction that is not a plain transfer has no
	// trustworthy sender or amount to compare against.
	if det.LedgerErr != "" || !det.NativeTransfer {
		return fail(arenadto.ErrMalformedInstruction)
	}
	if det.BlockTime.Before(time.Now().Add(-v.window)) {
		return fail(arenadto.ErrTransactionExpired)
	}
	if det.Sender != caller {
		return fail(arenadto.ErrSenderMismatch)
	}
	if det.Recipient != v.escrowAddr {
		return fail(arenadto.ErrRecipientMismatch)
	}
	if det.Lamports != v.entryFee {
		return fail(arenadto.ErrAmountMismatch)
	}
	return nil
}

func (v *Verifier) markFailed(ctx context.Context, lobbyID, signature, reason string, verif *store.Verification) (*store.Lobby, error) {
	return v.st.UpdateLobby(ctx, lobbyID, func(l *store.Lobby) error {
		t, ok := l.Transactions[signature]
		if !ok {
			return arenadto.ErrTransactionNotFound
		}
		if t.Status != store.TxPending {
			return nil
		}
		t.Status = store.TxFailed
		t.FailureReason = reason
		t.Verification = verif
		return nil
	})
}

// failedPaymentErr replays the rejection a transaction already failed
// with, so repeat verify calls get the same stable code.
func failedPaymentErr(tx *store.Transaction) arenadto.DomainError {
	code := tx.FailureReason
	if code == "" {
		code = "PaymentRejected"
	}
	return arenadto.DomainError{
		Category: arenadto.CategoryValidationFailed,
		Code:     code,
		Message:  "payment was previously rejected",
	}
}

func verificationFrom(det *ledger.TransferDetail, ok bool, reason string) *store.Verification {
	return &store.Verification{
		Sender:     det.Sender,
		Recipient:  det.Recipient,
		Lamports:   det.Lamports,
		Timestamp:  det.BlockTime,
		VerifiedAt: time.Now().UTC(),
		OK:         ok,
		Reason:     reason,
	}
}
