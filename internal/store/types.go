package store

import "time"

// LobbyStatus is the lobby lifecycle: waiting → matched → ready → in_game.
// The lobby row is removed on promotion to a game, so in_game and completed
// are only ever observed on the Game record.
type LobbyStatus string

const (
	LobbyWaiting LobbyStatus = "waiting"
	LobbyMatched LobbyStatus = "matched"
	LobbyReady   LobbyStatus = "ready"
	LobbyInGame  LobbyStatus = "in_game"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type TxStatus string

const (
	TxPending         TxStatus = "pending"
	TxConfirmed       TxStatus = "confirmed"
	TxFailed          TxStatus = "failed"
	TxRefundRequested TxStatus = "refund-requested"
	TxRefunded        TxStatus = "refunded"
)

type GameStatus string

const (
	GameActive    GameStatus = "active"
	GameCompleted GameStatus = "completed"
)

// Player is lobby-scoped; its identity is the wallet address.
type Player struct {
	ID            string        `json:"id"`
	JoinedAt      time.Time     `json:"joinedAt"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
}

// Verification is what the verifier read from the ledger, kept for audit
// on both accepted and rejected payments.
type Verification struct {
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	Lamports   uint64    `json:"lamports"`
	Timestamp  time.Time `json:"timestamp"`
	VerifiedAt time.Time `json:"verifiedAt"`
	OK         bool      `json:"ok"`
	Reason     string    `json:"reason,omitempty"`
}

// Transaction records one claimed entry-fee payment. The ledger signature
// is the idempotency key. Immutable once refunded.
type Transaction struct {
	Signature     string        `json:"signature"`
	WalletAddress string        `json:"walletAddress"`
	Amount        uint64        `json:"amount"`
	Status        TxStatus      `json:"status"`
	RecordedAt    time.Time     `json:"recordedAt"`
	FailureReason string        `json:"failureReason,omitempty"`
	Verification  *Verification `json:"verification,omitempty"`

	// Refund two-phase state. RefundSignature and RefundRaw are persisted
	// before broadcast so a crashed refund can be resumed by re-sending the
	// identical signed transaction.
	RefundSignature   string     `json:"refundSignature,omitempty"`
	RefundRaw         []byte     `json:"refundRaw,omitempty"`
	RefundSubmittedAt *time.Time `json:"refundSubmittedAt,omitempty"`
	RefundedAt        *time.Time `json:"refundedAt,omitempty"`
}

type Lobby struct {
	ID                 string                  `json:"id"`
	Status             LobbyStatus             `json:"status"`
	Players            []Player                `json:"players"`
	CreatedAt          time.Time               `json:"createdAt"`
	FirstTransactionAt *time.Time              `json:"firstTransactionAt,omitempty"`
	Transactions       map[string]*Transaction `json:"transactions,omitempty"`
}

// Member returns the player entry for a wallet, or nil.
func (l *Lobby) Member(wallet string) *Player {
	for i := range l.Players {
		if l.Players[i].ID == wallet {
			return &l.Players[i]
		}
	}
	return nil
}

// ActiveTransactionFor returns a wallet's pending or confirmed transaction
// in this lobby, if any. Used by the duplicate-payment guard.
func (l *Lobby) ActiveTransactionFor(wallet string) *Transaction {
	for _, tx := range l.Transactions {
		if tx.WalletAddress != wallet {
			continue
		}
		if tx.Status == TxPending || tx.Status == TxConfirmed || tx.Status == TxRefundRequested {
			return tx
		}
	}
	return nil
}

// HasLiveFunding reports whether any transaction in the lobby is pending or
// confirmed. Funded lobbies are exempt from the janitor sweep so the refund
// path stays reachable.
func (l *Lobby) HasLiveFunding() bool {
	for _, tx := range l.Transactions {
		if tx.Status == TxPending || tx.Status == TxConfirmed || tx.Status == TxRefundRequested {
			return true
		}
	}
	return false
}

// AllPaid reports whether both players are present and paid.
func (l *Lobby) AllPaid() bool {
	if len(l.Players) != 2 {
		return false
	}
	for i := range l.Players {
		if l.Players[i].PaymentStatus != PaymentPaid {
			return false
		}
	}
	return true
}

// Payout is the durable in-flight marker for a prize transfer. Raw holds
// the signed transaction bytes; re-broadcasting them after a crash cannot
// double-pay because the ledger dedupes on the signature.
type Payout struct {
	Signature   string    `json:"signature"`
	Raw         []byte    `json:"raw"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type Game struct {
	ID                string            `json:"id"`
	LobbyID           string            `json:"lobbyId"`
	Players           []Player          `json:"players"`
	Scores            map[string]int    `json:"scores"`
	Status            GameStatus        `json:"status"`
	TimeRemaining     int               `json:"timeRemaining"`
	EntryFeeLamports  uint64            `json:"entryFeeLamports"`
	PrizePoolLamports uint64            `json:"prizePoolLamports"`
	Winner            string            `json:"winner,omitempty"`
	PrizeDistributed  bool              `json:"prizeDistributed"`
	PrizeTransaction  string            `json:"prizeTransaction,omitempty"`
	Payout            *Payout           `json:"payout,omitempty"`
	EntrySignatures   map[string]string `json:"entrySignatures,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	EndedAt           *time.Time        `json:"endedAt,omitempty"`
}

// HasPlayer reports whether the wallet participated in this game.
func (g *Game) HasPlayer(wallet string) bool {
	for i := range g.Players {
		if g.Players[i].ID == wallet {
			return true
		}
	}
	return false
}

// LobbyEvent is one change notification delivered to lobby subscribers.
// Deleted marks the tombstone published when the lobby row is removed.
type LobbyEvent struct {
	Deleted bool   `json:"deleted"`
	Lobby   *Lobby `json:"lobby,omitempty"`
}

type GameEvent struct {
	Deleted bool  `json:"deleted"`
	Game    *Game `json:"game,omitempty"`
}
