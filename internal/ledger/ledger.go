package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrTxNotFound marks a signature the ledger has no record of.
var ErrTxNotFound = errors.New("ledger: transaction not found")

// TransferDetail is what verification reads back for one transaction.
type TransferDetail struct {
	Signature string
	Sender    string
	Recipient string
	Lamports  uint64
	BlockTime time.Time

	// Confirmed is false while the transaction is still pending; the
	// verifier reports that as retryable instead of rejecting.
	Confirmed bool

	// NativeTransfer is true only for a transaction whose single
	// instruction is a System-Program transfer.
	NativeTransfer bool

	// LedgerErr is non-empty when the transaction landed but failed.
	LedgerErr string
}

// OutboundTransfer is a signed, not yet broadcast transfer from escrow.
// The signature is known before broadcast, which is what lets settlement
// persist an in-flight marker first and re-send the identical bytes after
// a crash: the ledger dedupes on signature, so a re-broadcast can never
// pay twice.
type OutboundTransfer struct {
	Signature string `json:"signature"`
	Raw       []byte `json:"raw"`
}

// Client is the ledger surface the engine depends on. The Solana
// implementation lives in this package; tests substitute a Fake.
type Client interface {
	// LookupTransfer reads a transaction at confirmed commitment.
	// Returns ErrTxNotFound when the ledger has no record of it.
	LookupTransfer(ctx context.Context, signature string) (*TransferDetail, error)

	// PrepareTransfer builds and signs a transfer from the escrow account
	// using a freshly fetched recent blockhash. Blockhashes are never
	// reused across submissions.
	PrepareTransfer(ctx context.Context, to string, lamports uint64) (*OutboundTransfer, error)

	// Broadcast submits previously signed transaction bytes.
	Broadcast(ctx context.Context, raw []byte) error

	// AwaitConfirmation blocks until the signature is confirmed, the
	// transaction is known to have failed, or ctx expires.
	AwaitConfirmation(ctx context.Context, signature string) error

	// Balance reads the current lamport balance of an address.
	Balance(ctx context.Context, address string) (uint64, error)
}
