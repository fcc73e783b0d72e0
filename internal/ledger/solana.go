package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solpond/arena/internal/escrow"
	"github.com/solpond/arena/internal/obslog"
)

// System-Program instruction discriminator for a lamport transfer.
const systemTransferIndex = 2

const confirmPollInterval = 2 * time.Second

// SolanaClient implements Client against a Solana JSON-RPC endpoint,
// signing outbound transfers with the injected escrow account.
type SolanaClient struct {
	rpc    *rpc.Client
	escrow *escrow.Account
}

func NewSolanaClient(rpcURL string, esc *escrow.Account) *SolanaClient {
	return &SolanaClient{rpc: rpc.New(rpcURL), escrow: esc}
}

func (c *SolanaClient) LookupTransfer(ctx context.Context, signature string) (*TransferDetail, error) {
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(signature))
	if err != nil {
		// A signature that does not parse cannot exist on the ledger.
		return nil, ErrTxNotFound
	}

	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return c.pendingDetail(ctx, signature, sig)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if out == nil || out.Transaction == nil {
		return c.pendingDetail(ctx, signature, sig)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	det := &TransferDetail{Signature: signature, Confirmed: true}
	if out.BlockTime != nil {
		det.BlockTime = out.BlockTime.Time()
	}
	if out.Meta != nil && out.Meta.Err != nil {
		det.LedgerErr = fmt.Sprintf("%v", out.Meta.Err)
	}

	// A simple native transfer is exactly one System-Program transfer
	// instruction; anything else stays NativeTransfer=false and fails
	// verification as malformed.
	msg := tx.Message
	if len(msg.Instructions) == 1 {
		inst := msg.Instructions[0]
		prog, perr := msg.Program(inst.ProgramIDIndex)
		if perr == nil && prog.Equals(solana.SystemProgramID) &&
			len(inst.Accounts) >= 2 && len(inst.Data) >= 12 &&
			binary.LittleEndian.Uint32(inst.Data[0:4]) == systemTransferIndex {
			sender, serr := msg.Account(inst.Accounts[0])
			recipient, rerr := msg.Account(inst.Accounts[1])
			if serr == nil && rerr == nil {
				det.NativeTransfer = true
				det.Sender = sender.String()
				det.Recipient = recipient.String()
				det.Lamports = binary.LittleEndian.Uint64(inst.Data[4:12])
			}
		}
	}
	return det, nil
}

// pendingDetail distinguishes "the ledger has never seen this signature"
// from "submitted but not yet at confirmed commitment". The latter comes
// back Confirmed=false so the verifier can tell the client to keep
// polling.
func (c *SolanaClient) pendingDetail(ctx context.Context, signature string, sig solana.Signature) (*TransferDetail, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil || out == nil || len(out.Value) != 1 || out.Value[0] == nil {
		return nil, ErrTxNotFound
	}
	return &TransferDetail{Signature: signature}, nil
}

func (c *SolanaClient) PrepareTransfer(ctx context.Context, to string, lamports uint64) (*OutboundTransfer, error) {
	dest, err := solana.PublicKeyFromBase58(strings.TrimSpace(to))
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}

	// Fresh blockhash per submission; concurrent transfers must never
	// share one.
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, c.escrow.PublicKey(), dest).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(c.escrow.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("build transfer: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.escrow.PublicKey()) {
			k := c.escrow.Key()
			return &k
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transfer: %w", err)
	}
	return &OutboundTransfer{Signature: tx.Signatures[0].String(), Raw: raw}, nil
}

func (c *SolanaClient) Broadcast(ctx context.Context, raw []byte) error {
	// Preflight is skipped so a resumed transfer that already landed does
	// not fail simulation; AwaitConfirmation is the authority on outcome.
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight: true,
	})
	if err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	obslog.L().Debug("ledger_broadcast", zap.String("signature", sig.String()))
	return nil
}

func (c *SolanaClient) AwaitConfirmation(ctx context.Context, signature string) error {
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	t := time.NewTicker(confirmPollInterval)
	defer t.Stop()
	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && out != nil && len(out.Value) == 1 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction failed on ledger: %v", st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait: %w", ctx.Err())
		case <-t.C:
		}
	}
}

func (c *SolanaClient) Balance(ctx context.Context, address string) (uint64, error) {
	addr, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	if err != nil {
		return 0, fmt.Errorf("parse address: %w", err)
	}
	out, err := c.rpc.GetBalance(ctx, addr, rpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return out.Value, nil
}
