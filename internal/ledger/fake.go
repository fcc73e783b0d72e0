package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Client for tests. Transfers seeded with
// SetTransfer are what LookupTransfer reads; outbound transfers get
// deterministic signatures and every broadcast is counted so tests can
// assert at-most-once settlement.
type Fake struct {
	mu sync.Mutex

	transfers  map[string]*TransferDetail
	balances   map[string]uint64
	broadcasts map[string]int
	confirmErr map[string]error
	outbound   []fakeOutbound
	seq        int

	PrepareErr   error
	BroadcastErr error
}

type fakeOutbound struct {
	Signature string `json:"signature"`
	To        string `json:"to"`
	Lamports  uint64 `json:"lamports"`
}

func NewFake() *Fake {
	return &Fake{
		transfers:  make(map[string]*TransferDetail),
		balances:   make(map[string]uint64),
		broadcasts: make(map[string]int),
		confirmErr: make(map[string]error),
	}
}

// SetTransfer seeds a transaction the ledger "knows about".
func (f *Fake) SetTransfer(det *TransferDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[det.Signature] = det
}

func (f *Fake) SetBalance(address string, lamports uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = lamports
}

// FailConfirmation makes AwaitConfirmation for a signature return err.
func (f *Fake) FailConfirmation(signature string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmErr[signature] = err
}

// BroadcastCount reports how many times a signature was broadcast.
func (f *Fake) BroadcastCount(signature string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broadcasts[signature]
}

// TotalBroadcasts counts every broadcast regardless of signature.
func (f *Fake) TotalBroadcasts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.broadcasts {
		n += c
	}
	return n
}

// Outbound returns the prepared transfers in order.
func (f *Fake) Outbound() []OutboundTransfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutboundTransfer, 0, len(f.outbound))
	for _, o := range f.outbound {
		raw, _ := json.Marshal(o)
		out = append(out, OutboundTransfer{Signature: o.Signature, Raw: raw})
	}
	return out
}

func (f *Fake) LookupTransfer(_ context.Context, signature string) (*TransferDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	det, ok := f.transfers[signature]
	if !ok {
		return nil, ErrTxNotFound
	}
	cp := *det
	return &cp, nil
}

func (f *Fake) PrepareTransfer(_ context.Context, to string, lamports uint64) (*OutboundTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PrepareErr != nil {
		return nil, f.PrepareErr
	}
	f.seq++
	o := fakeOutbound{
		Signature: fmt.Sprintf("out-sig-%d", f.seq),
		To:        to,
		Lamports:  lamports,
	}
	f.outbound = append(f.outbound, o)
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return &OutboundTransfer{Signature: o.Signature, Raw: raw}, nil
}

func (f *Fake) Broadcast(_ context.Context, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BroadcastErr != nil {
		return f.BroadcastErr
	}
	var o fakeOutbound
	if err := json.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("malformed raw transaction: %w", err)
	}
	f.broadcasts[o.Signature]++
	f.transfers[o.Signature] = &TransferDetail{
		Signature:      o.Signature,
		Sender:         "escrow",
		Recipient:      o.To,
		Lamports:       o.Lamports,
		BlockTime:      time.Now(),
		Confirmed:      true,
		NativeTransfer: true,
	}
	return nil
}

func (f *Fake) AwaitConfirmation(_ context.Context, signature string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.confirmErr[signature]; err != nil {
		return err
	}
	if f.broadcasts[signature] == 0 {
		if _, ok := f.transfers[signature]; !ok {
			return fmt.Errorf("signature %s never broadcast", signature)
		}
	}
	return nil
}

func (f *Fake) Balance(_ context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[address], nil
}
