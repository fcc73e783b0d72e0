package escrow

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Account is the custodial keypair holding pooled entry fees. It is
// constructed once in main from configuration and injected into whatever
// needs to sign or identify the escrow; nothing reads it from ambient
// state.
type Account struct {
	key solana.PrivateKey
}

// Load parses a base58-encoded private key.
func Load(base58Key string) (*Account, error) {
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(base58Key))
	if err != nil {
		return nil, fmt.Errorf("parse escrow private key: %w", err)
	}
	return &Account{key: key}, nil
}

// Generate creates a fresh escrow keypair; used by tooling, never by the
// server itself.
func Generate() (*Account, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Account{key: key}, nil
}

func (a *Account) PublicKey() solana.PublicKey { return a.key.PublicKey() }

// Address is the base58 form used everywhere outside the ledger client.
func (a *Account) Address() string { return a.key.PublicKey().String() }

// Key exposes the signing key to the ledger client.
func (a *Account) Key() solana.PrivateKey { return a.key }
