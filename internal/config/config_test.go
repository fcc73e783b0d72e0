package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SOLANA_RPC_URL", "http://localhost:8899")
	t.Setenv("ESCROW_PRIVATE_KEY", "key")
	t.Setenv("CONFIG_FILE", "")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EntryFeeLamports != 100_000_000 || cfg.MatchDurationSec != 150 {
		t.Fatalf("defaults wrong: fee=%d duration=%d", cfg.EntryFeeLamports, cfg.MatchDurationSec)
	}
	if cfg.PrizeLamports() != 200_000_000 {
		t.Fatalf("prize = %d", cfg.PrizeLamports())
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "arena.yaml")
	if err := os.WriteFile(path, []byte("entry_fee_lamports: 5\nlisten_addr: \":9999\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ENTRY_FEE_LAMPORTS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EntryFeeLamports != 7 {
		t.Fatalf("env did not win: %d", cfg.EntryFeeLamports)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("file value lost: %s", cfg.ListenAddr)
	}
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("missing REDIS_URL accepted")
	}
}

func TestLoadRejectsFeeAboveEntry(t *testing.T) {
	setRequired(t)
	t.Setenv("HOUSE_FEE_LAMPORTS", "200000001")
	if _, err := Load(); err == nil {
		t.Fatalf("house fee above entry fee accepted")
	}
}
