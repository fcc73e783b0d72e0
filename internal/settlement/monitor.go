package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solpond/arena/internal/ledger"
	"github.com/solpond/arena/internal/obslog"
	"github.com/solpond/arena/internal/store"
)

// Monitor periodically checks the escrow balance and raises an alert when
// it drops below the configured multiple of the entry fee. Observability
// only; it never blocks or fails a settlement.
type Monitor struct {
	st         *store.Store
	lg         ledger.Client
	audit      *Repository
	escrowAddr string
	threshold  uint64
	interval   time.Duration
}

func NewMonitor(st *store.Store, lg ledger.Client, audit *Repository, escrowAddr string, threshold uint64, interval time.Duration) *Monitor {
	return &Monitor{
		st:         st,
		lg:         lg,
		audit:      audit,
		escrowAddr: escrowAddr,
		threshold:  threshold,
		interval:   interval,
	}
}

// Run checks immediately, then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	obslog.L().Info("escrow_monitor_started",
		zap.String("escrow", m.escrowAddr),
		zap.Uint64("threshold_lamports", m.threshold),
		zap.Duration("interval", m.interval))

	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("escrow_monitor_stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check performs one balance read and reports whether the balance is low.
func (m *Monitor) Check(ctx context.Context) bool {
	balance, err := m.lg.Balance(ctx, m.escrowAddr)
	if err != nil {
		obslog.L().Warn("escrow_balance_error", zap.Error(err))
		return false
	}
	if balance >= m.threshold {
		obslog.L().Debug("escrow_balance_ok", zap.Uint64("balance_lamports", balance))
		return false
	}

	msg := fmt.Sprintf("escrow balance %d lamports below threshold %d", balance, m.threshold)
	obslog.L().Warn("escrow_balance_low",
		zap.Uint64("balance_lamports", balance),
		zap.Uint64("threshold_lamports", m.threshold))
	if err := m.st.AppendAlert(ctx, msg); err != nil {
		obslog.L().Warn("escrow_alert_append_error", zap.Error(err))
	}
	if err := m.audit.SaveAlert(ctx, "low_balance", msg, balance); err != nil {
		obslog.L().Warn("escrow_alert_audit_error", zap.Error(err))
	}
	return true
}
