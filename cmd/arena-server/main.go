package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/solpond/arena/internal/auth"
	appcfg "github.com/solpond/arena/internal/config"
	"github.com/solpond/arena/internal/escrow"
	"github.com/solpond/arena/internal/httpapi"
	"github.com/solpond/arena/internal/ledger"
	"github.com/solpond/arena/internal/lobby"
	"github.com/solpond/arena/internal/match"
	"github.com/solpond/arena/internal/obslog"
	"github.com/solpond/arena/internal/payment"
	"github.com/solpond/arena/internal/settlement"
	"github.com/solpond/arena/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewFromURL(ctx, cfg.RedisURL)
	if err != nil {
		obslog.L().Fatal("redis init error", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	esc, err := escrow.Load(cfg.EscrowPrivateKey)
	if err != nil {
		obslog.L().Fatal("escrow key error", zap.Error(err))
	}
	lg := ledger.NewSolanaClient(cfg.SolanaRPCURL, esc)

	// Audit DB is optional; without it settlement records go to logs only.
	var repo *settlement.Repository
	if cfg.DatabaseURL != "" {
		repo, err = settlement.NewRepository(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Fatal("audit repository init error", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
	} else {
		obslog.L().Warn("audit repository disabled, DATABASE_URL not set")
	}

	authSvc, err := auth.NewService(st, cfg.TokenSigningSeed, cfg.TokenTTL())
	if err != nil {
		obslog.L().Fatal("auth init error", zap.Error(err))
	}

	lobbies := lobby.NewManager(st)
	payments := payment.NewVerifier(st, lg, esc.Address(), cfg.EntryFeeLamports, cfg.PaymentWindow())
	matches := match.NewOrchestrator(st, repo, cfg.MatchDuration(), cfg.EntryFeeLamports, cfg.PrizeLamports())
	settle := settlement.NewService(st, lg, repo, cfg.EntryFeeLamports, cfg.RefundWindow(), cfg.ConfirmTimeout())

	sweeper := lobby.NewSweeper(st, cfg.JanitorInterval(), cfg.LobbyMaxAge())
	go sweeper.Run(ctx)

	threshold := uint64(cfg.LowBalanceFactor) * cfg.EntryFeeLamports
	monitor := settlement.NewMonitor(st, lg, repo, esc.Address(), threshold, cfg.MonitorInterval())
	go monitor.Run(ctx)

	srv := httpapi.NewServer(st, authSvc, lobbies, payments, matches, settle)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("server_listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("escrow", esc.Address()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	obslog.L().Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}
