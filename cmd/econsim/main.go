// Command econsim runs the banking economy: banks, firms and the household
// trading through private ledgers for a fixed number of days.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/mini-economy/internal/api"
	"github.com/talgya/mini-economy/internal/config"
	"github.com/talgya/mini-economy/internal/engine"
	"github.com/talgya/mini-economy/internal/persistence"
)

// Balances are stored every balanceEvery rounds and after the last one.
const balanceEvery = 100

func main() {
	if err := run(); err != nil {
		slog.Error("econsim failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level, _ := cfg.Level() // checked by Load
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("econsim starting",
		"days", cfg.NumDays,
		"banks", cfg.NumBanks,
		"firms", cfg.NumFirms,
		"population", cfg.Population,
	)

	sim, err := engine.New(cfg)
	if err != nil {
		return err
	}

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.StorePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
		db, err = persistence.Open(cfg.StorePath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.SaveRun(sim); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		slog.Info("database opened", "path", cfg.StorePath)
	}

	sim.PrintBalanceStatements()

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.MaxRounds = cfg.NumDays
	if cfg.Speed > 0 {
		eng.Interval = time.Duration(float64(time.Second) / cfg.Speed)
	}

	var balancesAt uint64
	balancesSaved := false
	saveBalances := func(r uint64) {
		if db == nil || (balancesSaved && balancesAt == r) {
			return
		}
		if err := db.SaveBalances(sim, r); err != nil {
			slog.Error("balance save failed", "round", r, "error", err)
			return
		}
		balancesAt, balancesSaved = r, true
	}

	eng.OnRound = func(r uint64) error {
		if err := sim.Step(r); err != nil {
			return err
		}
		if db != nil {
			if err := db.SaveRound(sim); err != nil {
				slog.Error("round save failed", "round", r, "error", err)
			}
			if r%balanceEvery == 0 {
				saveBalances(r)
			}
		}
		return nil
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.APIPort > 0 {
		if cfg.AdminKey == "" {
			slog.Warn("ECON_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		apiServer := &api.Server{
			Sim:      sim,
			Eng:      eng,
			DB:       db,
			Port:     cfg.APIPort,
			AdminKey: cfg.AdminKey,
		}
		apiServer.Start()
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	}

	// ── Start ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	runErr := eng.Run(ctx)

	if r, ok := sim.LastRound(); ok {
		saveBalances(r)
	}
	sim.PrintBalanceStatements()

	rep := sim.Report()
	slog.Info("econsim finished",
		"rounds", eng.Round(),
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
		"money", humanize.Commaf(rep.MoneySupply.Round(2).InexactFloat64()),
		"run", sim.RunID.String(),
	)
	return runErr
}
