package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/config"
	"cardiavue.org/internal/grpchealth"
	"cardiavue.org/internal/httpapi"
	"cardiavue.org/internal/migrate"
	"cardiavue.org/internal/obs"
	"cardiavue.org/internal/records"
	"cardiavue.org/internal/store/pg"
	"cardiavue.org/internal/stream"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.SlogLevel(), os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// stores bundles the credential and records backends.
type stores struct {
	users   auth.UserStore
	records records.Service
	close   func() error
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := obs.NewMetrics()
	metrics.SetBuildInfo(obs.Version, obs.Commit)
	hasher := auth.NewHasher(cfg.BcryptCost)

	st, err := openStores(ctx, cfg, logger, hasher)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("close store", slog.String("error", err.Error()))
		}
	}()

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret: []byte(cfg.AuthSecret),
		TTL:    cfg.TokenTTL,
		Issuer: cfg.TokenIssuer,
	})
	if err != nil {
		return err
	}
	policy := auth.DefaultPolicy()
	if cfg.PolicyFile != "" {
		if policy, err = auth.LoadPolicyFile(cfg.PolicyFile); err != nil {
			return err
		}
		logger.Info("loaded policy file", slog.String("path", cfg.PolicyFile))
	}
	resolver := auth.NewResolver(codec, st.users, cfg.StoreTimeout)
	gate := auth.NewGate(resolver, policy, func(res auth.Resource, act auth.Action, outcome string) {
		metrics.ObserveDecision(string(res), string(act), outcome)
	})
	probe := httpapi.ReadyProbe{Store: st.records}

	api := httpapi.New(httpapi.Deps{
		Authenticator:   auth.NewAuthenticator(st.users, hasher, codec, cfg.StoreTimeout),
		Gate:            gate,
		Policy:          policy,
		Records:         st.records,
		Alerts:          stream.New(),
		Ready:           probe,
		Logger:          logger,
		Metrics:         metrics,
		Version:         obs.Version,
		CORSOrigins:     cfg.CORSOrigins,
		LoginRatePerSec: cfg.LoginRatePerSec,
		LoginRateBurst:  cfg.LoginRateBurst,
		TrustedProxies:  cfg.TrustedProxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting http server",
			slog.String("addr", srv.Addr),
			slog.String("version", obs.Version),
			slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var gs *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs = grpc.NewServer()
		health := grpchealth.New(probe, logger, 0)
		health.Register(gs)
		go health.Run(ctx)
		go func() {
			logger.Info("starting grpc health server", slog.String("addr", cfg.GRPCAddr))
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if gs != nil {
		gs.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// openStores connects to Postgres when a DSN is configured, applies migrations and,
// outside production, loads the demo data. Without a DSN everything lives in memory.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger, hasher auth.Hasher) (stores, error) {
	if cfg.PGDSN == "" {
		users := auth.NewMemoryStore()
		recs := records.NewInMemory()
		if !cfg.IsProduction() {
			if err := migrate.SeedUsers(ctx, users, hasher); err != nil {
				return stores{}, err
			}
			if err := migrate.SeedRecords(ctx, recs); err != nil {
				return stores{}, err
			}
			logger.Info("using in-memory stores with demo data")
		} else {
			logger.Warn("using empty in-memory stores; set CARDIAVUE_PG_DSN")
		}
		return stores{users: users, records: recs, close: func() error { return nil }}, nil
	}

	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return stores{}, fmt.Errorf("open db: %w", err)
	}
	mgr := migrate.NewManager(store.DB())
	if err := mgr.Up(ctx); err != nil {
		_ = store.Close()
		return stores{}, err
	}
	if !cfg.IsProduction() {
		applied, err := mgr.SeedDemo(ctx, store, store, hasher)
		if err != nil {
			_ = store.Close()
			return stores{}, err
		}
		if len(applied) > 0 {
			logger.Info("applied demo seeds", slog.Any("seeds", applied))
		}
	}
	return stores{users: store, records: store, close: store.Close}, nil
}
