package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"pulse-rewards/internal/claim"
	"pulse-rewards/internal/config"
	"pulse-rewards/internal/contribution"
	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/observability"
	"pulse-rewards/internal/quest"
	"pulse-rewards/internal/replica"
	"pulse-rewards/internal/session"
	"pulse-rewards/internal/storage"
	chstore "pulse-rewards/internal/storage/clickhouse"
	"pulse-rewards/internal/storage/memory"
	"pulse-rewards/internal/storage/migrations"
	pgstore "pulse-rewards/internal/storage/postgres"
)

// allStores holds all storage implementations.
type allStores struct {
	journal     storage.ContributionJournal
	receipts    storage.ClaimReceiptStore
	completions storage.QuestCompletionStore
	replicas    storage.PoolReplicaStore
	audit       storage.PoolAuditStore
}

// app wires the ledger client, stores and components for one command.
type app struct {
	cfg    *config.Config
	sess   *session.Session
	log    *slog.Logger
	client *ledger.HTTPClient
	stores *allStores

	refresher    *replica.Refresher
	contribution *contribution.Protocol
	claims       *claim.Lifecycle
	quests       *quest.Tracker
}

func newApp(ctx context.Context, cfg *config.Config, sess *session.Session, log *slog.Logger) (*app, func(), error) {
	stores, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	opts := []ledger.ClientOption{ledger.WithTimeout(cfg.RPCTimeout)}
	if cfg.RPCRateLimit > 0 {
		opts = append(opts, ledger.WithRateLimit(cfg.RPCRateLimit, cfg.RPCBurst))
	}
	if p, err := sess.Principal(); err == nil {
		opts = append(opts, ledger.WithCaller(p))
	}
	client := ledger.NewHTTPClient(cfg.LedgerRPCEndpoint, opts...)

	refresher := replica.NewRefresher(replica.Config{
		Pools:    client,
		Replicas: stores.replicas,
		Audit:    stores.audit,
		Logger:   log.With("component", "replica"),
	})

	var feeMargin *big.Int
	if cfg.FeeMarginE8s > 0 {
		feeMargin = new(big.Int).SetUint64(cfg.FeeMarginE8s)
	}

	a := &app{
		cfg:       cfg,
		sess:      sess,
		log:       log,
		client:    client,
		stores:    stores,
		refresher: refresher,
		contribution: contribution.New(contribution.Config{
			Ledger:          client,
			Pools:           client,
			Refresher:       refresher,
			Journal:         stores.journal,
			Spender:         domain.Principal(cfg.PoolServicePrincipal),
			SettlementDelay: cfg.SettlementDelay,
			FundPolicy:      cfg.FundRetryPolicy(),
			FeeMargin:       feeMargin,
			Logger:          log.With("component", "contribution"),
		}),
		claims: claim.New(claim.Config{
			Service:  client,
			Receipts: stores.receipts,
			Logger:   log.With("component", "claim"),
		}),
		quests: quest.NewTracker(quest.Config{
			Service:     client,
			Completions: stores.completions,
			Logger:      log.With("component", "quest"),
		}),
	}
	return a, cleanup, nil
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (*allStores, func(), error) {
	if cfg.UseMemory {
		stores := &allStores{
			journal:     memory.NewContributionJournal(),
			receipts:    memory.NewClaimReceiptStore(),
			completions: memory.NewQuestCompletionStore(),
			replicas:    memory.NewPoolReplicaStore(),
			audit:       memory.NewPoolAuditStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	for _, name := range applied {
		log.Info("applied postgres migration", "name", name)
	}

	stores := &allStores{
		journal:     pgstore.NewContributionJournal(pool),
		receipts:    pgstore.NewClaimReceiptStore(pool),
		completions: pgstore.NewQuestCompletionStore(pool),
		replicas:    pgstore.NewPoolReplicaStore(pool),
		audit:       memory.NewPoolAuditStore(),
	}
	cleanup := func() { pool.Close() }

	// ClickHouse is optional: pool snapshots stay in memory without it.
	if cfg.ClickhouseDSN != "" {
		chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		stores.audit = chstore.NewPoolAuditStore(chConn)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// startHTTPServer serves /health and /metrics until ctx is done.
func (a *app) startHTTPServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.log.Info("starting metrics server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error("metrics server failed", "error", err)
	}
}
