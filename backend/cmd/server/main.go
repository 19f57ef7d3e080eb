// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/ciphindex/backend/chain"
	"github.com/efchatnet/ciphindex/backend/config"
	"github.com/efchatnet/ciphindex/backend/handlers"
	"github.com/efchatnet/ciphindex/backend/indexer"
	"github.com/efchatnet/ciphindex/backend/integration"
	"github.com/efchatnet/ciphindex/backend/logging"
	"github.com/efchatnet/ciphindex/backend/metrics"
	"github.com/efchatnet/ciphindex/backend/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logging.NewJSON(os.Stdout, slog.LevelInfo)
	if err := run(log); err != nil {
		log.Error(context.Background(), "server failed", "error", err)
		os.Exit(1)
	}
}

func run(log logging.Logger) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	icfg := &integration.Config{
		Settings: integration.Settings{
			SupportAddress:       cfg.SupportAddress,
			StrictSenderBinding:  cfg.StrictSenderBinding,
			AcceptMissingPayload: cfg.AcceptMissingPayload,
			RequestTimeout:       cfg.RequestTimeout,
			ReconcileInterval:    cfg.ReconcileInterval,
			TrackedAddresses:     cfg.TrackedAddresses,
			JWTSecret:            cfg.JWTSecret,
			JWTIssuer:            cfg.JWTIssuer,
		},
		Logger:  log,
		Metrics: m,
		Chains: chain.Networks{
			Mainnet: chain.NewREST(cfg.ChainMainnetURL, cfg.RequestTimeout),
			Testnet: chain.NewREST(cfg.ChainTestnetURL, cfg.RequestTimeout),
		},
	}

	// Database connection
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		defer rdb.Close()

		icfg.DB = db
		icfg.Redis = rdb
	} else {
		log.Warn(ctx, "DATABASE_URL not set, state is kept in memory only")
	}

	if cfg.IndexerMainnetURL != "" {
		icfg.Remote = indexer.New(indexer.Config{
			MainnetURL: cfg.IndexerMainnetURL,
			TestnetURL: cfg.IndexerTestnetURL,
			Timeout:    cfg.RequestTimeout,
			Limit:      cfg.RemoteLimit,
		}, log, m)
	}

	ix, err := integration.NewIndexer(icfg)
	if err != nil {
		return err
	}
	if err := ix.Warm(ctx); err != nil {
		return err
	}

	r := mux.NewRouter()
	r.Use(middleware.NewCORS(cfg.CORSOrigins))
	ix.RegisterRoutes(r, nil)

	// Health check (no auth required)
	r.HandleFunc("/health", handlers.Health(ix.Ping)).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ix.Start(ctx)
	defer ix.Stop()

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "indexer server starting", "port", cfg.Port, "issuer", cfg.JWTIssuer)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
