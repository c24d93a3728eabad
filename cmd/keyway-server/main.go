package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/keyway/internal/config"
	"github.com/BrandonDHaskell/keyway/internal/db"
	"github.com/BrandonDHaskell/keyway/internal/httpapi"
	"github.com/BrandonDHaskell/keyway/internal/keyway/actuator"
	"github.com/BrandonDHaskell/keyway/internal/keyway/limiter"
	"github.com/BrandonDHaskell/keyway/internal/keyway/metrics"
	"github.com/BrandonDHaskell/keyway/internal/keyway/otp"
	"github.com/BrandonDHaskell/keyway/internal/keyway/policy"
	"github.com/BrandonDHaskell/keyway/internal/keyway/render"
	"github.com/BrandonDHaskell/keyway/internal/keyway/service"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store/memory"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store/rediscache"
	"github.com/BrandonDHaskell/keyway/internal/keyway/store/sqlite"
	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

type stores struct {
	resources store.ResourceStore
	creds     store.CredentialStore
	audit     store.AuditStore
	close     func()
}

func main() {
	logger := log.New(os.Stdout, "keyway-server ", log.LstdFlags|log.LUTC)

	flags := config.NewFlags("keyway-server")
	if err := flags.Parse(os.Args[1:]); err != nil {
		logger.Fatalf("flags: %v", err)
	}
	cfg, err := config.Load(flags.ConfigPath())
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	flags.Apply(&cfg)
	if err := cfg.Normalize(); err != nil {
		logger.Fatalf("config: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store: %v", err)
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Redis is optional: without it the resource cache and unlock limiter are off.
	var unlockLimiter *limiter.UnlockLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		st.resources = rediscache.NewResourceStore(st.resources, rdb, cfg.ResourceCacheTTL, logger)
		unlockLimiter = limiter.New(rdb, cfg.UnlockMaxFailures, cfg.UnlockCooldown)
		logger.Printf("redis enabled (cache ttl=%s, unlock limit=%d/%s)", cfg.ResourceCacheTTL, cfg.UnlockMaxFailures, cfg.UnlockCooldown)
	}

	var act actuator.Actuator
	if cfg.ActuatorAddr != "" {
		client, err := actuator.Dial(cfg.ActuatorAddr)
		if err != nil {
			logger.Fatalf("actuator: %v", err)
		}
		defer client.Close()
		act = client
		logger.Printf("actuator: lock service at %s", cfg.ActuatorAddr)
	} else {
		act = actuator.NewSimulated(cfg.SimLatency, cfg.SimSuccessRate)
		logger.Printf("actuator: simulated (latency=%s, success=%.2f)", cfg.SimLatency, cfg.SimSuccessRate)
	}

	// Services
	pol := policy.NewTimeWindow(loc)
	audit := service.NewAuditLogger(st.audit, service.AuditLoggerConfig{}, logger, m)
	defer audit.Close()

	issuer := service.NewIssuer(st.resources, st.creds, audit, pol, render.NewQR(cfg.QRSize), m)
	engine := service.NewRedemptionEngine(st.resources, st.creds, audit, pol, act,
		service.EngineConfig{ActuatorTimeout: cfg.ActuatorTimeout}, logger, m)

	sweeper := service.NewExpirySweeper(st.creds, audit, service.SweeperConfig{Interval: cfg.SweepInterval}, logger, m)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   logger,
		Addr:     cfg.HTTPAddr,
		Issuer:   issuer,
		Engine:   engine,
		Audit:    audit,
		Auth:     httpapi.NewAuthenticator(cfg.JWTSecret),
		Limiter:  unlockLimiter,
		Metrics:  m,
		Gatherer: reg,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("listening on %s (env=%s, store=%s)", cfg.HTTPAddr, cfg.Env, cfg.Store)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Printf("server error: %v", err)
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *log.Logger) (*stores, error) {
	if cfg.Store == "memory" {
		rs := memory.NewResourceStore()
		if cfg.SeedDev {
			if err := seedMemory(ctx, rs); err != nil {
				return nil, err
			}
			logger.Printf("seeded dev resource %s", db.DevResourceID)
		}
		return &stores{
			resources: rs,
			creds:     memory.NewCredentialStore(),
			audit:     memory.NewAuditStore(),
			close:     func() {},
		}, nil
	}

	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, err
	}
	if cfg.SeedDev && cfg.Env == "dev" {
		if err := seedSQLite(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
		logger.Printf("seeded dev resource %s", db.DevResourceID)
	}

	writer := db.NewWorker(sqlDB)
	return &stores{
		resources: sqlite.NewResourceStore(sqlDB, writer),
		creds:     sqlite.NewCredentialStore(sqlDB, writer),
		audit:     sqlite.NewAuditStore(sqlDB, writer),
		close: func() {
			writer.Close()
			sqlDB.Close()
		},
	}, nil
}

func seedSQLite(ctx context.Context, sqlDB *sql.DB) error {
	secret, err := otp.GenerateSecret()
	if err != nil {
		return err
	}
	return db.SeedDev(ctx, sqlDB, db.SeedDevOptions{OTPSecret: secret})
}

func seedMemory(ctx context.Context, rs *memory.ResourceStore) error {
	secret, err := otp.GenerateSecret()
	if err != nil {
		return err
	}
	return rs.PutResource(ctx, types.Resource{
		ID:                 db.DevResourceID,
		Name:               "Demo Storage Unit",
		Address:            "Dev",
		LockID:             "lock-demo-001",
		Active:             true,
		MaxDurationMinutes: 240,
		OTPSecret:          secret,
	})
}
