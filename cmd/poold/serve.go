package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"shieldpool/internal/api"
	"shieldpool/internal/config"
	"shieldpool/internal/events"
	"shieldpool/internal/logging"
	"shieldpool/internal/metrics"
	"shieldpool/internal/pool"
	"shieldpool/internal/proof"
	"shieldpool/internal/store/badgerstore"
	"shieldpool/internal/store/memstore"
	"shieldpool/internal/store/pgstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

// backend is the opened store plus what the daemon needs to manage it.
type backend struct {
	store  pool.Store
	funder pool.Funder
	ping   func(context.Context) error
	close  func() error
}

func openStore(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (*backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		st := memstore.New()
		return &backend{
			store:  st,
			funder: st,
			ping:   func(context.Context) error { return nil },
			close:  func() error { return nil },
		}, nil
	case config.DriverBadger:
		st, err := badgerstore.Open(badgerstore.Options{
			Dir:        cfg.BadgerDir,
			SyncWrites: cfg.SyncWrites,
			Logger:     log,
		})
		if err != nil {
			return nil, err
		}
		return &backend{
			store:  st,
			funder: st,
			ping:   func(context.Context) error { return st.Ping() },
			close:  st.Close,
		}, nil
	case config.DriverPostgres:
		st, err := pgstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return &backend{
			store:  st,
			funder: st,
			ping:   st.Ping,
			close:  st.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func loadVerifiers(cfg config.ProofConfig) (proof.Set, error) {
	var set proof.Set
	switch cfg.Backend {
	case config.ProofGroth16:
		var err error
		if set, _, err = proof.Groth16Set(cfg.KeyDir); err != nil {
			return proof.Set{}, fmt.Errorf("load groth16 keys: %w", err)
		}
	default:
		set = proof.DigestSet(cfg.MinLen)
	}
	if cfg.CacheSize > 0 {
		return proof.CacheSet(set, cfg.CacheSize)
	}
	return set, nil
}

// publishers builds the configured event sinks and registers their health
// checks. The returned closers run on shutdown.
func publishers(cfg config.EventsConfig, log zerolog.Logger, hc *api.HealthChecker) (events.Publisher, []io.Closer, error) {
	var (
		multi   events.Multi
		closers []io.Closer
	)
	if cfg.Log {
		multi = append(multi, events.NewLogPublisher(log))
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, rdb)
		multi = append(multi, events.NewRedisPublisher(rdb, cfg.RedisStream, events.WithMaxLen(cfg.RedisMaxLen)))
		hc.RegisterOptional("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(ctx).Err()
		})
	}
	if len(cfg.KafkaBrokers) > 0 {
		cl, err := events.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, closerFunc(func() error { cl.Close(); return nil }))
		multi = append(multi, events.NewKafkaPublisher(cl, cfg.KafkaTopic))
		hc.RegisterOptional("kafka", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return cl.Ping(ctx)
		})
	}
	if len(multi) == 0 {
		return events.Nop{}, closers, nil
	}
	return multi, closers, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func serve(ctx context.Context, cfg *config.Config) error {
	lopts := logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		JSON:       cfg.Log.JSON,
	}
	if cfg.Log.EnableAudit {
		lopts.AuditFile = cfg.Log.AuditLogPath
	}
	logs := logging.New(lopts)
	defer logs.Close()
	log := logs.Log

	be, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := be.close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	verifiers, err := loadVerifiers(cfg.Proof)
	if err != nil {
		return err
	}

	hc := api.NewHealthChecker(version)
	hc.RegisterComponent("store", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return be.ping(ctx)
	})

	pub, closers, err := publishers(cfg.Events, log, hc)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := pool.NewService(be.store, verifiers,
		pool.WithPublisher(pub),
		pool.WithMetrics(m),
		pool.WithLogger(log),
		pool.WithAuditLogger(logs.Audit),
	)

	opts := api.Options{
		Service:  svc,
		Health:   hc,
		Metrics:  m,
		Gatherer: reg,
		Logger:   log,
		Timeout:  time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}
	if cfg.Server.EnableFaucet {
		opts.Funder = be.funder
		log.Warn().Msg("faucet enabled; do not run this configuration in production")
	}
	if cfg.Server.RateBurst > 0 {
		opts.Limiter = api.NewCallerRateLimiter(cfg.Server.RateBurst, cfg.Server.RateRefill, time.Second)
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.NewServer(opts),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec+5) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("store", cfg.Store.Driver).
			Str("proof", cfg.Proof.Backend).
			Str("version", version).
			Msg("pool daemon listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
