package main

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/blog-platform/internal/platform/analytics"
	"github.com/example/blog-platform/internal/platform/auth"
	"github.com/example/blog-platform/internal/platform/db"
	"github.com/example/blog-platform/internal/platform/httpserver"
	"github.com/example/blog-platform/internal/platform/logging"
	"github.com/example/blog-platform/internal/platform/natsconn"
	"github.com/example/blog-platform/internal/platform/run"
	"github.com/example/blog-platform/services/engagement/internal/cache"
	"github.com/example/blog-platform/services/engagement/internal/config"
	"github.com/example/blog-platform/services/engagement/internal/engagement"
	"github.com/example/blog-platform/services/engagement/internal/handlers"
	"github.com/example/blog-platform/services/engagement/internal/store"
	"github.com/example/blog-platform/services/engagement/internal/worker"
)

const streamMaxAge = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	st, closePool := initStore(cfg, log)
	if closePool != nil {
		defer closePool()
	}

	deps := engagement.Deps{
		Store:    st,
		Sessions: engagement.NewSessions(engagement.SessionLogCapacity, engagement.DefaultMaxSessions),
		Log:      log,
	}

	statsCache, closeRedis := initCache(cfg, log)
	if statsCache != nil {
		deps.Cache = statsCache
		defer closeRedis()
	}

	// NATS is optional: without it events are dropped and the posts
	// projection is only fed through the admin API.
	var js nats.JetStreamContext
	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName})
	if err != nil {
		log.Warn("nats unavailable, events disabled", zap.Error(err))
	} else {
		defer nc.Close()
		js, err = nc.JetStream()
		if err != nil {
			log.Warn("jetstream unavailable, events disabled", zap.Error(err))
			js = nil
		}
	}
	if js != nil {
		if err := natsconn.EnsureStream(js, analytics.StreamName, analytics.Subjects, streamMaxAge); err != nil {
			log.Warn("ensure events stream", zap.Error(err))
		}
		if err := natsconn.EnsureStream(js, worker.PostsStream, []string{worker.PostsSubjects}, streamMaxAge); err != nil {
			log.Warn("ensure posts stream", zap.Error(err))
		}
		deps.Events = analytics.New(js, log)
	}

	svc := engagement.New(deps)

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		Logger: log,
		ReadyFunc: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return st.Ping(ctx)
		},
	})

	var limiter *handlers.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = handlers.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	handlers.Mount(r, handlers.Deps{
		Service:  svc,
		Verifier: auth.JWTVerifier{Secret: cfg.JWTSecret},
		Limiter:  limiter,
		Log:      log,
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	// gRPC carries health checks only.
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error("grpc listen", zap.Error(err))
		run.Exit(1)
	}
	grpcSrv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, hs)
	reflection.Register(grpcSrv)
	go func() {
		log.Info("grpc server starting", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc serve", zap.Error(err))
		}
	}()

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if js != nil {
			if err := worker.NewPostsConsumer(svc, log).Start(ctx, js); err != nil {
				log.Error("posts consumer", zap.Error(err))
			}
		}
		go worker.NewReconciler(svc, cfg.ReconcileInterval, log).Start(ctx)

		go func() {
			<-ctx.Done()
			hs.Shutdown()
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(run.DefaultShutdownTimeout):
				grpcSrv.Stop()
			}
			runner.Graceful(run.DefaultShutdownTimeout, srv.Shutdown)
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initStore selects the Store backend. In production it requires a working
// Postgres connection and terminates the process otherwise.
func initStore(cfg config.EngagementConfig, log *zap.Logger) (store.Store, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store (development only)")
		return store.NewInMemoryStore(), nil
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL, store.Migrations, store.MigrationsDir); err != nil {
			fatalOrFallback(cfg, log, "migrations failed", err)
			return store.NewInMemoryStore(), nil
		}
		log.Info("migrations applied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.OpenDSN(ctx, cfg.DatabaseURL)
	if err != nil {
		fatalOrFallback(cfg, log, "postgres unavailable", err)
		return store.NewInMemoryStore(), nil
	}

	log.Info("engagement store: postgres")
	return store.NewPostgresStore(pool), pool.Close
}

func fatalOrFallback(cfg config.EngagementConfig, log *zap.Logger, msg string, err error) {
	if cfg.Production {
		log.Error(msg+" in production", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Warn(msg+", falling back to in-memory store", zap.Error(err))
}

// initCache wires the Redis stats cache. A missing or unreachable Redis
// leaves stats uncached.
func initCache(cfg config.EngagementConfig, log *zap.Logger) (*cache.StatsCache, func()) {
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL not set, stats cache disabled")
		return nil, nil
	}
	cb := cache.NewBreaker("redis-stats", cache.BreakerSettings{
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
	}, log)
	rc, err := cache.NewRedisCache(cfg.RedisURL, cfg.StatsCacheTTL, cb)
	if err != nil {
		log.Warn("invalid REDIS_URL, stats cache disabled", zap.Error(err))
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		log.Warn("redis ping failed, cache will recover through the breaker", zap.Error(err))
	}
	return cache.NewStatsCache(rc, log), func() { _ = rc.Close() }
}
