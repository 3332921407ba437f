package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fieldgate/backend/internal/api"
	"github.com/fieldgate/backend/internal/auth"
	"github.com/fieldgate/backend/internal/config"
	"github.com/fieldgate/backend/internal/events"
	"github.com/fieldgate/backend/internal/health"
	"github.com/fieldgate/backend/internal/idle"
	"github.com/fieldgate/backend/internal/logger"
	"github.com/fieldgate/backend/internal/metrics"
	authmw "github.com/fieldgate/backend/internal/middleware"
	"github.com/fieldgate/backend/internal/observability"
	"github.com/fieldgate/backend/internal/otp"
	"github.com/fieldgate/backend/internal/repository"
	"github.com/fieldgate/backend/internal/sanitizer"
	"github.com/fieldgate/backend/internal/security"
	"github.com/fieldgate/backend/internal/sse"
	"github.com/fieldgate/backend/internal/storage"
)

// Version is set at build time
var Version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if cfg.Session.Secret == "" {
		log.Error("SESSION_SECRET environment variable is required")
		os.Exit(1)
	}

	if err := observability.InitSentry(cfg.Sentry.DSN, cfg.Env, Version); err != nil {
		log.Warn("sentry disabled", slog.String("error", err.Error()))
	}
	defer observability.FlushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Record store
	var (
		users  repository.UserRepository
		fields repository.FieldRepository
		checks []health.Check
		dbPool *pgxpool.Pool
	)
	switch cfg.Accounts.StoreDriver {
	case "postgres":
		pool, err := setupDatabase(ctx, cfg, log)
		if err != nil {
			log.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		dbPool = pool

		sqlDB := stdlib.OpenDBFromPool(pool)
		defer sqlDB.Close()

		users = repository.NewUserRepository(pool)
		fields = repository.NewFieldRepo(sqlx.NewDb(sqlDB, "pgx"))
		checks = append(checks, health.Check{Name: "database", Pinger: pool})

		go metrics.NewDBStatsCollector(metrics.PoolStatsSource(pool, sqlDB), log).Run(ctx, 15*time.Second)
	case "memory":
		store := repository.NewMemoryStore()
		users, fields = store.Users(), store.Fields()
		log.Warn("using in-memory record store; accounts are lost on restart")
	default:
		log.Error("unknown STORE_DRIVER", slog.String("driver", cfg.Accounts.StoreDriver))
		os.Exit(1)
	}

	// Browser-side session storage
	var sessions storage.Store
	switch cfg.Session.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		sessions = storage.NewRedisStore(client, cfg.Redis.Prefix)
	case "memory":
		sessions = storage.NewMemoryStore()
	default:
		log.Error("unknown SESSION_DRIVER", slog.String("driver", cfg.Session.Driver))
		os.Exit(1)
	}
	checks = append(checks, health.Check{Name: "sessions", Pinger: sessions})

	var otpProvider otp.Provider
	switch cfg.OTP.Provider {
	case "local":
		otpProvider = otp.NewLocalProvider(otp.LocalConfig{
			Issuer: cfg.Session.Issuer,
			Period: cfg.OTP.Period,
		}, nil, log)
	default:
		otpProvider = otp.NewRemoteProvider(otp.RemoteConfig{
			BaseURL:      cfg.OTP.BaseURL,
			Organization: cfg.OTP.Organization,
			Subject:      cfg.OTP.Subject,
			Timeout:      cfg.OTP.Timeout,
		}, log)
	}

	// Security
	limiter := security.NewRateLimiter(cfg.Security.RateLimitMax, cfg.Security.RateLimitWindow)
	monitor := security.NewMonitor(security.MonitorConfig{
		MaxFailedAttempts: cfg.Security.LockoutThreshold,
		BlockDuration:     cfg.Security.LockoutWindow,
		CleanupInterval:   cfg.Security.LockoutSweep,
		ActivityCapacity:  cfg.Security.ActivityCapacity,
	}, log)
	httpLimiter := security.NewRateLimiter(cfg.Security.HTTPRateLimit, cfg.Security.RateLimitWindow)
	go httpLimiter.Run(ctx, cfg.Security.RateLimitSweep)

	hasher := auth.NewPasswordHasher(cfg.Security.BcryptCost)

	// Session events for open browser tabs
	eventStore := events.NewEventStore(1000)
	go eventStore.Run(ctx, time.Minute, cfg.Session.TTL)
	eventBus := events.NewEventBus(eventStore, log)

	sys := auth.NewSystem(auth.Config{
		SessionTTL:     cfg.Session.TTL,
		RememberShort:  cfg.Session.RememberShort,
		RememberLong:   cfg.Session.RememberLong,
		VerifyCacheTTL: cfg.Session.VerifyCacheTTL,
		LockoutWindow:  cfg.Security.LockoutWindow,
		Idle: idle.Config{
			Timeout:       cfg.Idle.Timeout,
			CheckInterval: cfg.Idle.CheckInterval,
			HiddenPenalty: cfg.Idle.HiddenPenalty,
			Throttle:      cfg.Idle.Throttle,
		},
		DefaultPassword: cfg.Accounts.DefaultPassword,
		ReadyAttempts:   cfg.Init.MaxAttempts,
		ReadyDelay:      cfg.Init.RetryDelay,
		SweepInterval:   cfg.Security.RateLimitSweep,
	}, auth.Deps{
		Users:       users,
		Fields:      fields,
		Sessions:    sessions,
		Limiter:     limiter,
		Monitor:     monitor,
		Hasher:      hasher,
		OTP:         otpProvider,
		Sanitizer:   sanitizer.NewTextSanitizer(),
		Logger:      log,
		ReportError: observability.ReportError,
		Events:      events.NewSessionNotifier(eventBus, log),
	})
	sys.Start(ctx, bootstrap(cfg, log, users, hasher, checks))
	defer sys.Close()

	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		Secret: cfg.Session.Secret,
		Expiry: cfg.Session.TTL,
		Issuer: cfg.Session.Issuer,
	})

	healthHandler := health.NewHandler(health.Config{
		Checks: checks,
		Auth: func() (bool, string) {
			state := sys.State()
			return state == auth.StateReady, state.String()
		},
		Version: Version,
	})

	handlers := api.Handlers{
		Auth:   api.NewAuthHandler(tokenService, log),
		Fields: api.NewFieldHandler(log),
		Admin:  api.NewAdminHandler(log),
	}
	authMiddleware := authmw.NewAuthMiddleware(tokenService, sys)

	sseConfig := sse.DefaultConfig()
	streams := sse.NewConnectionManager(sseConfig)
	go streams.Run(ctx, time.Minute)
	sseHandler := sse.NewHandler(sseConfig, streams, eventBus, tokenService, log)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authmw.NewLoggingMiddleware(log).Handler)
	r.Use(observability.RecoverMiddleware(log))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", authmw.HeaderSessionToken, authmw.HeaderScreenSize, authmw.HeaderTimeZone},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.NewRemoteRateLimiter(httpLimiter, cfg.Security.HTTPRateLimit).Handler)

		// event streams are long-lived and stay outside the request timeout
		sse.RegisterRoutes(r, sseHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			api.RegisterRoutes(r, handlers, authMiddleware.Authenticate)
		})
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(streams.CloseAll)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server",
			slog.String("addr", addr),
			slog.String("store", cfg.Accounts.StoreDriver),
			slog.String("sessions", cfg.Session.Driver),
			slog.String("otp", cfg.OTP.Provider),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error("server failed", slog.String("error", err.Error()))
		observability.ReportError(err)
	}

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}
	if dbPool != nil {
		log.Info("closing database pool", slog.Int("total_conns", int(dbPool.Stat().TotalConns())))
	}

	log.Info("server exited")
}

// bootstrap checks that every backend answers and provisions the configured
// administrator account when it does not exist yet.
func bootstrap(cfg *config.Config, log *slog.Logger, users repository.UserRepository, hasher *auth.PasswordHasher, checks []health.Check) auth.BootstrapFunc {
	return func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		for _, c := range checks {
			if err := c.Pinger.Ping(pingCtx); err != nil {
				return fmt.Errorf("%s unavailable: %w", c.Name, err)
			}
		}

		username := strings.ToLower(strings.TrimSpace(cfg.Accounts.AdminUsername))
		if username == "" {
			return nil
		}

		_, err := users.GetByUsername(ctx, username)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("look up admin account: %w", err)
		}
		if len(cfg.Accounts.AdminPassword) < auth.MinPasswordLength {
			return fmt.Errorf("ADMIN_PASSWORD must be at least %d characters", auth.MinPasswordLength)
		}

		hash, err := hasher.Hash(cfg.Accounts.AdminPassword)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}

		active := true
		admin := &repository.User{
			Username:     username,
			PasswordHash: hash,
			Name:         username,
			Role:         repository.RoleAdmin,
			IsActive:     true,
			Status:       &active,
			CreatedBy:    "system",
		}
		if email := strings.TrimSpace(cfg.Accounts.AdminEmail); email != "" {
			admin.Email = &email
		}

		if err := users.Create(ctx, admin); err != nil && !errors.Is(err, repository.ErrUserAlreadyExists) {
			return fmt.Errorf("create admin account: %w", err)
		}
		log.Info("admin account provisioned", slog.String("username", username))
		return nil
	}
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := metrics.PingDatabase(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database",
		slog.String("database", cfg.Database.DBName),
		slog.String("host", cfg.Database.Host),
		slog.String("port", cfg.Database.Port),
	)
	return pool, nil
}
