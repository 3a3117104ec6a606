package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BradenHooton/ledgerguard/internal/auth"
	"github.com/BradenHooton/ledgerguard/internal/background"
	"github.com/BradenHooton/ledgerguard/internal/config"
	"github.com/BradenHooton/ledgerguard/internal/database"
	"github.com/BradenHooton/ledgerguard/internal/events"
	"github.com/BradenHooton/ledgerguard/internal/handlers"
	"github.com/BradenHooton/ledgerguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/ledgerguard/internal/middleware"
	"github.com/BradenHooton/ledgerguard/internal/models"
	"github.com/BradenHooton/ledgerguard/internal/ratelimit"
	"github.com/BradenHooton/ledgerguard/internal/repositories"
	"github.com/BradenHooton/ledgerguard/internal/routes"
	"github.com/BradenHooton/ledgerguard/internal/services"
	pkgauth "github.com/BradenHooton/ledgerguard/pkg/auth"
	"github.com/BradenHooton/ledgerguard/pkg/clock"
	pkghttp "github.com/BradenHooton/ledgerguard/pkg/http"
	pkglogger "github.com/BradenHooton/ledgerguard/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := pkglogger.New(os.Stdout, cfg.Server.LogLevel, cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx := context.Background()

	// Initialize database
	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := database.MigrateDSN(migrateCtx, cfg.Database.DSN())
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := metrics.RegisterPoolStats(prometheus.DefaultRegisterer, db.Pool); err != nil {
		logger.Warn("failed to register pool metrics", slog.Any("error", err))
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	verificationRepo := repositories.NewEmailVerificationRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Login attempt counters
	var limiter ratelimit.Limiter
	rdb, err := database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, "ledgerguard:login:")
	} else {
		limiter = ratelimit.NewMemoryLimiter(clock.System())
	}

	// Account events
	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.Events.RabbitMQURL != "" {
		rabbit, err := events.NewRabbitMQPublisher(cfg.Events.RabbitMQURL, cfg.Events.Exchange)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", slog.Any("error", err))
			os.Exit(1)
		}
		publisher = rabbit
	}
	defer publisher.Close()

	// Outbound email
	var emailService services.EmailService = services.NewLogEmailService(cfg.Email.AppBaseURL, logger)
	if cfg.Email.Enabled {
		ses, err := services.NewAWSSESEmailService(ctx, cfg.Email.AWSRegion, cfg.Email.FromName, cfg.Email.FromAddress, cfg.Email.AppBaseURL, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		emailService = ses
	}

	// Token and CSRF managers
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.SessionExpiry,
	)
	tokenManager.SetUserRepo(userRepo)

	csrfManager := auth.NewCSRFTokenManager(2*time.Hour, nil)
	defer csrfManager.Stop()

	hasher := pkgauth.NewBcryptHasher(pkgauth.DefaultBcryptCost)
	auditLogger := pkglogger.NewAuditLogger(logger)
	auditService := services.NewAuditService(auditRepo, logger)

	// Initialize services
	verificationService := services.NewEmailVerificationService(
		verificationRepo,
		userRepo,
		emailService,
		auditService,
		nil,
		logger,
		cfg.Auth.EmailVerificationExpiry,
		cfg.Auth.TokenResendCooldown,
	)
	resetService := services.NewPasswordResetService(
		resetRepo,
		userRepo,
		hasher,
		emailService,
		auditService,
		nil,
		logger,
		cfg.Auth.PasswordResetExpiry,
		cfg.Auth.TokenResendCooldown,
	)
	authService := services.NewAuthService(
		userRepo,
		revokeRepo,
		tokenManager,
		hasher,
		verificationService,
		auditService,
		auditLogger,
		nil,
		logger,
	)
	adminService := services.NewAccountAdminService(userRepo, publisher, auditService, auditLogger, logger)

	guard, err := services.NewAccessGuard(services.AccessGuardDeps{
		Accounts: userRepo,
		Limiter:  limiter,
		Hasher:   hasher,
		Sessions: tokenManager,
		Revoker:  revokeRepo,
		Delay:    auth.NewTimingDelay(auth.DefaultTimingConfig()),
		Audit:    auditService,
		AuditLog: auditLogger,
		Events:   publisher,
		Mailer:   emailService,
		Logger:   logger,
	}, services.AccessGuardConfig{
		MaxFailedAttempts:    cfg.Auth.MaxFailedLoginAttempts,
		LockoutDuration:      cfg.Auth.AccountLockoutDuration,
		RateLimitMaxAttempts: cfg.Auth.LoginRateLimitMaxAttempts,
		RateLimitWindow:      cfg.Auth.LoginRateLimitWindow,
		RequireVerifiedEmail: cfg.Auth.RequireVerifiedEmailLogin,
	})
	if err != nil {
		logger.Error("failed to initialize access guard", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	cookies := auth.CookieConfigForEnv(cfg.Server.Env)
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)

	authHandler := handlers.NewAuthHandler(guard, authService, verificationService, resetService, csrfManager, cookies, ipConfig, logger)
	userHandler := handlers.NewUserHandler(adminService)
	auditHandler := handlers.NewAuditHandler(auditService)

	statusGuard := &auth.StatusGuard{
		Users:    userRepo,
		Tokens:   tokenManager,
		Revoker:  revokeRepo,
		CSRF:     csrfManager,
		Cookies:  cookies,
		Logger:   logger,
		OnDenied: metrics.RecordStatusDenial,
	}

	// Bootstrap first admin user if configured
	bootstrapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, userRepo, hasher, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(metrics.Middleware)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:   authHandler,
		UserHandler:   userHandler,
		AuditHandler:  auditHandler,
		TokenManager:  tokenManager,
		Revocations:   revokeRepo,
		Users:         userRepo,
		StatusGuard:   statusGuard,
		CSRF:          csrfManager,
		IPConfig:      ipConfig,
		AuthRateLimit: cfg.Server.AuthRateLimit,
		Logger:        logger,
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(background.CleanupConfig{
		RevokedTokens:      revokeRepo,
		VerificationTokens: verificationRepo,
		ResetTokens:        resetRepo,
		AuditLogs:          auditRepo,
		AuditRetentionDays: cfg.Auth.AuditRetentionDays,
		Interval:           cfg.Auth.CleanupInterval,
	}, logger)

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Lockout notices and in-flight audit writes finish before the pool closes
	guard.Wait()
	auditService.Wait()

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin account when ADMIN_EMAIL and
// ADMIN_PASSWORD are set and no account with that address exists.
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, hasher pkgauth.Hasher, email, password string, logger *slog.Logger) error {
	if email == "" || password == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}
	email = pkgauth.NormalizeEmail(email)

	_, err := userRepo.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}

	hashedPassword, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	_, err = userRepo.Create(ctx, &models.User{
		Email:             email,
		PasswordHash:      hashedPassword,
		Name:              "Admin",
		Role:              "admin",
		Status:            models.AccountStatusActive,
		EmailVerifiedAt:   &now,
		PasswordChangedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created", slog.String("email", pkglogger.SanitizedEmail(email)))
	return nil
}
