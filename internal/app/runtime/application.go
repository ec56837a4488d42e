// Package runtime assembles ledgerd from configuration: stores, the
// serialization lock, the payment rail, the HTTP API and its server.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	app "github.com/R3E-Network/issuance_ledger/internal/app"
	"github.com/R3E-Network/issuance_ledger/internal/app/auth"
	"github.com/R3E-Network/issuance_ledger/internal/app/httpapi"
	"github.com/R3E-Network/issuance_ledger/internal/app/lock"
	"github.com/R3E-Network/issuance_ledger/internal/app/rail"
	"github.com/R3E-Network/issuance_ledger/internal/app/storage/postgres"
	"github.com/R3E-Network/issuance_ledger/internal/config"
	"github.com/R3E-Network/issuance_ledger/internal/platform/migrations"
	"github.com/R3E-Network/issuance_ledger/pkg/logger"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	handler    http.Handler
	httpServer *http.Server
	db         *sql.DB
	redis      *redis.Client
}

// NewApplication constructs ledgerd from cfg.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	log := logger.New(cfg.Logging.Logger("ledgerd"))
	a := &Application{cfg: cfg, log: log}

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if cfg.Database.Migrate {
			if err := migrations.Apply(context.Background(), db); err != nil {
				a.close()
				return nil, err
			}
		}
		store := postgres.NewFromDB(db)
		stores.Catalog, stores.Holdings = store, store
	} else {
		log.Warn("DATABASE_DSN not set; catalog state is kept in memory and lost on restart")
	}

	opts := app.Options{
		Authorizer:     cfg.Auth.Authorizer(),
		WindowSchedule: cfg.Catalog.WindowSchedule,
	}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts.Locker = lock.NewRedis(a.redis, cfg.Redis.LockPrefix, lock.WithTTL(cfg.Redis.LockTTL))
	}
	if endpoint := strings.TrimSpace(cfg.Rail.Endpoint); endpoint != "" {
		client := &http.Client{Timeout: cfg.Rail.Timeout}
		httpRail, err := rail.NewHTTPRail(client, endpoint, cfg.Rail.APIKey, log.Named("payment-rail"))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("configure payment rail: %w", err)
		}
		opts.Rail = httpRail
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.app = application

	if cfg.Auth.JWTSecret == "" {
		log.Warn("LEDGER_JWT_SECRET not set; every mutating request will be rejected")
	}
	handler, err := httpapi.Wrap(application, httpapi.Config{
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		AuditSize: cfg.Server.AuditSize,
		AuditPath: cfg.Server.AuditPath,

		AllowedOrigins: auth.ParseCSVSet(cfg.Server.CORSOrigins),
	}, log.Named("httpapi"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.handler = handler
	a.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// App exposes the composed application.
func (a *Application) App() *app.Application { return a.app }

// Handler exposes the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler { return a.handler }

// Seed applies the configured catalog seed, if any.
func (a *Application) Seed(ctx context.Context) error {
	path := strings.TrimSpace(a.cfg.Catalog.SeedPath)
	if path == "" {
		return nil
	}
	seed, err := config.LoadCatalogSeed(path)
	if err != nil {
		return err
	}
	specs, err := seed.Specs()
	if err != nil {
		return err
	}

	caller := a.cfg.Auth.SeedCaller()
	settings, err := a.app.Issuance.Settings(ctx)
	if err != nil {
		return err
	}
	if seed.MetadataBase != "" && settings.MetadataBase == "" {
		if err := a.app.Issuance.SetMetadataBase(ctx, caller, seed.MetadataBase); err != nil {
			return fmt.Errorf("seed metadata base: %w", err)
		}
	}
	if seed.PaymentCurrency != "" && settings.PaymentCurrency == "" {
		if err := a.app.Issuance.SetPaymentCurrency(ctx, caller, seed.PaymentCurrency); err != nil {
			return fmt.Errorf("seed payment currency: %w", err)
		}
	}
	_, err = a.app.Seed(ctx, caller, specs)
	return err
}

// Run seeds the catalog, starts background services and serves HTTP until
// ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Seed(ctx); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, background services and
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	a.close()
	return errors.Join(errs...)
}

func (a *Application) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
