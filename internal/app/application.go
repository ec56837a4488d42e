package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/R3E-Network/issuance_ledger/internal/app/auth"
	"github.com/R3E-Network/issuance_ledger/internal/app/domain/item"
	"github.com/R3E-Network/issuance_ledger/internal/app/lock"
	"github.com/R3E-Network/issuance_ledger/internal/app/rail"
	"github.com/R3E-Network/issuance_ledger/internal/app/services/issuance"
	"github.com/R3E-Network/issuance_ledger/internal/app/services/windows"
	"github.com/R3E-Network/issuance_ledger/internal/app/storage"
	"github.com/R3E-Network/issuance_ledger/internal/app/storage/memory"
	"github.com/R3E-Network/issuance_ledger/internal/app/system"
	"github.com/R3E-Network/issuance_ledger/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Catalog  storage.CatalogStore
	Holdings storage.HoldingStore
}

// Options carries the collaborators of the issuance engine. Zero values
// select in-process defaults.
type Options struct {
	Rail           rail.PaymentRail
	Authorizer     auth.Authorizer
	Locker         lock.Locker
	Clock          func() time.Time
	WindowSchedule string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Issuance *issuance.Service
	Windows  *windows.Watcher
	Rail     rail.PaymentRail
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	if stores.Catalog == nil {
		stores.Catalog = memory.New()
	}
	if stores.Holdings == nil {
		// Credits are written through the catalog transaction, so balances
		// are read back from the same store.
		holdings, ok := stores.Catalog.(storage.HoldingStore)
		if !ok {
			return nil, errors.New("catalog store does not expose balances; a holdings store is required")
		}
		stores.Holdings = holdings
	}
	if opts.Rail == nil {
		log.Warn("no payment rail configured; using in-memory rail")
		opts.Rail = rail.NewMemory()
	}
	if opts.Authorizer == nil {
		log.Warn("no authority policy configured; privileged operations are disabled")
	}

	svcOpts := []issuance.Option{issuance.WithLocker(opts.Locker)}
	if opts.Clock != nil {
		svcOpts = append(svcOpts, issuance.WithClock(opts.Clock))
	}
	issuanceService := issuance.New(stores.Catalog, stores.Holdings, opts.Rail, opts.Authorizer, log.Named("issuance"), svcOpts...)

	watcher := windows.NewWatcher(issuanceService, opts.WindowSchedule, log.Named("sale-windows"))
	if opts.Clock != nil {
		watcher.WithClock(opts.Clock)
	}

	manager := system.NewManager()
	for _, svc := range []system.Service{
		issuanceService,
		watcher,
	} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Issuance: issuanceService,
		Windows:  watcher,
		Rail:     opts.Rail,
	}, nil
}

// Seed launches specs on behalf of caller when the catalog is empty. It
// returns how many items were launched.
func (a *Application) Seed(ctx context.Context, caller string, specs []item.Spec) (int, error) {
	if len(specs) == 0 {
		return 0, nil
	}
	existing, err := a.Issuance.Items(ctx)
	if err != nil {
		return 0, fmt.Errorf("list catalog: %w", err)
	}
	if len(existing) > 0 {
		a.log.WithField("items", len(existing)).Info("catalog already populated; skipping seed")
		return 0, nil
	}
	for i, spec := range specs {
		if _, err := a.Issuance.Launch(ctx, caller, spec); err != nil {
			return i, fmt.Errorf("seed item %q: %w", spec.DisplayName, err)
		}
	}
	a.log.WithField("items", len(specs)).Info("catalog seeded")
	return len(specs), nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
