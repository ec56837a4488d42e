// Package windows watches item sale windows on a cron schedule, publishing
// which windows are open and logging open/close transitions.
package windows

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/issuance_ledger/internal/app/domain/item"
	"github.com/R3E-Network/issuance_ledger/internal/app/metrics"
	"github.com/R3E-Network/issuance_ledger/internal/app/system"
	"github.com/R3E-Network/issuance_ledger/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule sweeps every fifteen seconds.
const DefaultSchedule = "@every 15s"

// Catalog lists the items to watch.
type Catalog interface {
	Items(ctx context.Context) ([]item.Item, error)
}

// Watcher is a lifecycle-managed sweep over the catalog.
type Watcher struct {
	catalog  Catalog
	schedule string
	now      func() time.Time
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	open    map[uint64]bool
}

var _ system.Service = (*Watcher)(nil)

// NewWatcher builds a watcher. An empty schedule uses DefaultSchedule.
func NewWatcher(catalog Catalog, schedule string, log *logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewDefault("sale-windows")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Watcher{
		catalog:  catalog,
		schedule: schedule,
		now:      time.Now,
		log:      log,
		open:     make(map[uint64]bool),
	}
}

// WithClock overrides the time source.
func (w *Watcher) WithClock(now func() time.Time) *Watcher {
	if now != nil {
		w.now = now
	}
	return w
}

func (w *Watcher) Name() string { return "sale-windows" }

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() { w.Sweep(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("sale window schedule %q: %w", w.schedule, err)
	}
	w.cron = c
	w.cancel = cancel
	w.running = true
	c.Start()

	go w.Sweep(runCtx)
	w.log.WithField("schedule", w.schedule).Info("sale window watcher started")
	return nil
}

func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	c, cancel := w.cron, w.cancel
	w.running = false
	w.cron = nil
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Sweep evaluates every launched item against the current time.
func (w *Watcher) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.RecordWindowSweep(time.Since(start)) }()

	items, err := w.catalog.Items(ctx)
	if err != nil {
		w.log.WithError(err).Warn("list items for sale window sweep failed")
		return
	}

	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, it := range items {
		if !it.Exists() {
			continue
		}
		open := it.InWindow(now)
		metrics.SetSaleWindow(it.ID, open)

		was, seen := w.open[it.ID]
		w.open[it.ID] = open
		if seen && was == open {
			continue
		}
		entry := w.log.WithField("item_id", it.ID).WithField("display_name", it.DisplayName)
		switch {
		case open:
			entry.WithField("end_mint_time", it.EndMintTime).Info("sale window open")
		case seen:
			entry.Info("sale window closed")
		}
	}
}

// OpenItems returns the identifiers whose window was open at the last sweep.
func (w *Watcher) OpenItems() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ids []uint64
	for id, open := range w.open {
		if open {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
