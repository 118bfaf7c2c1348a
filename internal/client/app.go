// Package client assembles the field client: local database, sync engine
// and background loops.
package client

import (
	"context"
	"database/sql"

	"github.com/mkarpova/fieldsync/internal/cache"
	"github.com/mkarpova/fieldsync/internal/catalog"
	"github.com/mkarpova/fieldsync/internal/config"
	"github.com/mkarpova/fieldsync/internal/engine"
	"github.com/mkarpova/fieldsync/internal/logging"
	"github.com/mkarpova/fieldsync/internal/reconcile"
	"github.com/mkarpova/fieldsync/internal/remote"
	"github.com/mkarpova/fieldsync/internal/store"
	"github.com/mkarpova/fieldsync/internal/syncer"
)

// App owns the wired components and their background loops.
type App struct {
	cfg *config.Config
	db  *sql.DB
	log logging.Logger

	Engine *engine.Engine

	sync *syncer.Syncer
	inv  *cache.Invalidator
	bc   *cache.BinaryCache
}

// NewApp opens the database, migrates it, repairs interrupted state and
// wires every component. The catalogue supplies the question templates the
// session works against.
func NewApp(ctx context.Context, cfg *config.Config, cat catalog.Catalogue, category string, log logging.Logger) (*App, error) {
	db, err := InitDatabase(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	st := store.New(db, log)
	if err := st.Recover(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	templates, err := cat.ListTemplates(ctx, category)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rm := remote.NewHTTPStore(cfg.RemoteBaseURL)
	bc := cache.NewBinaryCache(rm, log)
	inv := cache.NewInvalidator(bc, cfg.DebounceWindow, cfg.CooldownWindow, log)
	rec := reconcile.New(st, bc, log)
	sc := syncer.New(st, rm, rec, cfg.WorkerCount, cfg.MaxAttempts, log)
	eng := engine.New(st, sc, rec, rm, bc, inv, templates, cfg.ServiceID, log)
	if err := eng.Restore(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		cfg:    cfg,
		db:     db,
		log:    log.With("component", "app"),
		Engine: eng,
		sync:   sc,
		inv:    inv,
		bc:     bc,
	}, nil
}

// Run starts the background loops and blocks until ctx is done. The initial
// snapshot and cache warm-up run best-effort; the session works offline
// until connectivity returns.
func (a *App) Run(ctx context.Context) {
	go a.inv.Run(ctx)
	go a.sync.Run(ctx, a.cfg.DrainInterval)

	if err := a.bc.Preload(ctx, a.cfg.ServiceID); err != nil {
		a.log.Warn(ctx, "cache preload failed", "error", err)
	}
	if err := a.Engine.ApplyRemoteSnapshot(ctx); err != nil {
		a.log.Warn(ctx, "initial snapshot failed", "error", err)
	}
	a.sync.Kick()

	<-ctx.Done()
}

// Close releases the database.
func (a *App) Close() error {
	return a.db.Close()
}
