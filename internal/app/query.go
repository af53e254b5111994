package app

import (
	"context"
	"time"

	"cmslake/internal/credentials"
	"cmslake/internal/database"
	"cmslake/internal/engine"
	"cmslake/internal/lake"
	"cmslake/internal/watch"
)

// Stats summarizes the local tables, the URL cache and the staging queue.
type Stats struct {
	Tables        *database.TableStats
	Cache         credentials.CacheState
	StagedChanges int
	StagedBytes   int64
	EngineVariant string
	EngineID      string
	User          *credentials.User
}

// synced returns the connection, pulling the published snapshots first when
// this App has not pulled yet.
func (a *App) synced(ctx context.Context) (*engine.Conn, error) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	if !a.pulled {
		if _, err := a.pull(ctx); err != nil {
			return nil, err
		}
	}
	return a.connect(ctx)
}

// Entries returns every entry of the published repository.
func (a *App) Entries(ctx context.Context) ([]*lake.Entry, error) {
	if _, err := a.synced(ctx); err != nil {
		return nil, err
	}
	return a.entries.FetchAll(ctx)
}

// Entry returns the entry with the given base id, every locale included.
func (a *App) Entry(ctx context.Context, entryID string) (*lake.Entry, error) {
	if _, err := a.synced(ctx); err != nil {
		return nil, err
	}
	return a.entries.FetchByID(ctx, entryID)
}

// Assets returns the metadata of every asset of the published repository.
func (a *App) Assets(ctx context.Context) ([]*lake.Asset, error) {
	if _, err := a.synced(ctx); err != nil {
		return nil, err
	}
	return a.assets.FetchAll(ctx)
}

// Stats reports the local state without pulling.
func (a *App) Stats(ctx context.Context) (*Stats, error) {
	a.syncMu.Lock()
	conn, err := a.connect(ctx)
	a.syncMu.Unlock()
	if err != nil {
		return nil, err
	}

	tables, err := a.schema.TableStats(ctx, conn)
	if err != nil {
		return nil, err
	}
	inst, err := a.engine.Init(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Tables:        tables,
		Cache:         a.cache.State(ctx),
		EngineVariant: inst.Variant,
		EngineID:      inst.ID,
		User:          a.user,
	}
	if st.StagedChanges, err = a.staging.Count(); err != nil {
		return nil, err
	}
	if st.StagedBytes, err = a.staging.Size(); err != nil {
		return nil, err
	}
	return st, nil
}

// InitSchema creates the lake namespace and both tables if they are missing.
func (a *App) InitSchema(ctx context.Context) error {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	_, err := a.connect(ctx)
	return err
}

// CreateIndices adds the lookup indices to both tables.
func (a *App) CreateIndices(ctx context.Context) error {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	return a.schema.CreateIndices(ctx, conn)
}

// DropSchema drops both local tables. Published snapshots are untouched; the
// next pull recreates the tables.
func (a *App) DropSchema(ctx context.Context) error {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	conn, err := a.engine.Connection(ctx)
	if err != nil {
		return err
	}
	if err := a.schema.DropSchema(ctx, conn); err != nil {
		return err
	}
	a.schemaReady, a.pulled = false, false
	return nil
}

// Watch stages changes under the content root as they happen and commits the
// queue every interval until ctx is cancelled. An empty metricsListen falls
// back to the configured listen address.
func (a *App) Watch(ctx context.Context, interval time.Duration, metricsListen string) error {
	if a.scanner == nil {
		return &lake.ConfigError{Field: "content.root", Message: "no content root configured"}
	}
	if metricsListen == "" {
		metricsListen = a.cfg.Metrics.Listen
	}
	w, err := watch.NewWatcher(a.scanner, a, watch.Options{
		Interval:      interval,
		MetricsListen: metricsListen,
		Logger:        a.logger,
		Metrics:       a.metrics,
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
