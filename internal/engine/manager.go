// Package engine owns the embedded SQL engine: one lazily created instance
// per process, a single connection onto it, and the worker goroutine every
// statement runs on.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cmslake/internal/lake"
	"cmslake/internal/metrics"
)

// Catalog types.
const (
	CatalogMemory = "memory"
	CatalogSQLite = "sqlite"
)

// Options configures a Manager.
type Options struct {
	// CatalogType is "memory" or "sqlite".
	CatalogType string
	// CatalogPath is the catalog file for the sqlite catalog.
	CatalogPath string
	// QueueSize bounds how many statements may wait for the worker.
	QueueSize  int
	HTTPClient *http.Client
	Logger     lake.Logger
	Metrics    *metrics.Recorder
	IDs        lake.IDGenerator
}

// Instance is a running engine.
type Instance struct {
	ID        string
	Variant   string
	StartedAt time.Time

	db     *sql.DB
	worker *worker
}

// Manager creates the engine on first use and hands out its connection.
// Concurrent Init calls share one initialization.
type Manager struct {
	opts   Options
	logger lake.Logger
	group  singleflight.Group

	// open builds a new instance; tests replace it.
	open func(ctx context.Context) (*Instance, error)

	mu               sync.Mutex
	instance         *Instance
	conn             *Conn
	extensionsLoaded bool
}

// NewManager creates a manager. Nothing is started until Init or Connection.
func NewManager(opts Options) *Manager {
	if opts.CatalogType == "" {
		opts.CatalogType = CatalogMemory
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = lake.NewNopLogger()
	}
	if opts.IDs == nil {
		opts.IDs = lake.UUIDGenerator{}
	}
	m := &Manager{opts: opts, logger: opts.Logger}
	m.open = m.openInstance
	return m
}

// Init returns the engine instance, creating it on the first call. Callers
// arriving while initialization is in flight wait for the same result. A
// failed initialization leaves no instance behind, so the next call retries.
func (m *Manager) Init(ctx context.Context) (*Instance, error) {
	m.mu.Lock()
	if inst := m.instance; inst != nil {
		m.mu.Unlock()
		return inst, nil
	}
	m.mu.Unlock()

	// the shared initialization must not die with whichever caller started it
	initCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan("init", func() (any, error) {
		m.mu.Lock()
		if inst := m.instance; inst != nil {
			m.mu.Unlock()
			return inst, nil
		}
		m.mu.Unlock()

		inst, err := m.open(initCtx)
		m.opts.Metrics.IncEngineInit(err == nil)
		if err != nil {
			m.logger.Error("engine initialization failed", "error", err)
			return nil, &lake.LifecycleError{Op: "init", Err: err}
		}

		m.mu.Lock()
		m.instance = inst
		m.mu.Unlock()
		m.logger.Info("engine initialized", "instance", inst.ID, "variant", inst.Variant)
		return inst, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Instance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) openInstance(ctx context.Context) (*Instance, error) {
	db, err := sql.Open(DriverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening %s engine: %w", Variant, err)
	}
	// the in-memory main database lives and dies with its one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	w := newWorker(m.opts.QueueSize)
	if err := w.submit(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		w.stop()
		db.Close()
		return nil, fmt.Errorf("starting %s engine: %w", Variant, err)
	}
	return &Instance{
		ID:        m.opts.IDs.New(),
		Variant:   Variant,
		StartedAt: time.Now(),
		db:        db,
		worker:    w,
	}, nil
}

// Connection returns the single connection onto the engine, initializing
// the engine and loading the required extensions as needed.
func (m *Manager) Connection(ctx context.Context) (*Conn, error) {
	inst, err := m.Init(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return m.conn, nil
	}
	if m.instance != inst {
		return nil, &lake.LifecycleError{Op: "connect", Err: errors.New("engine was closed during connect")}
	}

	conn := &Conn{
		inst:     inst,
		client:   m.opts.HTTPClient,
		settings: make(map[string]string),
		catalog:  catalogDSN(m.opts, inst.ID),
	}
	if !m.extensionsLoaded {
		for _, ext := range requiredExtensions {
			if err := ext.load(ctx, conn); err != nil {
				return nil, &lake.LifecycleError{Op: "connect", Err: fmt.Errorf("loading %s extension: %w", ext.name, err)}
			}
			m.logger.Debug("extension loaded", "extension", ext.name)
		}
		m.extensionsLoaded = true
	}
	// signed URLs only grant GET, so remote reads must never check with HEAD
	conn.Set(SettingForceDownload, "true")

	m.conn = conn
	return conn, nil
}

// IsReady reports whether an engine instance exists.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance != nil
}

// HasActiveConnection reports whether a connection has been handed out and
// not closed.
func (m *Manager) HasActiveConnection() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Close tears the engine down. Each step runs even when an earlier one
// failed; the first failure is returned. Closing an engine that was never
// started is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	inst, conn := m.instance, m.conn
	m.instance, m.conn = nil, nil
	m.mu.Unlock()

	if inst == nil && conn == nil {
		return nil
	}

	var firstErr error
	step := func(name string, fn func() error) {
		defer func() {
			if p := recover(); p != nil {
				m.logger.Error("engine shutdown step panicked", "step", name, "panic", p)
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: panic: %v", name, p)
				}
			}
		}()
		if err := fn(); err != nil {
			m.logger.Error("engine shutdown step failed", "step", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
		}
	}

	step("close connection", func() error {
		if conn == nil {
			return nil
		}
		return conn.close()
	})
	step("terminate engine", func() error {
		if inst == nil {
			return nil
		}
		return inst.db.Close()
	})
	step("stop worker", func() error {
		if inst == nil {
			return nil
		}
		inst.worker.stop()
		return nil
	})
	step("reset extensions", func() error {
		m.mu.Lock()
		m.extensionsLoaded = false
		m.mu.Unlock()
		return nil
	})

	if firstErr != nil {
		return &lake.LifecycleError{Op: "close", Err: firstErr}
	}
	m.logger.Info("engine closed")
	return nil
}
