package engine

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmslake/internal/lake"
	"cmslake/internal/metrics"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.IDs == nil {
		opts.IDs = lake.UUIDGenerator{}
	}
	m := NewManager(opts)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestInit_ConcurrentCallersShareOneInstance(t *testing.T) {
	m := newTestManager(t, Options{})
	var opened atomic.Int32
	real := m.open
	m.open = func(ctx context.Context) (*Instance, error) {
		opened.Add(1)
		time.Sleep(20 * time.Millisecond)
		return real(ctx)
	}

	const callers = 8
	got := make([]*Instance, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := m.Init(context.Background())
			if err != nil {
				t.Errorf("Init() error = %v", err)
				return
			}
			got[i] = inst
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	for _, inst := range got {
		assert.Same(t, got[0], inst)
	}
	assert.True(t, m.IsReady())
	assert.Equal(t, Variant, got[0].Variant)
}

func TestInit_FailureLeavesNoInstance(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newTestManager(t, Options{Metrics: metrics.NewRecorder(reg)})
	real := m.open
	fail := true
	m.open = func(ctx context.Context) (*Instance, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return real(ctx)
	}

	_, err := m.Init(context.Background())
	var lcErr *lake.LifecycleError
	require.ErrorAs(t, err, &lcErr)
	assert.Equal(t, "init", lcErr.Op)
	assert.False(t, m.IsReady())

	fail = false
	inst, err := m.Init(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, inst)
}

func TestInit_CallerCancellationDoesNotAbortSharedInit(t *testing.T) {
	m := newTestManager(t, Options{})
	release := make(chan struct{})
	real := m.open
	m.open = func(ctx context.Context) (*Instance, error) {
		<-release
		return real(ctx)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.Init(ctx)
		errc <- err
	}()
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	inst, err := m.Init(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, inst)
}

func TestConnection_AttachesCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		m := newTestManager(t, Options{})
		conn, err := m.Connection(ctx)
		require.NoError(t, err)
		assert.True(t, m.HasActiveConnection())
		assert.Equal(t, "true", conn.Setting(SettingForceDownload))

		err = conn.Do(ctx, func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, "CREATE TABLE lake.scratch (id TEXT)")
			return err
		})
		require.NoError(t, err)

		again, err := m.Connection(ctx)
		require.NoError(t, err)
		assert.Same(t, conn, again)
	})

	t.Run("sqlite file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "catalog.db")
		m := newTestManager(t, Options{CatalogType: CatalogSQLite, CatalogPath: path})
		conn, err := m.Connection(ctx)
		require.NoError(t, err)
		assert.Equal(t, path, conn.Catalog())
		assert.FileExists(t, path)
	})
}

func TestClose(t *testing.T) {
	ctx := context.Background()

	t.Run("never initialized", func(t *testing.T) {
		m := NewManager(Options{})
		require.NoError(t, m.Close())
		require.NoError(t, m.Close())
	})

	t.Run("resets state and allows restart", func(t *testing.T) {
		m := newTestManager(t, Options{})
		conn, err := m.Connection(ctx)
		require.NoError(t, err)
		first := conn.InstanceID()

		require.NoError(t, m.Close())
		assert.False(t, m.IsReady())
		assert.False(t, m.HasActiveConnection())

		err = conn.Do(ctx, func(*sql.DB) error { return nil })
		var lcErr *lake.LifecycleError
		require.ErrorAs(t, err, &lcErr)

		conn, err = m.Connection(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, first, conn.InstanceID())
	})
}

func TestWorker_RunsInSubmissionOrderAndRecovers(t *testing.T) {
	w := newWorker(4)
	defer w.stop()
	ctx := context.Background()

	var order []int
	for i := range 5 {
		require.NoError(t, w.submit(ctx, func() error {
			order = append(order, i)
			return nil
		}))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)

	err := w.submit(ctx, func() error { panic("bad statement") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	require.NoError(t, w.submit(ctx, func() error { return nil }))

	w.stop()
	assert.ErrorIs(t, w.submit(ctx, func() error { return nil }), errWorkerStopped)
}
