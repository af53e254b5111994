package engine_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmslake/internal/engine"
	"cmslake/internal/lake"
	"cmslake/internal/testutil"
)

func TestRemoteExists_UsesRangedGet(t *testing.T) {
	ctx := context.Background()
	proxy := testutil.NewFakeSigningProxy(t)
	proxy.PutObject("cms/data/entries.parquet", []byte("PAR1 data"))

	m := engine.NewManager(engine.Options{HTTPClient: proxy.Client(), IDs: lake.UUIDGenerator{}})
	t.Cleanup(func() { m.Close() })
	conn, err := m.Connection(ctx)
	require.NoError(t, err)

	assert.True(t, conn.RemoteExists(ctx, proxy.URL()+"/objects/cms/data/entries.parquet?op=GET&sig=1"))
	assert.False(t, conn.RemoteExists(ctx, proxy.URL()+"/objects/missing.parquet?op=GET&sig=2"))
	assert.Equal(t, 0, proxy.Calls("object:"+http.MethodHead))

	data, err := conn.ReadRemote(ctx, proxy.URL()+"/objects/cms/data/entries.parquet?op=GET&sig=3")
	require.NoError(t, err)
	assert.Equal(t, []byte("PAR1 data"), data)

	_, err = conn.ReadRemote(ctx, proxy.URL()+"/objects/missing.parquet?op=GET&sig=4")
	var nf *lake.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, proxy.URL()+"/objects/missing.parquet", nf.ID)

	// without force_download the reader falls back to HEAD, which signed
	// GET URLs refuse
	conn.Set(engine.SettingForceDownload, "false")
	assert.False(t, conn.RemoteExists(ctx, proxy.URL()+"/objects/cms/data/entries.parquet?op=GET&sig=5"))
	assert.Equal(t, 1, proxy.Calls("object:"+http.MethodHead))
}
