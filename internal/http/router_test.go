package http

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tilegate/internal/archive"
	"tilegate/internal/cache"
	"tilegate/internal/mbtiles"
	"tilegate/internal/mbtiles/mbtilestest"
	"tilegate/internal/tileset_list"
	"tilegate/internal/tileset_reader"
)

// newGateway serves every archive under root through the real scanner,
// handle cache and MBTiles reader.
func newGateway(t *testing.T, root string) http.Handler {
	t.Helper()
	logger := zap.NewNop()

	registry, err := tileset_list.New(root, mbtiles.Extension, logger).Scan()
	require.NoError(t, err)

	handles := cache.New(registry, mbtiles.NewOpener(logger), logger)
	t.Cleanup(func() { handles.Close() })

	h := New(tileset_reader.New(handles, logger), handles, "", logger)
	return NewRouter(h, false)
}

func TestGatewayServesArchive(t *testing.T) {
	root := t.TempDir()
	fixture := mbtilestest.Create(t, root, "world").
		SetMetadata("name", "World").
		SetMetadata("format", "png").
		SetMetadata("minzoom", "0").
		SetMetadata("maxzoom", "2").
		PutTile(2, 1, 1, mbtilestest.PNG(7))
	fixture.Close()

	r := newGateway(t, root)

	w := serve(r, http.MethodGet, "/world")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var info archive.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "world", info.ID)
	assert.Equal(t, "xyz", info.Scheme)
	assert.Equal(t, []string{"/world/{z}/{x}/{y}.png"}, info.Tiles)

	direct, err := mbtiles.Open(context.Background(), fixture.Path(), zap.NewNop())
	require.NoError(t, err)
	defer direct.Close()
	want, err := direct.GetTile(context.Background(), 2, 1, 1)
	require.NoError(t, err)

	w = serve(r, http.MethodGet, "/world/2/1/1.png")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, want.Data, w.Body.Bytes())
	for name, value := range want.Headers {
		assert.Equal(t, value, w.Header().Get(name), name)
	}

	w = serve(r, http.MethodGet, "/world/2/0/0.png")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(r, http.MethodGet, "/world/2/1/1.json")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Grid does not exist", decodeError(t, w))

	w = serve(r, http.MethodGet, "/")
	assert.JSONEq(t, `{"tilesets":["world"]}`, w.Body.String())
}

func TestGatewayServesGrids(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "nested")
	require.NoError(t, os.Mkdir(nested, 0o755))
	mbtilestest.Create(t, nested, "countries").
		SetMetadata("template", "{{NAME}}").
		WithGrids().
		PutGrid(1, 0, 0, `{"grid":[" !"],"keys":["","fr"]}`, map[string]string{"fr": `{"NAME":"France"}`}).
		Close()

	r := newGateway(t, root)

	w := serve(r, http.MethodGet, "/countries.json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var info archive.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, []string{"/countries/{z}/{x}/{y}.json"}, info.Grids)

	w = serve(r, http.MethodGet, "/countries/1/0/0.json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"grid":[" !"],"keys":["","fr"],"data":{"fr":{"NAME":"France"}}}`, w.Body.String())
}

func TestGatewayConcurrentFirstRequests(t *testing.T) {
	root := t.TempDir()
	mbtilestest.Create(t, root, "world").
		PutTile(0, 0, 0, mbtilestest.PNG(1)).
		Close()

	r := newGateway(t, root)

	var wg sync.WaitGroup
	codes := make([]int, 32)
	for i := range codes {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = serve(r, http.MethodGet, "/world/0/0/0.png").Code
		}()
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
}
