package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tilegate/internal/archive"
	"tilegate/internal/cache"
	"tilegate/internal/tileset_reader"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeHandle struct {
	info archive.Info

	mu        sync.Mutex
	gridCalls int
}

func (h *fakeHandle) GetInfo(ctx context.Context) (archive.Info, error) {
	return h.info.Clone(), nil
}

func (h *fakeHandle) GetTile(ctx context.Context, z, x, y int) (*archive.Payload, error) {
	switch {
	case z == 2 && x == 1 && y == 1:
		return &archive.Payload{
			Data: []byte("tile-bytes"),
			Headers: map[string]string{
				"Content-Type":  "image/png",
				"ETag":          `"abc"`,
				"Last-Modified": "Mon, 02 Jan 2006 15:04:05 GMT",
			},
		}, nil
	case z == 9:
		return nil, errors.New("database disk image is malformed")
	default:
		return nil, &archive.NotFoundError{Message: "Tile does not exist"}
	}
}

func (h *fakeHandle) GetGrid(ctx context.Context, z, x, y int) (*archive.Payload, error) {
	h.mu.Lock()
	h.gridCalls++
	h.mu.Unlock()
	return nil, &archive.NotFoundError{Message: "Grid does not exist"}
}

func (h *fakeHandle) Close() error { return nil }

// fakeSource resolves ids the way the handle cache does.
type fakeSource map[string]archive.Handle

func (s fakeSource) Acquire(ctx context.Context, id string) (archive.Handle, error) {
	h, ok := s[id]
	if !ok {
		return nil, &cache.UnknownTilesetError{ID: id}
	}
	return h, nil
}

type fakeCatalog []string

func (c fakeCatalog) IDs() []string { return c }

func worldInfo() archive.Info {
	return archive.Info{
		ID:      "world",
		Name:    "World",
		Format:  "png",
		Scheme:  "tms",
		MaxZoom: 4,
		Tiles:   []string{},
	}
}

func newTestRouter(t *testing.T, handle *fakeHandle) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	reader := tileset_reader.New(fakeSource{"world": handle}, zap.NewNop())
	h := New(reader, fakeCatalog{"roads", "world"}, "", logger)
	return NewRouter(h, false), logs
}

func serve(r http.Handler, method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error
}

func TestUnknownTileset(t *testing.T) {
	r, _ := newTestRouter(t, &fakeHandle{info: worldInfo()})

	for _, target := range []string{"/nowhere", "/nowhere.json", "/nowhere/0/0/0.png", "/nowhere/0/0/0.json"} {
		w := serve(r, http.MethodGet, target)
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.Equal(t, `tileset "nowhere" not found`, decodeError(t, w), target)
	}
}

func TestInvalidCoordinates(t *testing.T) {
	r, _ := newTestRouter(t, &fakeHandle{info: worldInfo()})

	w := serve(r, http.MethodGet, "/world/abc/0/0.png")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, `invalid z coordinate "abc"`, decodeError(t, w))

	w = serve(r, http.MethodGet, "/world/0/0/0.gif")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTileCopiesHeaders(t *testing.T) {
	r, _ := newTestRouter(t, &fakeHandle{info: worldInfo()})

	w := serve(r, http.MethodGet, "/world/2/1/1.png")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tile-bytes", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, `"abc"`, w.Header().Get("ETag"))
	assert.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", w.Header().Get("Last-Modified"))
	assert.Equal(t, "10", w.Header().Get("Content-Length"))
}

func TestTileHead(t *testing.T) {
	r, _ := newTestRouter(t, &fakeHandle{info: worldInfo()})

	w := serve(r, http.MethodHead, "/world/2/1/1.png")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.Bytes())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "10", w.Header().Get("Content-Length"))
}

func TestMissingTile(t *testing.T) {
	r, _ := newTestRouter(t, &fakeHandle{info: worldInfo()})

	w := serve(r, http.MethodGet, "/world/3/0/0.png")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Tile does not exist", decodeError(t, w))
}

func TestGridAttemptedWithoutTemplate(t *testing.T) {
	handle := &fakeHandle{info: worldInfo()}
	r, _ := newTestRouter(t, handle)

	w := serve(r, http.MethodGet, "/world/1/0/0.json")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Grid does not exist", decodeError(t, w))
	assert.Equal(t, 1, handle.gridCalls)
}

func TestArchiveFailureIsLogged(t *testing.T) {
	r, logs := newTestRouter(t, &fakeHandle{info: worldInfo()})

	w := serve(r, http.MethodGet, "/world/9/0/0.png", requestIDHeader, "req-42")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "database disk image is malformed", decodeError(t, w))
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))

	failures := logs.FilterMessage("Request failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	assert.Equal(t, "req-42", failures[0].ContextMap()["request_id"])
}

func TestInfoJSON(t *testing.T) {
	handle := &fakeHandle{info: worldInfo()}
	r, _ := newTestRouter(t, handle)

	for i := 0; i < 2; i++ {
		for _, target := range []string{"/world", "/world.json"} {
			w := serve(r, http.MethodGet, target)
			require.Equal(t, http.StatusOK, w.Code, target)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

			var info archive.Info
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
			assert.Equal(t, "world", info.ID)
			assert.Equal(t, "xyz", info.Scheme)
			assert.Equal(t, []string{"/world/{z}/{x}/{y}.png"}, info.Tiles)
			assert.Nil(t, info.Grids)
		}
	}

	assert.Equal(t, "tms", handle.info.Scheme)
	assert.Empty(t, handle.info.Tiles)
}

func TestInfoNegotiation(t *testing.T) {
	info := worldInfo()
	info.Template = "{{name}}"
	r, _ := newTestRouter(t, &fakeHandle{info: info})

	browser := "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

	w := serve(r, http.MethodGet, "/world", "Accept", browser)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<h1>World</h1>")
	assert.Contains(t, w.Body.String(), "/world/{z}/{x}/{y}.json")

	w = serve(r, http.MethodGet, "/world.json", "Accept", browser)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	w = serve(r, http.MethodGet, "/world", "Accept", "application/json")
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestList(t *testing.T) {
	r, _ := newTestRouter(t, &fakeHandle{info: worldInfo()})

	w := serve(r, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"tilesets":["roads","world"]}`, w.Body.String())
}

func TestFixedRoutes(t *testing.T) {
	r, _ := newTestRouter(t, &fakeHandle{info: worldInfo()})

	w := serve(r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = serve(r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tilegate_tilesets")

	w = serve(r, http.MethodGet, "/world/0/0")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", decodeError(t, w))
}

func TestCORS(t *testing.T) {
	r, _ := newTestRouter(t, &fakeHandle{info: worldInfo()})

	w := serve(r, http.MethodGet, "/world")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/world", "Origin", "http://example.com")
	assert.Equal(t, "http://example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodOptions, "/world/2/1/1.png", "Origin", "http://elsewhere.test")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{&ValidationError{Message: "bad"}, http.StatusBadRequest, "bad"},
		{&cache.UnknownTilesetError{ID: "x"}, http.StatusNotFound, `tileset "x" not found`},
		{&archive.NotFoundError{Message: "Tile does not exist"}, http.StatusNotFound, "Tile does not exist"},
		{archive.ErrNotFound, http.StatusNotFound, archive.ErrNotFound.Error()},
		{errors.New("boom"), http.StatusInternalServerError, "boom"},
	}

	for _, tc := range cases {
		status, message := Classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.message, message)
	}
}
