// Package mbtilestest builds small MBTiles archives for tests.
package mbtilestest

import (
	"bytes"
	"database/sql"
	"embed"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

//go:embed migrations
var migrations embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

type Archive struct {
	t    testing.TB
	path string
	db   *sql.DB
}

// Create writes an empty archive named name+".mbtiles" into dir.
func Create(t testing.TB, dir, name string) *Archive {
	t.Helper()

	path := filepath.Join(dir, name+".mbtiles")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)

	a := &Archive{t: t, path: path, db: db}
	a.migrate("migrations/base")
	t.Cleanup(a.Close)

	return a
}

func (a *Archive) migrate(dir string) {
	a.t.Helper()

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	require.NoError(a.t, goose.SetDialect("sqlite3"))
	require.NoError(a.t, goose.Up(a.db, dir))
}

func (a *Archive) Path() string {
	return a.path
}

func (a *Archive) SetMetadata(name, value string) *Archive {
	a.t.Helper()
	_, err := a.db.Exec(`INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)`, name, value)
	require.NoError(a.t, err)
	return a
}

// PutTile stores data at the XYZ coordinate z/x/y.
func (a *Archive) PutTile(z, x, y int, data []byte) *Archive {
	a.t.Helper()
	_, err := a.db.Exec(
		`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`,
		z, x, flip(z, y), data,
	)
	require.NoError(a.t, err)
	return a
}

// WithGrids adds the interactivity grid tables.
func (a *Archive) WithGrids() *Archive {
	a.t.Helper()
	a.migrate("migrations/grids")
	return a
}

// PutGrid stores a zlib-compressed grid and its key data at z/x/y.
func (a *Archive) PutGrid(z, x, y int, grid string, data map[string]string) *Archive {
	a.t.Helper()

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write([]byte(grid))
	require.NoError(a.t, err)
	require.NoError(a.t, w.Close())

	_, err = a.db.Exec(
		`INSERT OR REPLACE INTO grids (zoom_level, tile_column, tile_row, grid) VALUES (?, ?, ?, ?)`,
		z, x, flip(z, y), buf.Bytes(),
	)
	require.NoError(a.t, err)

	for key, value := range data {
		_, err = a.db.Exec(
			`INSERT OR REPLACE INTO grid_data (zoom_level, tile_column, tile_row, key_name, key_json) VALUES (?, ?, ?, ?, ?)`,
			z, x, flip(z, y), key, value,
		)
		require.NoError(a.t, err)
	}
	return a
}

func (a *Archive) Close() {
	if a.db == nil {
		return
	}
	a.db.Close()
	a.db = nil
}

func flip(z, y int) int {
	return (1 << z) - 1 - y
}

// PNG returns bytes that sniff as a PNG image, made unique by seed.
func PNG(seed ...byte) []byte {
	out := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	return append(out, seed...)
}

// GzipPBF gzips payload the way vector tiles are stored.
func GzipPBF(t testing.TB, payload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}
