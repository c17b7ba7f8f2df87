package mbtiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"tilegate/internal/archive"
)

// Extension is the file extension of MBTiles archives.
const Extension = ".mbtiles"

// Archive is a read-only MBTiles file.
type Archive struct {
	path    string
	db      *sql.DB
	info    archive.Info
	modTime time.Time
	etag    string
	logger  *zap.Logger
}

var _ archive.Handle = (*Archive)(nil)

// NewOpener returns an archive.Opener backed by Open.
func NewOpener(logger *zap.Logger) archive.Opener {
	return func(ctx context.Context, path string) (archive.Handle, error) {
		return Open(ctx, path, logger)
	}
}

// Open opens the archive at path read-only and loads its metadata.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Archive, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	if !stat.Mode().IsRegular() {
		return nil, fmt.Errorf("archive is not a regular file: %s", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve archive path: %w", err)
	}
	dsn := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	a := &Archive{
		path:    path,
		db:      db,
		modTime: stat.ModTime().UTC().Truncate(time.Second),
		etag:    fmt.Sprintf(`"%d-%d"`, stat.Size(), stat.ModTime().Unix()),
		logger:  logger,
	}

	info, err := a.loadInfo(ctx, stat)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.info = info

	logger.Info("Opened archive",
		zap.String("path", path),
		zap.String("id", info.ID),
		zap.Int("minzoom", info.MinZoom),
		zap.Int("maxzoom", info.MaxZoom),
	)

	return a, nil
}

// Path returns the filesystem path of the archive.
func (a *Archive) Path() string {
	return a.path
}

func (a *Archive) GetInfo(ctx context.Context) (archive.Info, error) {
	return a.info.Clone(), nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) loadInfo(ctx context.Context, stat os.FileInfo) (archive.Info, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return archive.Info{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var name, value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return archive.Info{}, fmt.Errorf("failed to read metadata: %w", err)
		}
		if name.Valid {
			meta[name.String] = value.String
		}
	}
	if err := rows.Err(); err != nil {
		return archive.Info{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	base := filepath.Base(a.path)
	info := archive.Info{
		ID:          strings.TrimSuffix(base, filepath.Ext(base)),
		Basename:    base,
		Filesize:    stat.Size(),
		Name:        meta["name"],
		Description: meta["description"],
		Version:     meta["version"],
		Attribution: meta["attribution"],
		Legend:      meta["legend"],
		Template:    meta["template"],
		Type:        meta["type"],
		Format:      meta["format"],
		Scheme:      "tms",
		Tiles:       []string{},
	}

	if raw, ok := meta["json"]; ok {
		var extra struct {
			VectorLayers json.RawMessage `json:"vector_layers"`
		}
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			a.logger.Warn("Ignoring malformed json metadata", zap.String("path", a.path), zap.Error(err))
		} else {
			info.VectorLayers = extra.VectorLayers
		}
	}

	minZoom, hasMin := parseInt(meta["minzoom"])
	maxZoom, hasMax := parseInt(meta["maxzoom"])
	if !hasMin || !hasMax {
		var lo, hi sql.NullInt64
		err := a.db.QueryRowContext(ctx, `SELECT MIN(zoom_level), MAX(zoom_level) FROM tiles`).Scan(&lo, &hi)
		if err != nil {
			return archive.Info{}, fmt.Errorf("failed to read zoom range: %w", err)
		}
		if !hasMin {
			minZoom = int(lo.Int64)
		}
		if !hasMax {
			maxZoom = int(hi.Int64)
		}
	}
	info.MinZoom = minZoom
	info.MaxZoom = maxZoom

	if bounds, ok := parseFloats(meta["bounds"], 4); ok {
		info.Bounds = bounds
	}

	if center, ok := parseFloats(meta["center"], 3); ok {
		info.Center = center
	} else if info.Bounds != nil {
		info.Center = []float64{
			(info.Bounds[0] + info.Bounds[2]) / 2,
			(info.Bounds[1] + info.Bounds[3]) / 2,
			float64(minZoom + (maxZoom-minZoom)/2),
		}
	}

	return info, nil
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloats(s string, n int) ([]float64, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
