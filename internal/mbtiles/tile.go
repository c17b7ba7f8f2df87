package mbtiles

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"tilegate/internal/archive"
)

var (
	errTileNotFound = &archive.NotFoundError{Message: "Tile does not exist"}
	errGridNotFound = &archive.NotFoundError{Message: "Grid does not exist"}
)

func (a *Archive) GetTile(ctx context.Context, z, x, y int) (*archive.Payload, error) {
	row, ok := tmsRow(z, x, y)
	if !ok {
		return nil, errTileNotFound
	}

	var data []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		z, x, row,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errTileNotFound
		}
		return nil, fmt.Errorf("failed to read tile %d/%d/%d: %w", z, x, y, err)
	}
	if len(data) == 0 {
		return nil, errTileNotFound
	}

	headers := a.baseHeaders()
	for k, v := range tileHeaders(data) {
		headers[k] = v
	}

	return &archive.Payload{Data: data, Headers: headers}, nil
}

func (a *Archive) baseHeaders() map[string]string {
	return map[string]string{
		"Last-Modified": a.modTime.Format(http.TimeFormat),
		"ETag":          a.etag,
	}
}

// tmsRow converts an XYZ row to the TMS row stored in the archive. It reports
// false for coordinates outside the zoom level.
func tmsRow(z, x, y int) (int, bool) {
	if z < 0 || z > 30 || x < 0 || y < 0 {
		return 0, false
	}
	size := 1 << z
	if x >= size || y >= size {
		return 0, false
	}
	return size - 1 - y, true
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	gifMagic  = []byte("GIF8")
	gzipMagic = []byte{0x1f, 0x8b}
	zlibMagic = []byte{0x78, 0x9c}
)

func tileHeaders(data []byte) map[string]string {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return map[string]string{"Content-Type": "image/png"}
	case bytes.HasPrefix(data, jpegMagic):
		return map[string]string{"Content-Type": "image/jpeg"}
	case bytes.HasPrefix(data, gifMagic):
		return map[string]string{"Content-Type": "image/gif"}
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return map[string]string{"Content-Type": "image/webp"}
	case bytes.HasPrefix(data, gzipMagic):
		return map[string]string{
			"Content-Type":     "application/x-protobuf",
			"Content-Encoding": "gzip",
		}
	case bytes.HasPrefix(data, zlibMagic):
		return map[string]string{
			"Content-Type":     "application/x-protobuf",
			"Content-Encoding": "deflate",
		}
	default:
		return map[string]string{"Content-Type": "application/octet-stream"}
	}
}
