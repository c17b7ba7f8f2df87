package mbtiles

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"

	"tilegate/internal/archive"
)

// utfGrid is the decoded form of a stored interactivity grid.
type utfGrid struct {
	Grid []string                   `json:"grid"`
	Keys []string                   `json:"keys"`
	Data map[string]json.RawMessage `json:"data"`
}

func (a *Archive) GetGrid(ctx context.Context, z, x, y int) (*archive.Payload, error) {
	row, ok := tmsRow(z, x, y)
	if !ok {
		return nil, errGridNotFound
	}

	var blob []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT grid FROM grids WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		z, x, row,
	).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return nil, errGridNotFound
		}
		return nil, fmt.Errorf("failed to read grid %d/%d/%d: %w", z, x, y, err)
	}
	if len(blob) == 0 {
		return nil, errGridNotFound
	}

	raw, err := inflate(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate grid %d/%d/%d: %w", z, x, y, err)
	}

	var grid utfGrid
	if err := json.Unmarshal(raw, &grid); err != nil {
		return nil, fmt.Errorf("failed to parse grid %d/%d/%d: %w", z, x, y, err)
	}

	data, err := a.gridData(ctx, z, x, row)
	if err != nil {
		return nil, err
	}
	grid.Data = data

	body, err := json.Marshal(grid)
	if err != nil {
		return nil, fmt.Errorf("failed to encode grid %d/%d/%d: %w", z, x, y, err)
	}

	headers := a.baseHeaders()
	headers["Content-Type"] = "application/json"

	return &archive.Payload{Data: body, Headers: headers}, nil
}

func (a *Archive) gridData(ctx context.Context, z, x, row int) (map[string]json.RawMessage, error) {
	data := make(map[string]json.RawMessage)

	rows, err := a.db.QueryContext(ctx,
		`SELECT key_name, key_json FROM grid_data WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		z, x, row,
	)
	if err != nil {
		if isMissingTable(err) {
			return data, nil
		}
		return nil, fmt.Errorf("failed to read grid data: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var value []byte
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to read grid data: %w", err)
		}
		if !json.Valid(value) {
			return nil, fmt.Errorf("grid data for key %q is not valid JSON", name)
		}
		data[name] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read grid data: %w", err)
	}

	return data, nil
}

func inflate(blob []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}
