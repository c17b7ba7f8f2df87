package archive

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is matched by every error that means "the archive has no such
// record", as opposed to a broken or unreadable archive.
var ErrNotFound = errors.New("not found")

// NotFoundError carries the archive's own message for a missing tile, grid or
// metadata record.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Handle is an open, ready-to-query binding to one archive.
type Handle interface {
	// GetInfo returns a copy of the archive metadata. The caller owns the
	// returned value.
	GetInfo(ctx context.Context) (Info, error)
	GetTile(ctx context.Context, z, x, y int) (*Payload, error)
	GetGrid(ctx context.Context, z, x, y int) (*Payload, error)
	Close() error
}

// Opener opens the archive stored at path.
type Opener func(ctx context.Context, path string) (Handle, error)

// Payload is a tile or grid body with the response headers the archive wants
// sent along with it.
type Payload struct {
	Data    []byte
	Headers map[string]string
}

// Info is the metadata record of one archive.
type Info struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Description  string          `json:"description,omitempty"`
	Version      string          `json:"version,omitempty"`
	Attribution  string          `json:"attribution,omitempty"`
	Legend       string          `json:"legend,omitempty"`
	Template     string          `json:"template,omitempty"`
	Type         string          `json:"type,omitempty"`
	Format       string          `json:"format,omitempty"`
	Scheme       string          `json:"scheme"`
	Basename     string          `json:"basename,omitempty"`
	Filesize     int64           `json:"filesize,omitempty"`
	MinZoom      int             `json:"minzoom"`
	MaxZoom      int             `json:"maxzoom"`
	Bounds       []float64       `json:"bounds,omitempty"`
	Center       []float64       `json:"center,omitempty"`
	Tiles        []string        `json:"tiles"`
	Grids        []string        `json:"grids,omitempty"`
	VectorLayers json.RawMessage `json:"vector_layers,omitempty"`
}

// HasTemplate reports whether the archive declares interactivity grids.
func (i Info) HasTemplate() bool {
	return i.Template != ""
}

// Clone returns a deep copy of the record.
func (i Info) Clone() Info {
	out := i
	out.Bounds = cloneSlice(i.Bounds)
	out.Center = cloneSlice(i.Center)
	out.Tiles = cloneSlice(i.Tiles)
	out.Grids = cloneSlice(i.Grids)
	out.VectorLayers = cloneSlice(i.VectorLayers)
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
