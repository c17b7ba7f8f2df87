package tileset_reader

import (
	"context"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tilegate/internal/archive"
)

const tracerName = "tilegate/internal/tileset_reader"

// HandleSource hands out open archive handles by tileset id.
type HandleSource interface {
	Acquire(ctx context.Context, id string) (archive.Handle, error)
}

// Reader answers info, tile and grid lookups for any registered tileset. It
// never reads an archive directly; every lookup goes through a Handle.
type Reader struct {
	handles HandleSource
	tracer  trace.Tracer
	logger  *zap.Logger
}

func New(handles HandleSource, logger *zap.Logger) *Reader {
	return &Reader{
		handles: handles,
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
	}
}

// Info returns the tileset metadata rewritten to this gateway's URLs.
func (r *Reader) Info(ctx context.Context, id string) (archive.Info, error) {
	ctx, span := r.start(ctx, "tileset.info", id)
	defer span.End()

	handle, err := r.handles.Acquire(ctx, id)
	if err != nil {
		return archive.Info{}, fail(span, err)
	}

	info, err := handle.GetInfo(ctx)
	if err != nil {
		return archive.Info{}, fail(span, err)
	}

	return RewriteInfo(info, id), nil
}

func (r *Reader) Tile(ctx context.Context, id string, z, x, y int) (*archive.Payload, error) {
	ctx, span := r.start(ctx, "tileset.tile", id, attribute.Int("tile.z", z), attribute.Int("tile.x", x), attribute.Int("tile.y", y))
	defer span.End()

	handle, err := r.handles.Acquire(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}

	payload, err := handle.GetTile(ctx, z, x, y)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("tile.bytes", len(payload.Data)))
	return payload, nil
}

// Grid looks the grid up even when the tileset declares no template; the
// archive decides whether one exists.
func (r *Reader) Grid(ctx context.Context, id string, z, x, y int) (*archive.Payload, error) {
	ctx, span := r.start(ctx, "tileset.grid", id, attribute.Int("tile.z", z), attribute.Int("tile.x", x), attribute.Int("tile.y", y))
	defer span.End()

	handle, err := r.handles.Acquire(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}

	payload, err := handle.GetGrid(ctx, z, x, y)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("grid.bytes", len(payload.Data)))
	return payload, nil
}

func (r *Reader) start(ctx context.Context, name, id string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("tileset.id", id))
	return r.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// TileExtension returns the file extension tiles of the given archive format
// are addressed with.
func TileExtension(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "jpg"
	case "webp":
		return "webp"
	case "pbf", "mvt":
		return "pbf"
	default:
		return "png"
	}
}

// RewriteInfo points the record's URL templates at this gateway. The input
// is not modified, and rewriting an already rewritten record is a no-op.
func RewriteInfo(info archive.Info, id string) archive.Info {
	out := info.Clone()
	escaped := url.PathEscape(id)
	out.ID = id
	out.Scheme = "xyz"
	out.Tiles = []string{fmt.Sprintf("/%s/{z}/{x}/{y}.%s", escaped, TileExtension(info.Format))}
	out.Grids = nil
	if info.HasTemplate() {
		out.Grids = []string{fmt.Sprintf("/%s/{z}/{x}/{y}.json", escaped)}
	}
	return out
}
