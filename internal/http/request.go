package http

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

type Intent string

const (
	IntentInfo Intent = "info"
	IntentTile Intent = "tile"
	IntentGrid Intent = "grid"
)

// tileExtensions are the extensions a tile request may use. The archive
// decides the actual content type.
var tileExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"webp": true,
	"pbf":  true,
	"mvt":  true,
}

// Request is a parsed tileset path.
type Request struct {
	Intent  Intent
	Tileset string
	Z, X, Y int
	Ext     string
	// JSON is set for /{tileset}.json, which always answers with JSON.
	JSON bool
}

// ValidationError is a malformed request path.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ParsePath splits an unescaped request path into a Request. It does not
// check whether the tileset exists.
func ParsePath(p string) (Request, error) {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")

	switch len(parts) {
	case 1:
		id, isJSON := strings.CutSuffix(parts[0], ".json")
		if id == "" {
			return Request{}, invalid("missing tileset id")
		}
		return Request{Intent: IntentInfo, Tileset: id, JSON: isJSON}, nil

	case 4:
		req := Request{Tileset: parts[0]}
		if req.Tileset == "" {
			return Request{}, invalid("missing tileset id")
		}

		ext := path.Ext(parts[3])
		req.Ext = strings.TrimPrefix(ext, ".")
		switch {
		case req.Ext == "json":
			req.Intent = IntentGrid
		case tileExtensions[req.Ext]:
			req.Intent = IntentTile
		case req.Ext == "":
			return Request{}, invalid("missing extension in %q", parts[3])
		default:
			return Request{}, invalid("unsupported extension %q", req.Ext)
		}

		var err error
		if req.Z, err = coordinate("z", parts[1]); err != nil {
			return Request{}, err
		}
		if req.X, err = coordinate("x", parts[2]); err != nil {
			return Request{}, err
		}
		if req.Y, err = coordinate("y", strings.TrimSuffix(parts[3], ext)); err != nil {
			return Request{}, err
		}
		return req, nil

	default:
		return Request{}, invalid("unrecognized path %q", p)
	}
}

func coordinate(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalid("invalid %s coordinate %q", name, s)
	}
	if n < 0 {
		return 0, invalid("%s coordinate must be non-negative, got %d", name, n)
	}
	return n, nil
}
