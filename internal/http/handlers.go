package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tilegate/internal/archive"
)

// Tilesets answers lookups against registered tilesets.
type Tilesets interface {
	Info(ctx context.Context, id string) (archive.Info, error)
	Tile(ctx context.Context, id string, z, x, y int) (*archive.Payload, error)
	Grid(ctx context.Context, id string, z, x, y int) (*archive.Payload, error)
}

// Catalog lists the currently registered tileset ids.
type Catalog interface {
	IDs() []string
}

type Handlers struct {
	tilesets      Tilesets
	catalog       Catalog
	allowedOrigin string
	logger        *zap.Logger
}

func New(tilesets Tilesets, catalog Catalog, allowedOrigin string, logger *zap.Logger) *Handlers {
	return &Handlers{
		tilesets:      tilesets,
		catalog:       catalog,
		allowedOrigin: allowedOrigin,
		logger:        logger,
	}
}

func (h *Handlers) HandleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) HandleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tilesets": h.catalog.IDs()})
}

func (h *Handlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

// HandleTileset serves every /{tileset}... route.
func (h *Handlers) HandleTileset(c *gin.Context) {
	req, err := ParsePath(c.Request.URL.Path)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Set(intentKey, string(req.Intent))

	switch req.Intent {
	case IntentInfo:
		h.handleInfo(c, req)
	case IntentTile:
		payload, err := h.tilesets.Tile(c.Request.Context(), req.Tileset, req.Z, req.X, req.Y)
		h.writePayload(c, payload, err)
	case IntentGrid:
		payload, err := h.tilesets.Grid(c.Request.Context(), req.Tileset, req.Z, req.X, req.Y)
		h.writePayload(c, payload, err)
	}
}

func (h *Handlers) handleInfo(c *gin.Context, req Request) {
	info, err := h.tilesets.Info(c.Request.Context(), req.Tileset)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if !req.JSON && c.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML {
		record, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.HTML(http.StatusOK, "tileset.html", gin.H{
			"Info":   info,
			"Record": string(record),
		})
		return
	}

	c.JSON(http.StatusOK, info)
}

// writePayload copies the archive's headers as given, then the bytes.
func (h *Handlers) writePayload(c *gin.Context, payload *archive.Payload, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}

	for name, value := range payload.Headers {
		c.Header(name, value)
	}
	c.Header("Content-Length", strconv.Itoa(len(payload.Data)))

	c.Status(http.StatusOK)

	// HEAD request doesn't send body
	if c.Request.Method == http.MethodHead {
		return
	}
	_, _ = c.Writer.Write(payload.Data)
}
