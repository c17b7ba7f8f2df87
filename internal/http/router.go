package http

import (
	"embed"
	"html/template"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tilegate/internal/telemetry"
)

//go:embed templates/*.html
var templates embed.FS

// NewRouter wires the handlers into a gin engine. The fixed routes shadow
// tilesets named "healthz" or "metrics".
func NewRouter(h *Handlers, telemetryEnabled bool) *gin.Engine {
	r := gin.New()
	r.SetHTMLTemplate(template.Must(template.New("").ParseFS(templates, "templates/*.html")))

	r.Use(gin.Recovery())
	if telemetryEnabled {
		r.Use(telemetry.GinMiddleware())
	}
	r.Use(h.RequestLogging(), h.CORS(), Metrics())

	metricsHandler := gin.WrapH(promhttp.Handler())

	for _, route := range []struct {
		path    string
		handler gin.HandlerFunc
	}{
		{"/", h.HandleList},
		{"/healthz", h.HandleHealthz},
		{"/metrics", metricsHandler},
		{"/:tileset", h.HandleTileset},
		{"/:tileset/:z/:x/:file", h.HandleTileset},
	} {
		r.GET(route.path, route.handler)
		r.HEAD(route.path, route.handler)
	}

	r.NoRoute(h.HandleNotFound)

	return r
}
