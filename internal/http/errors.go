package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tilegate/internal/archive"
	"tilegate/internal/cache"
)

// Classify maps an error from any intent onto a status code and the message
// sent to the client.
func Classify(err error) (int, string) {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, validation.Message
	}

	var unknown *cache.UnknownTilesetError
	if errors.As(err, &unknown) {
		return http.StatusNotFound, unknown.Error()
	}

	var notFound *archive.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, notFound.Message
	}
	if errors.Is(err, archive.ErrNotFound) {
		return http.StatusNotFound, err.Error()
	}

	return http.StatusInternalServerError, err.Error()
}

func (h *Handlers) writeError(c *gin.Context, err error) {
	status, message := Classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("request_id", requestID(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
