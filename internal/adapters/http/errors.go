package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/squadlink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// statusOf maps the domain error taxonomy onto HTTP.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	switch status {
	case http.StatusServiceUnavailable:
		body = gin.H{"error": "Voice service is unavailable", "code": "voice_unavailable"}
		log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("voice provider unavailable")
	case http.StatusInternalServerError:
		body = gin.H{"error": "internal error"}
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	default:
		log.Debug().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request rejected")
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
