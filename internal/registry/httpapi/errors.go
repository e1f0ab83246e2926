package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stardag/stardag/internal/registry/domain"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError translates domain errors to HTTP status codes. Internal errors
// get a correlation id so a client report can be matched to the server log.
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := classify(err)
	body := errorBody{Code: code, Message: err.Error()}
	if status >= http.StatusInternalServerError {
		body.CorrelationID = uuid.NewString()
		body.Message = "internal error"
		s.logger.Error("request %s %s failed [%s]: %v",
			c.Request.Method, c.FullPath(), body.CorrelationID, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrLastOwner):
		return http.StatusBadRequest, "last_owner"
	case errors.Is(err, domain.ErrLastEnvironment):
		return http.StatusBadRequest, "last_environment"
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrLockNotOwner):
		return http.StatusConflict, "lock_not_owner"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusLocked, "lock_held"
	case errors.Is(err, domain.ErrLockLimit):
		return http.StatusTooManyRequests, "concurrency_limit_reached"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// bindJSON decodes the request body, reporting malformed JSON as an
// unprocessable entity rather than a generic bad request.
func (s *Server) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": errorBody{Code: "malformed_body", Message: err.Error()},
		})
		return false
	}
	return true
}
