package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stardag/stardag/internal/registry/domain"
)

// handleAuthConfig advertises the OIDC coordinates clients log in against.
// Unauthenticated: the CLI calls it before it holds any credential.
func (s *Server) handleAuthConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"oidc_issuer":    s.oidcIssuerURL,
		"oidc_client_id": s.oidcClientID,
	})
}

type exchangeRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

// handleExchange trades a verified OIDC token for a short-lived internal
// token scoped to one workspace.
func (s *Server) handleExchange(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		s.writeError(c, fmt.Errorf("missing bearer credential: %w", domain.ErrUnauthorized))
		return
	}
	var req exchangeRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if req.WorkspaceID == "" {
		s.writeError(c, fmt.Errorf("%w: workspace_id is required", domain.ErrValidation))
		return
	}
	result, err := s.auth.Exchange(c.Request.Context(), token, req.WorkspaceID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
