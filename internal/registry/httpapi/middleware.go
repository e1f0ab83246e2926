package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stardag/stardag/internal/registry/auth"
	"github.com/stardag/stardag/internal/registry/domain"
	"github.com/stardag/stardag/internal/registry/observability"
)

const (
	ctxPrincipal = "stardag.principal"
	ctxUserID    = "stardag.user_id"

	// environmentHeader selects the environment for internal-token callers.
	// API keys carry their environment implicitly.
	environmentHeader = "X-Environment-Id"
)

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// sdkAuth authorizes the environment-scoped surface. API keys resolve their
// environment from the key record; internal tokens name it in a header.
func (s *Server) sdkAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			s.writeError(c, fmt.Errorf("missing bearer credential: %w", domain.ErrUnauthorized))
			return
		}
		var (
			principal auth.Principal
			err       error
		)
		if strings.HasPrefix(token, "sk_") {
			principal, err = s.auth.AuthorizeAPIKey(c.Request.Context(), token)
		} else {
			principal, err = s.auth.AuthorizeInternal(c.Request.Context(), token, c.GetHeader(environmentHeader))
		}
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Set(ctxPrincipal, principal)
		c.Next()
	}
}

// uiAuth authorizes the user-facing surface. Only exchanged internal tokens
// are accepted here; raw OIDC tokens carry no workspace scope.
func (s *Server) uiAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			s.writeError(c, fmt.Errorf("missing bearer credential: %w", domain.ErrUnauthorized))
			return
		}
		claims, err := s.auth.ParseInternal(token)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Next()
	}
}

// bootstrapAuth authorizes the pre-exchange routes. Internal tokens are
// preferred; a raw OIDC token is accepted so a fresh login can see its
// profile and answer invites before any exchange has happened.
func (s *Server) bootstrapAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			s.writeError(c, fmt.Errorf("missing bearer credential: %w", domain.ErrUnauthorized))
			return
		}
		claims, err := s.auth.ParseInternal(token)
		if err == nil {
			c.Set(ctxUserID, claims.UserID)
			c.Next()
			return
		}
		if errors.Is(err, domain.ErrTokenExpired) {
			s.writeError(c, err)
			return
		}
		user, oidcErr := s.auth.AuthenticateOIDC(c.Request.Context(), token)
		if oidcErr != nil {
			s.writeError(c, oidcErr)
			return
		}
		c.Set(ctxUserID, user.ID)
		c.Next()
	}
}

func principalFrom(c *gin.Context) auth.Principal {
	v, _ := c.Get(ctxPrincipal)
	p, _ := v.(auth.Principal)
	return p
}

func userIDFrom(c *gin.Context) string {
	v, _ := c.Get(ctxUserID)
	id, _ := v.(string)
	return id
}

// requestTrace opens one span per request, named by the matched route.
func (s *Server) requestTrace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := s.tracer.Start(c.Request.Context(), observability.SpanHTTPRequest,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.target", c.Request.URL.Path),
		)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(
			attribute.String("http.route", c.FullPath()),
			attribute.Int("http.status_code", c.Writer.Status()),
		)
		span.End()
	}
}

// requestMetrics records one counter increment and one latency sample per
// request, labeled by the matched route.
func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Context(),
			c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
