package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stardag/stardag/internal/registry/domain"
	"github.com/stardag/stardag/internal/registry/search"
)

func (s *Server) handleSearchTasks(c *gin.Context) {
	p := principalFrom(c)
	filters, err := search.ParseFilters(c.Query("filters"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	limit, offset := paging(c)
	query, err := search.Build(p.EnvironmentID, filters, c.Query("q"), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	results, err := s.searchStore.SearchTasks(c.Request.Context(), query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleSearchColumns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"columns": search.Columns()})
}

func (s *Server) handleSuggestKeys(c *gin.Context) {
	p := principalFrom(c)
	keys, err := s.suggester.Keys(c.Request.Context(), p.EnvironmentID, c.Query("prefix"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (s *Server) handleSuggestValues(c *gin.Context) {
	p := principalFrom(c)
	key := c.Query("key")
	if key == "" {
		s.writeError(c, fmt.Errorf("%w: key is required", domain.ErrValidation))
		return
	}
	values, err := s.suggester.Values(c.Request.Context(), p.EnvironmentID, key, c.Query("prefix"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"values": values})
}
