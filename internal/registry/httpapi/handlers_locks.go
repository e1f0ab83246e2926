package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stardag/stardag/internal/registry/lock"
)

type acquireLockRequest struct {
	Name                string `json:"name"`
	OwnerID             string `json:"owner_id"`
	TTLSeconds          int    `json:"ttl_seconds"`
	CheckTaskCompletion bool   `json:"check_task_completion,omitempty"`
}

// handleAcquireLock maps the four acquire outcomes onto statuses the SDK
// branches on: 200 for acquired and already-completed, 423 when someone else
// holds the lease, 429 when the environment cap is saturated.
func (s *Server) handleAcquireLock(c *gin.Context) {
	var req acquireLockRequest
	if !s.bindJSON(c, &req) {
		return
	}
	s.acquireLock(c, req)
}

// handleAcquireLockNamed is the path-addressed form; the lock name comes
// from the URL instead of the body.
func (s *Server) handleAcquireLockNamed(c *gin.Context) {
	var req acquireLockRequest
	if !s.bindJSON(c, &req) {
		return
	}
	req.Name = c.Param("name")
	s.acquireLock(c, req)
}

func (s *Server) acquireLock(c *gin.Context, req acquireLockRequest) {
	p := principalFrom(c)
	result, err := s.locks.Acquire(c.Request.Context(), lock.AcquireRequest{
		Name:                req.Name,
		OwnerID:             req.OwnerID,
		EnvironmentID:       p.EnvironmentID,
		TTL:                 time.Duration(req.TTLSeconds) * time.Second,
		CheckTaskCompletion: req.CheckTaskCompletion,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.metrics.RecordLockAcquire(c.Request.Context(), string(result.Outcome))

	body := gin.H{"outcome": result.Outcome}
	if result.Lock != nil {
		body["lock"] = result.Lock
	}
	switch result.Outcome {
	case lock.OutcomeHeldByOther:
		c.JSON(http.StatusLocked, body)
	case lock.OutcomeConcurrencyLimit:
		c.JSON(http.StatusTooManyRequests, body)
	default:
		c.JSON(http.StatusOK, body)
	}
}

type renewLockRequest struct {
	Name       string `json:"name"`
	OwnerID    string `json:"owner_id"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (s *Server) handleRenewLock(c *gin.Context) {
	var req renewLockRequest
	if !s.bindJSON(c, &req) {
		return
	}
	s.renewLock(c, req)
}

func (s *Server) handleRenewLockNamed(c *gin.Context) {
	var req renewLockRequest
	if !s.bindJSON(c, &req) {
		return
	}
	req.Name = c.Param("name")
	s.renewLock(c, req)
}

func (s *Server) renewLock(c *gin.Context, req renewLockRequest) {
	renewed, err := s.locks.Renew(c.Request.Context(), req.Name, req.OwnerID,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lock": renewed})
}

type releaseLockRequest struct {
	Name         string `json:"name"`
	OwnerID      string `json:"owner_id"`
	BuildID      string `json:"build_id,omitempty"`
	CompleteTask bool   `json:"complete_task,omitempty"`
}

func (s *Server) handleReleaseLock(c *gin.Context) {
	var req releaseLockRequest
	if !s.bindJSON(c, &req) {
		return
	}
	s.releaseLock(c, req)
}

func (s *Server) handleReleaseLockNamed(c *gin.Context) {
	var req releaseLockRequest
	if !s.bindJSON(c, &req) {
		return
	}
	req.Name = c.Param("name")
	s.releaseLock(c, req)
}

func (s *Server) releaseLock(c *gin.Context, req releaseLockRequest) {
	p := principalFrom(c)
	var err error
	if req.CompleteTask {
		err = s.locks.ReleaseWithCompletion(c.Request.Context(),
			req.Name, req.OwnerID, p.EnvironmentID, req.BuildID)
	} else {
		err = s.locks.Release(c.Request.Context(), req.Name, req.OwnerID)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListLocks(c *gin.Context) {
	p := principalFrom(c)
	includeExpired := c.Query("include_expired") == "true"
	locks, err := s.locks.List(c.Request.Context(), p.EnvironmentID, includeExpired)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}

func (s *Server) handleGetLock(c *gin.Context) {
	l, err := s.locks.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lock": l})
}

// handleLockCompletionStatus reports whether the task behind a lock name has
// ever completed, for clients that check before contending for the lease.
func (s *Server) handleLockCompletionStatus(c *gin.Context) {
	p := principalFrom(c)
	done, err := s.locks.IsTaskCompleted(c.Request.Context(), p.EnvironmentID, c.Param("task_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": c.Param("task_id"), "is_completed": done})
}
