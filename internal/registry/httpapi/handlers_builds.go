package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stardag/stardag/internal/registry/domain"
	"github.com/stardag/stardag/internal/registry/observability"
	"github.com/stardag/stardag/internal/registry/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func paging(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Server) handleCreateBuild(c *gin.Context) {
	p := principalFrom(c)
	var req service.CreateBuildRequest
	if !s.bindJSON(c, &req) {
		return
	}
	build, err := s.builds.CreateBuild(c.Request.Context(), p.EnvironmentID, p.UserID, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.metrics.RecordEventAppended(c.Request.Context(), string(domain.EventBuildStarted))
	c.JSON(http.StatusCreated, build)
}

func (s *Server) handleListBuilds(c *gin.Context) {
	p := principalFrom(c)
	limit, offset := paging(c)
	builds, err := s.builds.ListBuilds(c.Request.Context(), p.EnvironmentID, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"builds": builds})
}

func (s *Server) handleGetBuild(c *gin.Context) {
	p := principalFrom(c)
	build, err := s.builds.GetBuild(c.Request.Context(), p.EnvironmentID, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, build)
}

func (s *Server) handleCompleteBuild(c *gin.Context) {
	p := principalFrom(c)
	if err := s.builds.CompleteBuild(c.Request.Context(), p.EnvironmentID, c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	s.metrics.RecordEventAppended(c.Request.Context(), string(domain.EventBuildCompleted))
	c.Status(http.StatusNoContent)
}

type failBuildRequest struct {
	ErrorMessage string `json:"error_message"`
}

// handleFailBuild reads the failure message from the error_message query
// parameter or, absent that, from a JSON body.
func (s *Server) handleFailBuild(c *gin.Context) {
	p := principalFrom(c)
	msg, ok := s.errorMessage(c)
	if !ok {
		return
	}
	if err := s.builds.FailBuild(c.Request.Context(), p.EnvironmentID, c.Param("id"), msg); err != nil {
		s.writeError(c, err)
		return
	}
	s.metrics.RecordEventAppended(c.Request.Context(), string(domain.EventBuildFailed))
	c.Status(http.StatusNoContent)
}

// errorMessage resolves the failure message for the fail endpoints. The
// second return is false when a present body failed to parse and the error
// response has already been written.
func (s *Server) errorMessage(c *gin.Context) (string, bool) {
	if msg := c.Query("error_message"); msg != "" {
		return msg, true
	}
	if c.Request.ContentLength <= 0 {
		return "", true
	}
	var req failBuildRequest
	if !s.bindJSON(c, &req) {
		return "", false
	}
	return req.ErrorMessage, true
}

func (s *Server) handleListBuildTasks(c *gin.Context) {
	p := principalFrom(c)
	tasks, err := s.builds.ListBuildTasks(c.Request.Context(), p.EnvironmentID, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleRegisterTask(c *gin.Context) {
	p := principalFrom(c)
	var req service.RegisterTaskRequest
	if !s.bindJSON(c, &req) {
		return
	}
	task, err := s.builds.RegisterTask(c.Request.Context(), p.EnvironmentID, c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.metrics.RecordEventAppended(c.Request.Context(), string(domain.EventTaskPending))
	c.JSON(http.StatusCreated, task)
}

type taskEventRequest struct {
	EventType    domain.EventType `json:"event_type"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

func (s *Server) handleTaskEvent(c *gin.Context) {
	p := principalFrom(c)
	var req taskEventRequest
	if !s.bindJSON(c, &req) {
		return
	}
	err := s.builds.AppendTaskEvent(c.Request.Context(),
		p.EnvironmentID, c.Param("id"), c.Param("task_id"), req.EventType, req.ErrorMessage)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.metrics.RecordEventAppended(c.Request.Context(), string(req.EventType))
	c.Status(http.StatusNoContent)
}

// taskTransition serves the per-transition task endpoints, which fix the
// event type in the path instead of the body. Failures carry their message
// in the error_message query parameter or a JSON body.
func (s *Server) taskTransition(eventType domain.EventType) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principalFrom(c)
		msg, ok := s.errorMessage(c)
		if !ok {
			return
		}
		err := s.builds.AppendTaskEvent(c.Request.Context(),
			p.EnvironmentID, c.Param("id"), c.Param("task_id"), eventType, msg)
		if err != nil {
			s.writeError(c, err)
			return
		}
		s.metrics.RecordEventAppended(c.Request.Context(), string(eventType))
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleListEvents(c *gin.Context) {
	p := principalFrom(c)
	events, err := s.builds.ListEvents(c.Request.Context(), p.EnvironmentID, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleStreamEvents serves the build's event log over SSE: a snapshot of
// everything recorded so far, then live events until the client goes away.
// Subscribing before the snapshot read closes the gap between the two.
func (s *Server) handleStreamEvents(c *gin.Context) {
	p := principalFrom(c)
	buildID := c.Param("id")

	_, span := s.tracer.Start(c.Request.Context(), observability.SpanSSEStream,
		attribute.String("build_id", buildID))
	defer span.End()

	live, cancel := s.broadcaster.Subscribe(buildID)
	defer cancel()

	snapshot, err := s.builds.ListEvents(c.Request.Context(), p.EnvironmentID, buildID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.metrics.StreamOpened(c.Request.Context())
	defer s.metrics.StreamClosed(c.Request.Context())

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	seen := make(map[string]struct{}, len(snapshot))
	for _, ev := range snapshot {
		seen[ev.ID] = struct{}{}
		c.SSEvent("event", ev)
	}
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-live:
			if !ok {
				return false
			}
			// Events published between subscribe and snapshot read would
			// otherwise appear twice.
			if _, dup := seen[ev.ID]; dup {
				return true
			}
			c.SSEvent("event", ev)
			return true
		case <-clientGone:
			return false
		}
	})
}

func (s *Server) handleBuildGraph(c *gin.Context) {
	p := principalFrom(c)
	graph, err := s.builds.BuildGraph(c.Request.Context(), p.EnvironmentID, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

func (s *Server) handleListTasks(c *gin.Context) {
	p := principalFrom(c)
	limit, offset := paging(c)
	tasks, err := s.builds.ListTasks(c.Request.Context(), p.EnvironmentID, limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleGetTask(c *gin.Context) {
	p := principalFrom(c)
	task, err := s.builds.GetTask(c.Request.Context(), p.EnvironmentID, c.Param("task_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// handleTaskCompleted answers the SDK's cheap "has this ever completed"
// probe. 404 here means the task has never been registered, which the SDK
// treats the same as not completed.
func (s *Server) handleTaskCompleted(c *gin.Context) {
	p := principalFrom(c)
	done, err := s.locks.IsTaskCompleted(c.Request.Context(), p.EnvironmentID, c.Param("task_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": c.Param("task_id"), "completed": done})
}

type uploadAssetsRequest struct {
	Assets []service.AssetUpload `json:"assets"`
}

func (s *Server) handleUploadAssets(c *gin.Context) {
	p := principalFrom(c)
	var req uploadAssetsRequest
	if !s.bindJSON(c, &req) {
		return
	}
	if len(req.Assets) == 0 {
		s.writeError(c, fmt.Errorf("%w: assets must not be empty", domain.ErrValidation))
		return
	}
	if err := s.builds.UploadAssets(c.Request.Context(), p.EnvironmentID, c.Param("task_id"), req.Assets); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) handleListAssets(c *gin.Context) {
	p := principalFrom(c)
	assets, err := s.builds.ListAssets(c.Request.Context(), p.EnvironmentID, c.Param("task_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets})
}

func (s *Server) handleSDKTargetRoots(c *gin.Context) {
	p := principalFrom(c)
	roots, err := s.searchStore.ListTargetRoots(c.Request.Context(), p.EnvironmentID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target_roots": roots})
}
