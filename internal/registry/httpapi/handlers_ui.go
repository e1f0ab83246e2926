package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stardag/stardag/internal/registry/domain"
	"github.com/stardag/stardag/internal/registry/service"
)

func (s *Server) handleMe(c *gin.Context) {
	me, err := s.workspaces.GetMe(c.Request.Context(), userIDFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, me)
}

func (s *Server) handleMyInvites(c *gin.Context) {
	invites, err := s.workspaces.PendingInvites(c.Request.Context(), userIDFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": invites})
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	var req service.CreateWorkspaceRequest
	if !s.bindJSON(c, &req) {
		return
	}
	ws, err := s.workspaces.CreateWorkspace(c.Request.Context(), userIDFrom(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ws)
}

func (s *Server) handleGetWorkspace(c *gin.Context) {
	ws, err := s.workspaces.GetWorkspace(c.Request.Context(), userIDFrom(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

type updateWorkspaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleUpdateWorkspace(c *gin.Context) {
	var req updateWorkspaceRequest
	if !s.bindJSON(c, &req) {
		return
	}
	ws, err := s.workspaces.UpdateWorkspace(c.Request.Context(), userIDFrom(c), c.Param("id"), req.Name, req.Description)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (s *Server) handleDeleteWorkspace(c *gin.Context) {
	if err := s.workspaces.DeleteWorkspace(c.Request.Context(), userIDFrom(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListEnvironments(c *gin.Context) {
	envs, err := s.workspaces.ListEnvironments(c.Request.Context(), userIDFrom(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"environments": envs})
}

func (s *Server) handleCreateEnvironment(c *gin.Context) {
	var req service.CreateEnvironmentRequest
	if !s.bindJSON(c, &req) {
		return
	}
	env, err := s.workspaces.CreateEnvironment(c.Request.Context(), userIDFrom(c), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, env)
}

func (s *Server) handleDeleteEnvironment(c *gin.Context) {
	err := s.workspaces.DeleteEnvironment(c.Request.Context(), userIDFrom(c), c.Param("id"), c.Param("env_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListMembers(c *gin.Context) {
	members, err := s.workspaces.ListMembers(c.Request.Context(), userIDFrom(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

type updateMemberRequest struct {
	Role domain.Role `json:"role"`
}

func (s *Server) handleUpdateMemberRole(c *gin.Context) {
	var req updateMemberRequest
	if !s.bindJSON(c, &req) {
		return
	}
	err := s.workspaces.UpdateMemberRole(c.Request.Context(),
		userIDFrom(c), c.Param("id"), c.Param("user_id"), req.Role)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(c *gin.Context) {
	err := s.workspaces.RemoveMember(c.Request.Context(), userIDFrom(c), c.Param("id"), c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListInvites(c *gin.Context) {
	invites, err := s.workspaces.ListInvites(c.Request.Context(), userIDFrom(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": invites})
}

func (s *Server) handleCreateInvite(c *gin.Context) {
	var req service.CreateInviteRequest
	if !s.bindJSON(c, &req) {
		return
	}
	invite, err := s.workspaces.CreateInvite(c.Request.Context(), userIDFrom(c), c.Param("id"), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invite)
}

func (s *Server) handleCancelInvite(c *gin.Context) {
	if err := s.workspaces.CancelInvite(c.Request.Context(), userIDFrom(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAcceptInvite(c *gin.Context) {
	if err := s.workspaces.RespondToInvite(c.Request.Context(), userIDFrom(c), c.Param("id"), true); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeclineInvite(c *gin.Context) {
	if err := s.workspaces.RespondToInvite(c.Request.Context(), userIDFrom(c), c.Param("id"), false); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListAPIKeys(c *gin.Context) {
	keys, err := s.workspaces.ListAPIKeys(c.Request.Context(), userIDFrom(c), c.Param("id"), c.Param("env_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": keys})
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if !s.bindJSON(c, &req) {
		return
	}
	created, err := s.workspaces.CreateAPIKey(c.Request.Context(),
		userIDFrom(c), c.Param("id"), c.Param("env_id"), req.Name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleRevokeAPIKey(c *gin.Context) {
	err := s.workspaces.RevokeAPIKey(c.Request.Context(),
		userIDFrom(c), c.Param("id"), c.Param("env_id"), c.Param("key_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListTargetRoots(c *gin.Context) {
	roots, err := s.workspaces.ListTargetRoots(c.Request.Context(),
		userIDFrom(c), c.Param("id"), c.Param("env_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target_roots": roots})
}

type targetRootRequest struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

func (s *Server) handleCreateTargetRoot(c *gin.Context) {
	var req targetRootRequest
	if !s.bindJSON(c, &req) {
		return
	}
	root, err := s.workspaces.CreateTargetRoot(c.Request.Context(),
		userIDFrom(c), c.Param("id"), c.Param("env_id"), req.Name, req.URI)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, root)
}

func (s *Server) handleUpdateTargetRoot(c *gin.Context) {
	var req targetRootRequest
	if !s.bindJSON(c, &req) {
		return
	}
	root, err := s.workspaces.UpdateTargetRoot(c.Request.Context(),
		userIDFrom(c), c.Param("id"), c.Param("env_id"), c.Param("root_id"), req.URI)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, root)
}

func (s *Server) handleDeleteTargetRoot(c *gin.Context) {
	err := s.workspaces.DeleteTargetRoot(c.Request.Context(),
		userIDFrom(c), c.Param("id"), c.Param("env_id"), c.Param("root_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
