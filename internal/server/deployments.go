// ABOUTME: HTTP handler for deploying built agents to remote hosts
// ABOUTME: Resolves the latest ready artifact and hands off to the deployer

package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lisa-sim/lisa-backend/internal/deploy"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

var (
	errMissingTarget      = errors.New("host and username are required")
	errMissingCredentials = errors.New("password or ssh_key_path is required")
)

func errUnknownServer(name string) error {
	return fmt.Errorf("unknown server %q", name)
}

// DeployRequest is the JSON body for POST /api/agents/{agent_id}/deploy.
// Either a server_name referencing the inventory or explicit credentials
// must be provided.
type DeployRequest struct {
	ServerName string `json:"server_name,omitempty"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	SSHKeyPath string `json:"ssh_key_path,omitempty"`
}

func (s *Server) handleDeployAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgentByAgentID(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if agent.RoleID == "" || agent.TemplateID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "agent has no role or template to deploy with")
		return
	}

	var req DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	target, err := s.resolveTarget(r, &req)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	role, err := s.store.GetRoleAny(r.Context(), agent.RoleID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	tmpl, err := s.store.GetTemplateAny(r.Context(), agent.TemplateID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	doc := s.gen.Build(agent, role, tmpl)

	binaryPath := s.latestArtifact(r, agent.ID)

	if err := s.deployer.Deploy(r.Context(), agent, doc, binaryPath, target); err != nil {
		s.sendJSONError(w, http.StatusBadGateway, "deployment failed: "+err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Agent " + agent.AgentID + " deployed to " + target.Host,
	})
}

// resolveTarget builds the deploy target from an inventory entry or explicit
// request credentials.
func (s *Server) resolveTarget(r *http.Request, req *DeployRequest) (deploy.Target, error) {
	if req.ServerName != "" {
		srv, err := s.store.GetServerByName(r.Context(), req.ServerName)
		if err != nil {
			return deploy.Target{}, errUnknownServer(req.ServerName)
		}
		return deploy.Target{
			Host:     srv.IP,
			Username: srv.Login,
			Password: srv.Credential,
		}, nil
	}
	if req.Host == "" || req.Username == "" {
		return deploy.Target{}, errMissingTarget
	}
	if req.Password == "" && req.SSHKeyPath == "" {
		return deploy.Target{}, errMissingCredentials
	}
	return deploy.Target{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		KeyPath:  req.SSHKeyPath,
	}, nil
}

// latestArtifact returns the newest ready binary for the agent, or "" when no
// build has succeeded yet.
func (s *Server) latestArtifact(r *http.Request, agentRef string) string {
	builds, err := s.store.ListBuilds(r.Context(), store.BuildFilter{
		AgentRef: agentRef,
		Status:   store.BuildReady,
		Limit:    1,
	})
	if err != nil || len(builds) == 0 {
		return ""
	}
	return builds[0].BinaryPath
}
