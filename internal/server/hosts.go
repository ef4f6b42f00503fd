// ABOUTME: HTTP handlers for the deployment target inventory
// ABOUTME: Register, list, and look up target servers by name

package server

import (
	"net/http"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/store"
)

// ServerRequest is the JSON body for POST /api/servers.
type ServerRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IP          string `json:"ip"`
	Login       string `json:"login"`
	Password    string `json:"password"`
	OS          string `json:"os,omitempty"`
}

// ServerResponse is the JSON shape of an inventory entry. The credential is
// never echoed back.
type ServerResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IP          string `json:"ip"`
	Login       string `json:"login"`
	OS          string `json:"os,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func serverResponse(srv *store.Server) ServerResponse {
	return ServerResponse{
		ID:          srv.ID,
		Name:        srv.Name,
		Description: srv.Description,
		IP:          srv.IP,
		Login:       srv.Login,
		OS:          srv.OS,
		CreatedAt:   srv.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req ServerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.IP == "" || req.Login == "" {
		s.sendJSONError(w, http.StatusBadRequest, "name, ip, and login are required")
		return
	}

	srv := &store.Server{
		Name:        req.Name,
		Description: req.Description,
		IP:          req.IP,
		Login:       req.Login,
		Credential:  req.Password,
		OS:          req.OS,
	}
	if err := s.store.CreateServer(r.Context(), srv); err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, serverResponse(srv))
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListServers(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}

	out := make([]ServerResponse, 0, len(servers))
	for _, srv := range servers {
		out = append(out, serverResponse(srv))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := s.store.GetServerByName(r.Context(), r.PathValue("name"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, serverResponse(srv))
}
