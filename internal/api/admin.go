package api

import (
	"net/http"

	"github.com/clearmesh/clearmesh/internal/auth"
)

// SetAuthRegistry enables the admin endpoints for role and lock management.
// Without a registry the admin routes are not registered; role grants then
// have to come from whatever Authorizer implementation was wired instead.
func (s *Server) SetAuthRegistry(registry *auth.Registry) {
	s.authz = registry
}

// requireAdmin authenticates the caller header and checks the admin role.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	caller, err := callerAddress(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	if !s.authz.HasRole(auth.RoleAdmin, caller) {
		s.writeJSON(w, http.StatusForbidden, errorBody{Code: "unauthorized", Error: "admin role required"})
		return false
	}
	return true
}

type roleRequest struct {
	Action  string `json:"action"` // "grant" or "revoke"
	Role    string `json:"role"`
	Address string `json:"address"`
}

func (s *Server) handleAdminRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	var req roleRequest
	if !s.decode(w, r, &req) {
		return
	}
	role := auth.Role(req.Role)
	if !role.IsValid() {
		s.writeError(w, http.StatusBadRequest, "unknown role: "+req.Role)
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	switch req.Action {
	case "grant":
		s.authz.Grant(role, addr)
	case "revoke":
		s.authz.Revoke(role, addr)
	default:
		s.writeError(w, http.StatusBadRequest, "action must be grant or revoke")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	s.authz.Lock()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

func (s *Server) handleAdminUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	s.authz.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}
