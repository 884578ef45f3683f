// Package api implements the HTTP surface of the webhook service.
package api

import (
	"context"
	"net/http"
	"strings"

	"hookline/internal/auth"
)

type principalKey struct{}

// authResult is what authenticate resolved, including a failure, so handlers
// behind limited never verify the same token twice.
type authResult struct {
	pr  auth.Principal
	err error
}

// getPrincipal extracts tenant and role from a bearer token or, in dev mode, headers.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac/jwks).
// - Else, in dev mode only, falls back to X-Tenant-Id / X-Role.
func (s *Server) getPrincipal(r *http.Request) (auth.Principal, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		pr, err := s.Auth.Verify(r.Context(), strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return auth.Principal{}, auth.ErrUnauthenticated
		}
		return pr, nil
	}
	if s.Auth != nil && s.Auth.Mode != "dev" {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	tenant := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
	if tenant == "" {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	role := auth.RoleAdmin
	if h := r.Header.Get("X-Role"); h != "" {
		role = auth.ParseRole(h)
	}
	return auth.Principal{Tenant: tenant, Role: role}, nil
}

// authenticate resolves the caller once and records the result on the request.
func (s *Server) authenticate(r *http.Request) (*http.Request, auth.Principal, error) {
	if res, ok := r.Context().Value(principalKey{}).(authResult); ok {
		return r, res.pr, res.err
	}
	pr, err := s.getPrincipal(r)
	ctx := context.WithValue(r.Context(), principalKey{}, authResult{pr: pr, err: err})
	return r.WithContext(ctx), pr, err
}

// principal returns the caller or writes a 401 and returns false.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	_, pr, err := s.authenticate(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid credentials", r.URL.Path)
		return auth.Principal{}, false
	}
	return pr, true
}

// canManage writes a 403 and returns false for read-only callers.
func canManage(w http.ResponseWriter, r *http.Request, pr auth.Principal) bool {
	if pr.Role.CanManage() {
		return true
	}
	writeProblem(w, http.StatusForbidden, "Forbidden", "role "+string(pr.Role)+" is read-only", r.URL.Path)
	return false
}
