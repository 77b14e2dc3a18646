package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/AaronLay10/EnharmonicGap/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	// RoleAdmin may initialize seeds.
	RoleAdmin Role = "admin"
	// RolePlayer may read state and submit claims.
	RolePlayer Role = "player"
)

type credentials struct {
	user string
	pass string
}

func (c credentials) set() bool { return c.user != "" && c.pass != "" }

func (c credentials) match(user, pass string) bool {
	return c.set() && secureCompare(user, c.user) && secureCompare(pass, c.pass)
}

// authConfig holds credentials loaded from environment variables.
type authConfig struct {
	admin   credentials
	player  credentials
	enabled bool
}

var auth *authConfig

// InitAuth loads basic-auth credentials from ENHARMONIC_ADMIN_USER,
// ENHARMONIC_ADMIN_PASS, ENHARMONIC_PLAYER_USER and ENHARMONIC_PLAYER_PASS,
// each of which may also be given as a *_FILE path.
// Authentication is disabled unless admin credentials are set.
func InitAuth() error {
	var vals [4]string
	for i, name := range []string{
		"ENHARMONIC_ADMIN_USER",
		"ENHARMONIC_ADMIN_PASS",
		"ENHARMONIC_PLAYER_USER",
		"ENHARMONIC_PLAYER_PASS",
	} {
		v, err := config.ResolveSecret(name)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", name, err)
		}
		vals[i] = v
	}

	admin := credentials{user: vals[0], pass: vals[1]}
	auth = &authConfig{
		admin:   admin,
		player:  credentials{user: vals[2], pass: vals[3]},
		enabled: admin.set(),
	}
	return nil
}

// authenticate checks basic auth credentials and returns the role if valid.
// Returns empty string if credentials are invalid.
func authenticate(r *http.Request) Role {
	if auth == nil || !auth.enabled {
		return RoleAdmin // No auth configured = full access
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}

	if auth.admin.match(user, pass) {
		return RoleAdmin
	}
	if auth.player.match(user, pass) {
		return RolePlayer
	}
	return ""
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requireAuth returns 401 Unauthorized with WWW-Authenticate header.
func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Enharmonic Gap"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the specified roles.
func RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r)
				return
			}
		}

		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireAnyRole wraps a handler requiring admin OR player role.
func RequireAnyRole(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin, RolePlayer)
}

// RequireAdmin wraps a handler requiring admin role only.
func RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return RequireRole(handler, RoleAdmin)
}
