package adapthttp

import (
	"log/slog"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"sprintsync/internal/auth"
	"sprintsync/internal/domain"
)

// OIDCConfig carries the optional single sign-on wiring. When Enabled is
// false the SSO endpoints answer 404.
type OIDCConfig struct {
	Enabled      bool
	Provider     *oidc.Provider
	OAuth2Config *oauth2.Config
}

// Server is the driving HTTP adapter. It serves the auth endpoints and
// mounts the realtime socket.
type Server struct {
	users      domain.UserRepository
	tokens     *auth.TokenService
	oidcConfig OIDCConfig
	socket     http.Handler
	log        *slog.Logger
}

// New creates a Server wired to the given dependencies.
func New(users domain.UserRepository, tokens *auth.TokenService, oidcConfig OIDCConfig, socket http.Handler, log *slog.Logger) *Server {
	return &Server{users: users, tokens: tokens, oidcConfig: oidcConfig, socket: socket, log: log}
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	api.HandleFunc("/auth/register", s.handleRegister)
	api.HandleFunc("/auth/login", s.handleLogin)
	api.HandleFunc("/auth/sso/login", s.handleSSOLogin)
	api.HandleFunc("/auth/sso/callback", s.handleSSOCallback)

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", s.withLogging(withNoCache(api))))
	// The socket handler hijacks the connection, so it stays outside the
	// response-wrapping middleware.
	root.Handle("/ws", s.socket)

	return root
}
