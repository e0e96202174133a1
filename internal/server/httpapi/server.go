// Package httpapi exposes the REST surface: session auth, account and group
// management, verification and the mailbox proxy.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/services"
)

// SessionConfig carries the cookie-session settings.
type SessionConfig struct {
	Secret     []byte
	TTL        time.Duration
	CookieName string
	Secure     bool
}

func (c *SessionConfig) withDefaults() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.CookieName == "" {
		c.CookieName = "mailvault_session"
	}
}

type Server struct {
	users    *services.UserService
	accounts *services.AccountService
	verify   *services.VerifyService
	mail     *services.MailService

	session     SessionConfig
	corsOrigins []string
	log         logging.Logger
}

func NewServer(
	users *services.UserService,
	accounts *services.AccountService,
	verify *services.VerifyService,
	mail *services.MailService,
	session SessionConfig,
	corsOrigins []string,
	log logging.Logger,
) *Server {
	session.withDefaults()
	return &Server{
		users:       users,
		accounts:    accounts,
		verify:      verify,
		mail:        mail,
		session:     session,
		corsOrigins: corsOrigins,
		log:         log.With("component", "httpapi"),
	}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/register", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/change-password", s.handleChangePassword)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", s.handleListAccounts)
				r.Post("/", s.handleCreateAccount)
				r.Post("/batch-delete", s.handleBatchDelete)
				r.Post("/batch-group", s.handleBatchGroup)
				r.Post("/import", s.handleImport)
				r.Post("/export", s.handleExport)
				r.Post("/verify-all", s.handleVerifyAll)

				r.Route("/{accountID}", func(r chi.Router) {
					r.Get("/", s.handleGetAccount)
					r.Put("/", s.handleUpdateAccount)
					r.Delete("/", s.handleDeleteAccount)
					r.Post("/verify", s.handleVerifyOne)

					r.Route("/mail", func(r chi.Router) {
						r.Get("/folders", s.handleMailFolders)
						r.Get("/folders/{folderID}/messages", s.handleMailMessages)
						r.Get("/folders/{folderID}/unread", s.handleMailUnread)
						r.Get("/messages/{messageID}", s.handleMailMessage)
						r.Delete("/messages/{messageID}", s.handleMailDelete)
					})
				})
			})

			r.Route("/groups", func(r chi.Router) {
				r.Get("/", s.handleListGroups)
				r.Post("/", s.handleCreateGroup)
				r.Put("/{groupID}", s.handleRenameGroup)
				r.Delete("/{groupID}", s.handleDeleteGroup)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Get("/users", s.handleAdminListUsers)
				r.Post("/users", s.handleAdminCreateUser)
				r.Delete("/users/{userID}", s.handleAdminDeleteUser)
				r.Post("/users/{userID}/reset-password", s.handleAdminResetPassword)
				r.Get("/settings", s.handleAdminGetSettings)
				r.Put("/settings", s.handleAdminUpdateSettings)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
