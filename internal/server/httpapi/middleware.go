package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/server/auth"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type contextKey string

const userContextKey contextKey = "user"

// authenticate resolves the session cookie into the current user and stores
// it on the request context. Stale cookies for deleted users fail like
// missing ones.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(s.session.CookieName)
		if err != nil {
			writeError(w, common.ErrorUnauthorized)
			return
		}

		userID, err := auth.GetUserIDFromToken(cookie.Value, s.session.Secret)
		if err != nil {
			writeError(w, common.ErrorUnauthorized)
			return
		}

		user, err := s.users.GetUser(r.Context(), userID)
		if err != nil {
			writeError(w, common.ErrorUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r).Role != models.RoleAdmin {
			writeError(w, common.ErrorForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// currentUser returns the authenticated user. Only valid below the
// authenticate middleware.
func currentUser(r *http.Request) *models.User {
	return r.Context().Value(userContextKey).(*models.User)
}
