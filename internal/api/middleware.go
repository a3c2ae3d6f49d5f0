// Package api implements the Pinboard REST API using chi.
package api

import (
	"log/slog"
	"net/http"
)

// AuthMiddleware resolves the caller with auth and stores the user id in
// the request context. Requests without an identity get 401.
func AuthMiddleware(auth *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.Authenticate(r)
			if err != nil {
				slog.Debug("api: authentication failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusUnauthorized, errorBody(errNoUser.Error()))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
