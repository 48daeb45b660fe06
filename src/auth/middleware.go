package auth

import (
	"context"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"positionmanager/src/model"
)

type userLookup interface {
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// Middleware authenticates requests with the X-Auth-Username / X-Auth-Token
// header pair. The token is bcrypt-compared against the user's stored hash
// and the user is injected into the request context.
func Middleware(users userLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username := strings.TrimSpace(r.Header.Get("X-Auth-Username"))
			token := r.Header.Get("X-Auth-Token")

			if username == "" || token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := users.GetByUsername(r.Context(), username)
			if err != nil {
				logger.WithError(err).Error("auth: user lookup failed")
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}

			if user == nil || !user.Active {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(user.APITokenHash), []byte(token)); err != nil {
				logger.WithField("username", username).Warn("auth: token mismatch")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
