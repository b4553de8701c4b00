package middleware

import (
	"context"
	"net/http"

	"github.com/pliu/sealedchat/internal/auth"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// AuthMiddleware rejects requests without a valid signed session cookie
// and stores the caller's user id in the request context.
func AuthMiddleware(signer *auth.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.CookieName)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := signer.Verify(cookie.Value)
			if err != nil || userID == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated caller, or "" outside AuthMiddleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}
