// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header or token query param for SSE

package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// extractRequestToken pulls the token from the Authorization header, falling
// back to the "token" query parameter. EventSource clients cannot set headers,
// so the stream endpoint authenticates via query string.
func extractRequestToken(r *http.Request) (string, string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg == "" {
		return token, ""
	}
	if qt := r.URL.Query().Get("token"); qt != "" {
		return qt, ""
	}
	return "", errMsg
}

// RequireAuth creates an HTTP middleware that extracts and validates JWT tokens.
// The authenticated user ID is attached to the request context via WithUser.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractRequestToken(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}
