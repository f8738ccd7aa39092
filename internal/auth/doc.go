// Package auth provides authentication for strand-server.
//
// # Authentication Method
//
// Clients authenticate with JWT tokens signed with HS256 using the
// configured jwt_secret. The token's "sub" claim carries the user id.
//
// # Token Management
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(userID, ttl)
//	userID, err := verifier.Verify(token)
//
// # HTTP Middleware
//
// RequireAuth wraps handlers and rejects requests without a valid token:
//
//	mux.Handle("/api/messages", auth.RequireAuth(verifier)(handler))
//
// The token is read from the Authorization header ("Bearer <token>") or,
// for SSE streams where EventSource cannot set headers, from the ?token=
// query parameter. On success the user id is placed in the request
// context and retrieved with UserFromContext.
//
// # Passwords
//
// The user directory stores bcrypt hashes. HashPassword and CheckPassword
// wrap x/crypto/bcrypt; a mismatch is reported as ErrWrongPassword.
package auth
