package httpapi

import (
	"net/http"
	"strings"

	"agentsched.org/internal/auth"
)

// callerHeader carries the end user's identity as asserted by the fronting
// identity provider.
const callerHeader = "X-User-ID"

const maxUserIDLen = 128

// withCaller moves the asserted caller into the request context.
func withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(callerHeader))
		if user == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(user) > maxUserIDLen {
			writeError(w, r, http.StatusBadRequest, "X-User-ID too long")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithCaller(r.Context(), user)))
	})
}

// resolveUser reconciles the user named in the body with the asserted caller.
// A caller may only schedule on their own behalf.
func resolveUser(r *http.Request, bodyUser string) (string, int, string) {
	bodyUser = strings.TrimSpace(bodyUser)
	caller, ok := auth.CallerFromContext(r.Context())
	switch {
	case ok && bodyUser == "":
		return caller, 0, ""
	case ok && bodyUser != caller:
		return "", http.StatusForbidden, "user_id does not match authenticated caller"
	case bodyUser == "":
		return "", http.StatusBadRequest, "user_id is required"
	case len(bodyUser) > maxUserIDLen:
		return "", http.StatusBadRequest, "user_id too long"
	}
	return bodyUser, 0, ""
}
