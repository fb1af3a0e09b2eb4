package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Auth guards the operator API with a shared key. The key may arrive as
// "Authorization: Bearer <key>", as X-API-Key, or as a token query
// parameter (browsers cannot set headers on the /ws upgrade). An empty
// apiKey disables the check. Public paths and OPTIONS requests pass
// through.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(want) == 0 || r.Method == http.MethodOptions || open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			got := presentedKey(r)
			switch {
			case got == "":
				w.Header().Set("WWW-Authenticate", `Bearer realm="pollypilot"`)
				writeJSONError(w, http.StatusUnauthorized, "missing api key")
			case subtle.ConstantTimeCompare([]byte(got), want) != 1:
				writeJSONError(w, http.StatusUnauthorized, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// presentedKey returns the first non-empty credential in header, then
// X-API-Key, then query order.
func presentedKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// writeJSONError writes the same {"error": msg} body the API handlers use.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
