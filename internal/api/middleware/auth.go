package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	pkgerrors "github.com/Adithya-Monish-Kumar-K/Unified-Ingestion-Platform/pkg/errors"
)

// RequireAPIKey rejects mutating requests (anything but GET, HEAD and
// OPTIONS) that do not present key. An empty key disables the check.
// Keys are read from Authorization: Bearer <key> or X-API-Key.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			presented := extractAPIKey(r)
			if presented == "" {
				writeError(w, pkgerrors.New(pkgerrors.ErrUnauthorized, http.StatusUnauthorized, "missing api key"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				writeError(w, pkgerrors.New(pkgerrors.ErrUnauthorized, http.StatusUnauthorized, "invalid api key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func writeError(w http.ResponseWriter, err *pkgerrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	json.NewEncoder(w).Encode(map[string]string{"detail": err.Message})
}
