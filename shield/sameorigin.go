package shield

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// SameOrigin rejects requests whose Referer host differs from the Host
// header. A missing or unparsable Referer counts as a mismatch. The response
// is a bare 401 so third parties learn nothing about the service behind it.
func SameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sameOrigin(r) {
			GetLogger(r.Context()).Warn("shield: referer rejected", "referer", r.Header.Get("Referer"), "host", r.Host)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sameOrigin(r *http.Request) bool {
	ref := r.Header.Get("Referer")
	if ref == "" || r.Host == "" {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
