package api

import (
	"net/http"
	"strings"
)

// CORSHandler adds cross origin headers to responses, answering preflight
// requests itself, so browser dashboards served from another origin can use
// the api.
type CORSHandler struct {
	Handler             http.Handler
	SupportsCredentials bool
	AllowHeaders        func(headers []string) bool
}

func (self CORSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if self.SupportsCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
	}

	if r.Method == "OPTIONS" && r.Header.Get("Access-Control-Request-Method") != "" {
		// preflight
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		headers := splitHeaders(r.Header.Get("Access-Control-Request-Headers"))
		if len(headers) > 0 {
			if self.AllowHeaders != nil && !self.AllowHeaders(headers) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	self.Handler.ServeHTTP(w, r)
}

// splitHeaders parses an Access-Control-Request-Headers value to lowercased
// header names.
func splitHeaders(value string) []string {
	var headers []string
	for _, header := range strings.Split(value, ",") {
		header = strings.ToLower(strings.TrimSpace(header))
		if header != "" {
			headers = append(headers, header)
		}
	}
	return headers
}
