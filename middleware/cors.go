// Package middleware holds HTTP middleware and interceptors for the mock task
// API.
package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/broady/taskdeck"
)

// CORSConfig configures the CORS middleware. Empty fields take the defaults
// listed on each.
type CORSConfig struct {
	// Origins allowed to call the API. "*" allows any origin.
	// Default: ["*"]
	AllowOrigins []string

	// Default: GET, POST, PUT, PATCH, DELETE, OPTIONS
	AllowMethods []string

	// Default: Content-Type, Authorization, AccessToken
	AllowHeaders []string

	// Response headers readable by the browser.
	ExposeHeaders []string

	// AllowCredentials permits cookies and auth headers. With a "*" origin,
	// the request's Origin is echoed back instead, as browsers reject "*"
	// together with credentials.
	AllowCredentials bool

	// MaxAge is how long, in seconds, a preflight result may be cached. Zero
	// leaves the header unset.
	MaxAge int
}

var (
	defaultMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
	defaultHeaders = []string{"Content-Type", "Authorization", taskdeck.AccessTokenHeader}
)

// CORSAllowAll is the permissive development configuration: every origin,
// every task API method and the AccessToken header.
var CORSAllowAll *CORSConfig = nil

// CORS answers preflight requests and sets CORS headers on the rest. It wraps
// the whole http.Handler, so it sees requests for unknown routes too.
func CORS(cfg *CORSConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = &CORSConfig{}
	}
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	methods := cfg.AllowMethods
	if len(methods) == 0 {
		methods = defaultMethods
	}
	headers := cfg.AllowHeaders
	if len(headers) == 0 {
		headers = defaultHeaders
	}

	wildcard := slices.Contains(origins, "*")
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(headers, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()

			switch {
			case wildcard && (origin == "" || !cfg.AllowCredentials):
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && (wildcard || slices.Contains(origins, origin)):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			if cfg.AllowCredentials && h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if exposeHeaders != "" {
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
