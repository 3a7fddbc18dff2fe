package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/broady/taskdeck"
)

// App is the router for the API. It owns route registration, middleware,
// interceptors and error handling. Use Handler to get an http.Handler.
type App struct {
	mu                 sync.Mutex
	mux                *http.ServeMux
	patterns           map[string]bool
	errorTransformer   ErrorTransformer
	maskInternalErrors bool
	interceptors       []UnaryInterceptor
	middlewares        []func(http.Handler) http.Handler
	logger             *slog.Logger
	maxRequestBodySize int64
}

// NewApp returns an App with a 1MB request body limit.
func NewApp() *App {
	a := &App{
		mux:                http.NewServeMux(),
		patterns:           make(map[string]bool),
		maxRequestBodySize: 1 << 20,
	}
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, taskdeck.Errorf(taskdeck.CodeNotFound, "route %s %s not found", r.Method, r.URL.Path), a.log())
	})
	return a
}

// WithErrorTransformer adds a custom error transformer.
func (a *App) WithErrorTransformer(fn ErrorTransformer) *App {
	a.errorTransformer = fn
	return a
}

// WithMaskInternalErrors replaces the message of internal errors with a
// generic one. Interceptors still see the original error.
func (a *App) WithMaskInternalErrors() *App {
	a.maskInternalErrors = true
	return a
}

// WithUnaryInterceptor adds a global interceptor. Global interceptors run
// before handler interceptors, each in the order added.
func (a *App) WithUnaryInterceptor(i UnaryInterceptor) *App {
	a.interceptors = append(a.interceptors, i)
	return a
}

// WithMiddleware adds an HTTP middleware. The first added is outermost.
func (a *App) WithMiddleware(mw func(http.Handler) http.Handler) *App {
	a.middlewares = append(a.middlewares, mw)
	return a
}

// WithLogger sets the logger. If not set, slog.Default() is used.
func (a *App) WithLogger(logger *slog.Logger) *App {
	a.logger = logger
	return a
}

// WithMaxRequestBodySize sets the body limit for all handlers. Zero means no
// limit.
func (a *App) WithMaxRequestBodySize(size int64) *App {
	a.maxRequestBodySize = size
	return a
}

func (a *App) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

// Handle registers ep for pattern, which uses http.ServeMux syntax with a
// method, e.g. "PATCH /tasks/{id}". Registering a pattern twice panics.
func (a *App) Handle(pattern string, ep Endpoint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.patterns[pattern] {
		panic(fmt.Sprintf("server: duplicate route %q", pattern))
	}
	a.patterns[pattern] = true

	a.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx := newContext(r.Context(), w, r, pattern)
		ep.serve(ctx, handlerConfig{
			errorTransformer:   a.errorTransformer,
			maskInternalErrors: a.maskInternalErrors,
			interceptors:       a.interceptors,
			maxRequestBodySize: a.maxRequestBodySize,
			logger:             a.log(),
		})
	})
}

// Handler returns the App as an http.Handler with all middleware applied.
//
//	app := server.NewApp().WithMiddleware(middleware.CORS(nil))
//	http.ListenAndServe(":8080", app.Handler())
func (a *App) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(a.serveHTTP)
	for i := len(a.middlewares) - 1; i >= 0; i-- {
		h = a.middlewares[i](h)
	}
	return h
}

func (a *App) serveHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			a.log().ErrorContext(r.Context(), "PANIC recovered",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			msg := fmt.Sprintf("internal server error (panic): %v", rec)
			if a.maskInternalErrors {
				msg = "internal server error"
			}
			writeError(w, taskdeck.NewError(taskdeck.CodeInternal, msg), a.logger)
		}
	}()
	a.mux.ServeHTTP(w, r)
}
