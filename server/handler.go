package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"

	"github.com/gorilla/schema"

	"github.com/broady/taskdeck"
)

var schemaDecoder = schema.NewDecoder()

func init() {
	schemaDecoder.IgnoreUnknownKeys(true)
}

// Empty is a request or response without a body. A handler returning
// Empty with status 204 writes no body at all.
type Empty *struct{}

// Endpoint is a route target created with NewHandler. It is sealed: the App
// only accepts handlers built by this package.
type Endpoint interface {
	serve(ctx *Context, cfg handlerConfig)
}

// handlerConfig is what the App passes down to each request.
type handlerConfig struct {
	errorTransformer   ErrorTransformer
	maskInternalErrors bool
	interceptors       []UnaryInterceptor
	maxRequestBodySize int64
	logger             *slog.Logger
}

// Handler adapts a typed function to an HTTP route. GET and DELETE requests
// are decoded from the query string with gorilla/schema; other methods
// decode a JSON body. Decoded requests are validated before fn runs.
type Handler[Req any, Res any] struct {
	fn                 func(context.Context, Req) (Res, error)
	status             int
	interceptors       []UnaryInterceptor
	maxRequestBodySize int64
	skipValidation     bool
}

// NewHandler creates a handler from a function. The success status defaults
// to 200.
func NewHandler[Req any, Res any](fn func(context.Context, Req) (Res, error)) *Handler[Req, Res] {
	return &Handler[Req, Res]{
		fn:                 fn,
		status:             http.StatusOK,
		maxRequestBodySize: -1,
	}
}

// Status sets the status written on success, e.g. 201 or 204.
func (h *Handler[Req, Res]) Status(code int) *Handler[Req, Res] {
	h.status = code
	return h
}

// WithUnaryInterceptor adds an interceptor that runs after the App's.
func (h *Handler[Req, Res]) WithUnaryInterceptor(i UnaryInterceptor) *Handler[Req, Res] {
	h.interceptors = append(h.interceptors, i)
	return h
}

// WithMaxRequestBodySize overrides the App's body limit for this handler.
// Zero means no limit.
func (h *Handler[Req, Res]) WithMaxRequestBodySize(n int64) *Handler[Req, Res] {
	h.maxRequestBodySize = n
	return h
}

// WithoutValidation skips struct validation of the decoded request.
func (h *Handler[Req, Res]) WithoutValidation() *Handler[Req, Res] {
	h.skipValidation = true
	return h
}

func (h *Handler[Req, Res]) serve(ctx *Context, cfg handlerConfig) {
	w, r := ctx.HTTPWriter(), ctx.HTTPRequest()

	req, err := h.decode(w, r, cfg)
	if err == nil && !h.skipValidation {
		err = validateRequest(req)
	}
	if err != nil {
		writeError(w, transformError(err, cfg), cfg.logger)
		return
	}

	interceptors := make([]UnaryInterceptor, 0, len(cfg.interceptors)+len(h.interceptors))
	interceptors = append(interceptors, cfg.interceptors...)
	interceptors = append(interceptors, h.interceptors...)

	final := func(c context.Context, reqAny any) (any, error) {
		typed, ok := reqAny.(Req)
		if !ok {
			return nil, taskdeck.Errorf(taskdeck.CodeInternal, "interceptor changed request type to %T", reqAny)
		}
		return h.fn(c, typed)
	}

	var res any
	if chain := chainInterceptors(interceptors); chain != nil {
		res, err = chain(ctx, req, final)
	} else {
		res, err = final(ctx, req)
	}
	if err != nil {
		writeError(w, transformError(err, cfg), cfg.logger)
		return
	}

	if h.status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(h.status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		// Headers are gone; all that is left is to log it.
		cfg.logger.ErrorContext(ctx, "failed to encode response",
			slog.String("endpoint", ctx.EndpointID()),
			slog.Any("error", err))
	}
}

func (h *Handler[Req, Res]) decode(w http.ResponseWriter, r *http.Request, cfg handlerConfig) (Req, error) {
	var req Req

	if r.Method == http.MethodGet || r.Method == http.MethodDelete {
		target := reflect.ValueOf(&req)
		if t := reflect.TypeOf(req); t != nil && t.Kind() == reflect.Pointer {
			v := reflect.New(t.Elem())
			req = v.Convert(t).Interface().(Req)
			target = v
		}
		if target.Elem().Kind() != reflect.Struct {
			return req, nil
		}
		if err := schemaDecoder.Decode(target.Interface(), r.URL.Query()); err != nil {
			return req, taskdeck.Errorf(taskdeck.CodeInvalidArgument, "invalid query: %v", err)
		}
		return req, nil
	}

	limit := cfg.maxRequestBodySize
	if h.maxRequestBodySize >= 0 {
		limit = h.maxRequestBodySize
	}
	body := r.Body
	if body == nil {
		return req, nil
	}
	if limit > 0 {
		body = http.MaxBytesReader(w, body, limit)
	}
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return req, nil
		case errors.As(err, &tooLarge):
			return req, taskdeck.Errorf(taskdeck.CodeTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		default:
			return req, taskdeck.Errorf(taskdeck.CodeInvalidArgument, "invalid body: %v", err)
		}
	}
	return req, nil
}

// validateRequest validates struct requests and skips everything else.
func validateRequest(req any) error {
	v := reflect.ValueOf(req)
	if !v.IsValid() {
		return nil
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || v.NumField() == 0 {
		return nil
	}
	return taskdeck.Validate(req)
}
