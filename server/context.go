package server

import (
	"context"
	"net/http"

	"github.com/broady/taskdeck"
)

type contextKey struct {
	name string
}

var (
	serverContextKey = &contextKey{"server_context"}
	userKey          = &contextKey{"user"}
)

// Context carries request metadata through interceptors and handlers. It
// embeds the request's context.Context, so it can be passed anywhere one is
// expected.
type Context struct {
	context.Context
	endpoint string
	request  *http.Request
	writer   http.ResponseWriter
}

// NewContext returns a Context for endpoint without an HTTP request, for use
// in tests of interceptors.
func NewContext(parent context.Context, endpoint string) *Context {
	return newContext(parent, nil, nil, endpoint)
}

func newContext(parent context.Context, w http.ResponseWriter, r *http.Request, endpoint string) *Context {
	c := &Context{endpoint: endpoint, request: r, writer: w}
	c.Context = context.WithValue(parent, serverContextKey, c)
	return c
}

// EndpointID identifies the route, e.g. "GET /tasks/{id}".
func (c *Context) EndpointID() string {
	return c.endpoint
}

// HTTPRequest returns the request being served, or nil outside a request.
func (c *Context) HTTPRequest() *http.Request {
	return c.request
}

// HTTPWriter returns the response writer, or nil outside a request.
func (c *Context) HTTPWriter() http.ResponseWriter {
	return c.writer
}

// withContext returns a copy of c carrying the values of ctx.
func (c *Context) withContext(ctx context.Context) *Context {
	cp := *c
	cp.Context = ctx
	return &cp
}

// FromContext returns the server Context stored in ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	if c, ok := ctx.(*Context); ok {
		return c, true
	}
	c, ok := ctx.Value(serverContextKey).(*Context)
	if !ok {
		return nil, false
	}
	// Keep values added on top of the stored Context.
	return c.withContext(ctx), true
}

// PathValue returns the named wildcard of the matched route pattern.
func PathValue(ctx context.Context, name string) string {
	c, ok := FromContext(ctx)
	if !ok || c.request == nil {
		return ""
	}
	return c.request.PathValue(name)
}

// Header returns a request header.
func Header(ctx context.Context, key string) string {
	c, ok := FromContext(ctx)
	if !ok || c.request == nil {
		return ""
	}
	return c.request.Header.Get(key)
}

// SetHeader sets an HTTP response header.
func SetHeader(ctx context.Context, key, value string) {
	if c, ok := FromContext(ctx); ok && c.writer != nil {
		c.writer.Header().Set(key, value)
	}
}

// WithUser returns ctx carrying the authenticated user.
func WithUser(ctx context.Context, u taskdeck.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the user set by the auth interceptor.
func UserFromContext(ctx context.Context) (taskdeck.User, bool) {
	u, ok := ctx.Value(userKey).(taskdeck.User)
	return u, ok
}
