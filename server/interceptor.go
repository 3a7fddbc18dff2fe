package server

import (
	"context"
)

// HandlerFunc represents the next handler in an interceptor chain.
type HandlerFunc func(ctx context.Context, req any) (res any, err error)

// UnaryInterceptor wraps handler execution.
//
//	func timing(ctx *server.Context, req any, next server.HandlerFunc) (any, error) {
//	    start := time.Now()
//	    res, err := next(ctx, req)
//	    log.Printf("%s took %v", ctx.EndpointID(), time.Since(start))
//	    return res, err
//	}
//
// An interceptor can inspect or replace the request, short-circuit with an
// error, or pass a derived context (context.WithValue) to next.
type UnaryInterceptor func(ctx *Context, req any, next HandlerFunc) (res any, err error)

// chainInterceptors combines interceptors into one. The first is outermost.
func chainInterceptors(interceptors []UnaryInterceptor) UnaryInterceptor {
	switch len(interceptors) {
	case 0:
		return nil
	case 1:
		return interceptors[0]
	}
	return func(ctx *Context, req any, handler HandlerFunc) (any, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			current := interceptors[i]
			next := chain
			chain = func(c context.Context, req any) (any, error) {
				sc, ok := FromContext(c)
				if !ok {
					sc = ctx.withContext(c)
				}
				return current(sc, req, next)
			}
		}
		return chain(ctx, req)
	}
}
