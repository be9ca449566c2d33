package router

import (
	"net/http"
	"slices"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Router is a thin layer over http.ServeMux that applies a middleware chain
// to every registered route. Registration order of middleware is execution
// order.
type Router struct {
	mux   *http.ServeMux
	chain []Middleware
}

// New creates a Router with the given global middleware.
func New(middleware ...Middleware) *Router {
	return &Router{
		mux:   http.NewServeMux(),
		chain: middleware,
	}
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Get registers a GET route.
func (r *Router) Get(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodGet, pattern, handler, middleware...)
}

// Post registers a POST route.
func (r *Router) Post(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodPost, pattern, handler, middleware...)
}

// Handle registers a route for an explicit method with optional
// route-specific middleware appended after the global chain.
func (r *Router) Handle(method, pattern string, handler http.Handler, middleware ...Middleware) {
	r.mux.Handle(method+" "+pattern, r.wrap(handler, middleware))
}

// HandleRaw registers a handler with no method restriction and no middleware.
// Used for endpoints that manage their own semantics, like the Prometheus
// exposition handler.
func (r *Router) HandleRaw(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, handler)
}

// Group returns a sub-router sharing the mux but carrying additional
// middleware.
func (r *Router) Group(middleware ...Middleware) *Router {
	return &Router{
		mux:   r.mux,
		chain: append(slices.Clone(r.chain), middleware...),
	}
}

func (r *Router) wrap(handler http.Handler, middleware []Middleware) http.Handler {
	combined := append(slices.Clone(r.chain), middleware...)

	// Wrap innermost-first so the first registered middleware runs first.
	result := handler
	for i := len(combined) - 1; i >= 0; i-- {
		result = combined[i](result)
	}
	return result
}
