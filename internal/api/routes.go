package api

import (
	"net/http"

	"inkpost/internal/auth"
	"inkpost/internal/models"
	"inkpost/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the API.
//
// Route throttles only apply when rate limiting is enabled in config; the
// API key budgets enforced by authenticator are always active.
func SetupRoutes(handlers *Handlers, config *models.Config, authenticator *auth.Authenticator, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	policies := ratelimit.PoliciesFromConfig(config.RateLimit, config.Security.APIKeyLimits)

	var views http.Handler = http.HandlerFunc(handlers.RecordView)
	if config.RateLimit.Enabled && handlers.limiter != nil {
		views = ratelimit.Middleware(handlers.limiter, ratelimit.PurposeView, policies.View, nil)(views)
	}
	api.Handle("/posts/views", views).Methods("POST")

	var comment http.Handler = http.HandlerFunc(handlers.CreateComment)
	if config.RateLimit.Enabled && handlers.limiter != nil {
		comment = ratelimit.Middleware(handlers.limiter, ratelimit.PurposeComment, policies.Comment, nil)(comment)
	}
	api.HandleFunc("/comments", handlers.ListComments).Methods("GET")
	api.Handle("/comments", comment).Methods("POST")

	if handlers.media != nil {
		media := router.PathPrefix("/media").Subrouter()
		if config.RateLimit.Enabled && handlers.limiter != nil {
			media.Use(mediaThrottle(handlers.limiter, policies))
		}
		media.HandleFunc("/{name}", handlers.ServeMedia).Methods("GET", "HEAD")
	}

	posts := api.PathPrefix("/open/posts").Subrouter()
	route := func(handler http.HandlerFunc, perm models.Permission) http.Handler {
		return auth.RequireAPIKey(authenticator, perm)(handler)
	}
	posts.Handle("", route(handlers.ListPosts, models.PermissionPostRead)).Methods("GET")
	posts.Handle("", route(handlers.CreatePost, models.PermissionPostCreate)).Methods("POST")
	posts.Handle("/{id}", route(handlers.GetPost, models.PermissionPostRead)).Methods("GET")
	posts.Handle("/{id}", route(handlers.UpdatePost, models.PermissionPostUpdate)).Methods("PATCH")
	posts.Handle("/{id}", route(handlers.DeletePost, models.PermissionPostDelete)).Methods("DELETE")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(adminTokenMiddleware(config.Security))
	admin.HandleFunc("/keys", handlers.ListAPIKeys).Methods("GET")
	admin.HandleFunc("/keys", handlers.CreateAPIKey).Methods("POST")
	admin.HandleFunc("/keys/{id}", handlers.UpdateAPIKey).Methods("PATCH")
	admin.HandleFunc("/keys/{id}", handlers.DeleteAPIKey).Methods("DELETE")
	admin.HandleFunc("/comments/{id}", handlers.UpdateCommentStatus).Methods("PATCH")
	admin.HandleFunc("/stats", handlers.Stats).Methods("GET")

	registerMethodNotAllowed(router)

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	return router
}

// registerMethodNotAllowed adds a fallback route answering 405 for every path
// served by router or its subrouters. Subrouter routes inherit the parent
// prefix matcher, so a sibling that shares the prefix discards the method
// mismatch recorded by an earlier route and the request would end in 404.
// The fallbacks sit on the root router after every real route and carry no
// method matcher.
func registerMethodNotAllowed(router *mux.Router) {
	seen := make(map[string]bool)
	var paths []string
	_ = router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		if route.GetHandler() == nil {
			return nil
		}
		tpl, err := route.GetPathTemplate()
		if err != nil || seen[tpl] {
			return nil
		}
		seen[tpl] = true
		paths = append(paths, tpl)
		return nil
	})
	for _, tpl := range paths {
		router.Path(tpl).HandlerFunc(methodNotAllowedHandler)
	}
}
