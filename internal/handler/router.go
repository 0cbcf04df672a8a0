/*
Package handler provides the HTTP handlers and routing setup for the relay server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"messenger/internal/pkg/auth/jwt"
	"messenger/internal/pkg/limiter"
	"messenger/internal/pkg/logx"
	"messenger/internal/pkg/resp"
)

const (
	AuthRate    = 0.2
	AuthBurst   = 5
	SocketRate  = 0.5
	SocketBurst = 10
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes IP-based rate limiters (stopped with ctx), configures CORS, and applies
// global and per-route middleware.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	authLimiter := limiter.NewKeyedRateLimiter(ctx, rate.Limit(AuthRate), AuthBurst)
	socketLimiter := limiter.NewKeyedRateLimiter(ctx, rate.Limit(SocketRate), SocketBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients send no Origin header
				return true
			}
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":  "ok",
			"service": "Messenger Relay",
			"online":  len(deps.Hub.OnlineUsernames()),
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Group(func(authed chi.Router) {
		authed.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		authed.Route("/api/auth", func(auth chi.Router) {
			auth.With(authLimiter.Middleware).Post("/register", HandleRegister(deps))
			auth.With(authLimiter.Middleware).Post("/login", HandleLogin(deps))
			auth.With(jwt.RequireIdentity).Get("/users", HandleListUsers(deps))
		})

		authed.Get("/ws", HandleWebSocket(wsUpgrader, socketLimiter, deps))
	})

	return r
}
