/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, binding an
optional bearer token to the connection, upgrading the HTTP connection to WebSocket, and starting
the connection's pumps.
*/
package handler

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"messenger/internal/pkg/auth/jwt"
	"messenger/internal/pkg/errs"
	"messenger/internal/pkg/limiter"
	"messenger/internal/pkg/logx"
	"messenger/internal/pkg/resp"
	"messenger/internal/server"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.KeyedRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		boundUser := ""
		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			boundUser = payload.Username
		} else if !deps.Config.IsDevelopment() {
			logx.Warn("WebSocket connection rejected: missing or invalid token.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		c := server.NewConn(deps.Hub, conn, boundUser, logx.AnonymizeIP(ip))
		if !deps.Hub.Register(c) {
			conn.Close()
			return
		}

		go c.WritePump()

		logx.Info("WebSocket connection established", "bound_user", boundUser)

		c.ReadPump()
	}
}
