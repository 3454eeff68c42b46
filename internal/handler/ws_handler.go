/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, authenticating
the access token, upgrading the HTTP connection to WebSocket, and initiating the session lifecycle.
*/
package handler

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"crapchat/internal/app/chat"
	"crapchat/internal/pkg/auth/jwt"
	"crapchat/internal/pkg/errs"
	"crapchat/internal/pkg/limiter"
	"crapchat/internal/pkg/logx"
	"crapchat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// Authentication happens before the upgrade so a bad token gets a proper HTTP error
// instead of an immediately closed socket.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			rateLimitErr := errs.NewError(errs.ErrRateLimitExceeded)
			resp.RespondError(w, r, rateLimitErr)
			return
		}

		tokenString := r.URL.Query().Get("access_token")
		if tokenString == "" {
			logx.Warn("WebSocket request rejected: Missing access_token query parameter")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		payload, err := jwt.ParseToken(tokenString, deps.Config.JWTSecret)
		if err != nil {
			logx.Warn("WebSocket request rejected: Invalid access token.", "error", err)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(conn, payload.UserID)
		session := chat.NewSession(deps.Hub, client)

		go client.WritePump()

		if err := session.Connect(r.Context()); err != nil {
			logx.Error(err, "WebSocket session connect failed", "user_id", payload.UserID)
			client.Close()
			return
		}

		logx.Info("WebSocket connection established", "user_id", payload.UserID, "conn_id", client.ID())

		client.ReadPump(session)
	}
}
