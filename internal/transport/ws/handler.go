package ws

import (
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		claims, err := hub.auth.ParseToken(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		// Banned users lose their live sessions and may not open new ones.
		user, err := hub.auth.GetByID(r.Context(), claims.UserID)
		if err != nil {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		if user.IsBanned {
			http.Error(w, "account is banned", http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Allow any origin (dev mode)
		})
		if err != nil {
			hub.logger.Warn("ws accept error", zap.Error(err))
			return
		}

		client := NewClient(r.Context(), hub, conn, claims.UserID)
		if !hub.register(client) {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}

		session, err := hub.presence.ConnectToken(r.Context(), claims.UserID, claims.TokenID, client.cancel)
		if err != nil {
			hub.logger.Error("presence connect failed", zap.String("user_id", claims.UserID), zap.Error(err))
			conn.Close(websocket.StatusTryAgainLater, "presence unavailable")
			hub.unregister(client)
			return
		}
		client.session = session

		client.Run()
	}
}
