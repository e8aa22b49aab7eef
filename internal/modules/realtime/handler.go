package realtime

import (
	"net/http"

	"track-and-trace/internal/middlewares"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Handler upgrades HTTP requests to realtime connections.
type Handler struct {
	hub       *Hub
	jwtSecret string
	upgrader  websocket.Upgrader
}

func NewHandler(hub *Hub, jwtSecret, clientOrigin string) *Handler {
	return &Handler{
		hub:       hub,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || clientOrigin == "" || origin == clientOrigin
			},
		},
	}
}

// Serve handles GET /ws. Browsers cannot set headers on websocket dials, so
// the token rides in the query string; a missing or invalid token degrades
// to a guest identity rather than rejecting the connection, because order
// tracking is capability-based on the order id.
func (h *Handler) Serve(c echo.Context) error {
	identity := "guest-" + uuid.NewString()
	if raw := c.QueryParam("token"); raw != "" {
		if userID, err := middlewares.ParseUserID(raw, h.jwtSecret); err == nil {
			identity = userID
		}
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := newClient(h.hub, conn, identity)
	middlewares.WSConnected()

	go client.writePump()
	go client.readPump()
	return nil
}
