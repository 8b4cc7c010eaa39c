package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mentorhub/relay/internal/app"
	"github.com/mentorhub/relay/internal/domain"
)

// NotifyRequest is the server-push contract for trusted backend components
// (booking, connection requests) that need to reach a connected user.
type NotifyRequest struct {
	UserID  string          `json:"userId" binding:"required"`
	Event   string          `json:"event" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

type NotifyResponse struct {
	Delivered int `json:"delivered"`
}

// handleNotify routes a notification through the relay. Zero deliveries is
// not an error: the user is simply offline and durable notification storage
// is the caller's job.
func handleNotify(relay *app.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NotifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid fields"})
			return
		}
		n := relay.Router.RouteNotification(domain.UserID(req.UserID), req.Event, req.Payload)
		c.JSON(http.StatusOK, NotifyResponse{Delivered: n})
	}
}
