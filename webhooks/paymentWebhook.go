package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/restaurant_backend/workflow"
)

const (
	SignatureHeader = "x-signature"
	RequestIdHeader = "x-request-id"

	maxNotificationBytes = 1 << 20
)

// NotificationHandler turns one raw delivery into an acknowledgement.
type NotificationHandler interface {
	Handle(ctx context.Context, body []byte, signature, requestId string) workflow.Ack
}

// PaymentWebhookHandler receives provider payment notifications. handler is
// resolved per request so the route can be mounted before the engine is built.
func PaymentWebhookHandler(handler func() NotificationHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := handler()
		if h == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxNotificationBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		ack := h.Handle(c.Request.Context(), body, c.GetHeader(SignatureHeader), c.GetHeader(RequestIdHeader))
		if ack.HTTPStatus == http.StatusOK {
			c.JSON(http.StatusOK, gin.H{"status": ack.Status})
			return
		}
		c.JSON(ack.HTTPStatus, gin.H{"error": ack.Error})
	}
}
