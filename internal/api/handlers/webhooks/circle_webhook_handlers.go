package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coinpay-service/coinpay_service/internal/domain/services/reconciliation"
	"github.com/coinpay-service/coinpay_service/pkg/security"
)

// CircleNotificationProcessor applies a verified Circle notification
type CircleNotificationProcessor interface {
	ProcessNotification(ctx context.Context, n *reconciliation.WebhookNotification) (reconciliation.NotificationOutcome, error)
}

// CircleWebhookHandler handles Circle transaction notifications. The HMAC
// signature is the only authentication on this route.
type CircleWebhookHandler struct {
	processor               CircleNotificationProcessor
	logger                  *zap.Logger
	webhookSecret           string
	skipWebhookVerification bool // Explicit opt-out flag for development/testing only
}

// NewCircleWebhookHandler creates a new Circle webhook handler
// skipWebhookVerification should only be true in development/testing environments
func NewCircleWebhookHandler(processor CircleNotificationProcessor, logger *zap.Logger, webhookSecret string, skipWebhookVerification bool) *CircleWebhookHandler {
	return &CircleWebhookHandler{
		processor:               processor,
		logger:                  logger,
		webhookSecret:           webhookSecret,
		skipWebhookVerification: skipWebhookVerification,
	}
}

// HandleWebhook handles Circle transaction notifications
// POST /api/webhooks/circle
func (h *CircleWebhookHandler) HandleWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	signature := c.GetHeader("X-Circle-Signature")
	if !h.verifySignature(signature, rawBody) {
		h.logger.Warn("Invalid Circle webhook signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var notification reconciliation.WebhookNotification
	if err := json.Unmarshal(rawBody, &notification); err != nil {
		h.logger.Error("Failed to parse webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	h.logger.Info("Received Circle webhook",
		zap.String("notification_id", notification.NotificationID),
		zap.String("notification_type", notification.NotificationType))

	outcome, err := h.processor.ProcessNotification(c.Request.Context(), &notification)
	if err != nil {
		if errors.Is(err, reconciliation.ErrInvalidNotification) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
			return
		}
		h.logger.Error("Failed to process Circle notification",
			zap.String("notification_id", notification.NotificationID),
			zap.Error(err))
		// 500 so Circle redelivers
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	switch outcome {
	case reconciliation.OutcomeIgnored, reconciliation.OutcomeUnknownTransaction:
		// Non-retryable conditions, acknowledge to stop redelivery
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	case reconciliation.OutcomeDuplicate:
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// HandlePing answers Circle's subscription verification probe
// GET /api/webhooks/circle
func (h *CircleWebhookHandler) HandlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *CircleWebhookHandler) verifySignature(signature string, body []byte) bool {
	if h.webhookSecret == "" {
		if h.skipWebhookVerification {
			h.logger.Warn("Circle webhook secret not configured - SKIPPING VERIFICATION (development mode)")
			return true
		}
		h.logger.Error("Circle webhook secret not configured - rejecting webhook for security")
		return false
	}
	return security.VerifyHMACSignature(h.webhookSecret, body, signature)
}
