// Package security provides webhook signature verification and replay protection.
package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ReplayStore is the subset of the redis client the replay protection uses.
// *redis.Client satisfies it.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// WebhookReplayProtection deduplicates webhook deliveries by notification id.
// The processor delivers at least once; a seen id within the window is a replay.
type WebhookReplayProtection struct {
	store  ReplayStore
	logger *zap.Logger
	window time.Duration
}

// WebhookReplayConfig holds replay protection configuration
type WebhookReplayConfig struct {
	// Window is how long a notification id is remembered
	Window time.Duration
}

// DefaultWebhookReplayConfig returns sensible defaults
func DefaultWebhookReplayConfig() WebhookReplayConfig {
	return WebhookReplayConfig{Window: 24 * time.Hour}
}

// NewWebhookReplayProtection creates a replay protection store backed by redis.
// A nil store disables deduplication; every delivery is then treated as
// first-seen and idempotency relies on the storage-layer transition guard.
func NewWebhookReplayProtection(store ReplayStore, cfg WebhookReplayConfig, logger *zap.Logger) *WebhookReplayProtection {
	return &WebhookReplayProtection{
		store:  store,
		logger: logger,
		window: cfg.Window,
	}
}

// FirstDelivery records the notification id and reports whether this is the
// first time it has been seen within the replay window.
func (w *WebhookReplayProtection) FirstDelivery(ctx context.Context, provider, notificationID string) (bool, error) {
	if w.store == nil || notificationID == "" {
		return true, nil
	}

	set, err := w.store.SetNX(ctx, replayKey(provider, notificationID), 1, w.window).Result()
	if err != nil {
		// Dedup store unavailable; let the delivery through rather than drop it
		w.logger.Warn("Replay protection store unavailable",
			zap.String("provider", provider),
			zap.String("notification_id", notificationID),
			zap.Error(err))
		return true, nil
	}
	if !set {
		w.logger.Info("Duplicate webhook delivery detected",
			zap.String("provider", provider),
			zap.String("notification_id", notificationID))
	}
	return set, nil
}

// Forget releases a notification id claimed by FirstDelivery so a redelivery
// is processed again. Used when processing fails after the id was claimed:
// the failure response asks the processor to redeliver, and that redelivery
// must not be treated as a replay. Best effort; a store error leaves the id
// claimed and convergence falls back to the poll path.
func (w *WebhookReplayProtection) Forget(ctx context.Context, provider, notificationID string) {
	if w.store == nil || notificationID == "" {
		return
	}
	if err := w.store.Del(ctx, replayKey(provider, notificationID)).Err(); err != nil {
		w.logger.Warn("Failed to release replay protection key",
			zap.String("provider", provider),
			zap.String("notification_id", notificationID),
			zap.Error(err))
	}
}

func replayKey(provider, notificationID string) string {
	return fmt.Sprintf("webhook:%s:notification:%s", provider, notificationID)
}

// VerifyHMACSignature checks a hex-encoded HMAC-SHA256 signature over body
func VerifyHMACSignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
