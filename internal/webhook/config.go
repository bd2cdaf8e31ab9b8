// Package webhook posts sync notifications to an HTTP endpoint.
package webhook

import (
	"github.com/marcus/teer/internal/features"
	"github.com/marcus/teer/internal/syncconfig"
)

// GetURL returns the webhook URL.
// Priority: TEER_WEBHOOK_URL env > config.json webhook.url.
func GetURL() string {
	return syncconfig.GetWebhookURL()
}

// GetSecret returns the webhook HMAC secret.
// Priority: TEER_WEBHOOK_SECRET env > config.json webhook.secret.
func GetSecret() string {
	return syncconfig.GetWebhookSecret()
}

// IsEnabled returns true if the webhook_notify feature is on and a URL is
// configured.
func IsEnabled() bool {
	return features.IsEnabled(features.WebhookNotify.Name) && GetURL() != ""
}
