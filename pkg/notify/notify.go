// Package notify delivers invitation emails. Delivery always happens
// after the database commit, off the request path: a failed or slow
// notification never rolls back or blocks a membership change.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/psychon7/vibe-kanban/pkg/observability"
)

// Invitation is the payload handed to a Notifier.
type Invitation struct {
	WorkspaceName string `json:"workspace_name"`
	Email         string `json:"email"`
	RoleName      string `json:"role_name"`
	InvitedBy     string `json:"invited_by"`
	AcceptURL     string `json:"accept_url"`
}

// Notifier sends an invitation notification.
type Notifier interface {
	SendInvitation(ctx context.Context, inv Invitation) error
}

// LogNotifier writes the notification to the log instead of sending
// it anywhere. Default for dev and test installs.
type LogNotifier struct {
	logger *observability.Logger
}

func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendInvitation(ctx context.Context, inv Invitation) error {
	n.logger.WithFields(map[string]interface{}{
		"email":      inv.Email,
		"workspace":  inv.WorkspaceName,
		"role":       inv.RoleName,
		"accept_url": inv.AcceptURL,
	}).Info("invitation notification")
	return nil
}

// WebhookNotifier POSTs the invitation as JSON to a configured
// endpoint, for installs that hand delivery to an external mailer.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) SendInvitation(ctx context.Context, inv Invitation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
