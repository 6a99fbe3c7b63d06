package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"storefront-agent/models"
)

const fbGraphAPI = "https://graph.facebook.com/v18.0"

// Deliverer sends an outbound message to the customer's channel. Failures are
// reported to the caller, who logs them; delivery is never retried here.
type Deliverer interface {
	Deliver(ctx context.Context, conv *models.Conversation, text string) error
}

// MessengerDeliverer sends replies through the Messenger Send API using the
// tenant's page access token.
type MessengerDeliverer struct {
	tenants TenantStore
	baseURL string
	client  *http.Client
}

func NewMessengerDeliverer(tenants TenantStore) *MessengerDeliverer {
	return &MessengerDeliverer{
		tenants: tenants,
		baseURL: fbGraphAPI,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *MessengerDeliverer) Deliver(ctx context.Context, conv *models.Conversation, text string) error {
	tenant, err := d.tenants.GetTenant(ctx, conv.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant for delivery: %w", err)
	}
	if tenant.PageAccessToken == "" {
		return fmt.Errorf("no page access token for tenant %s", conv.TenantID)
	}
	return d.SendMessengerReply(ctx, conv.CustomerIdentifier, text, tenant.PageAccessToken)
}

// SendMessengerReply sends a reply message via Messenger
func (d *MessengerDeliverer) SendMessengerReply(ctx context.Context, recipientID, message, pageAccessToken string) error {
	url := fmt.Sprintf("%s/me/messages?access_token=%s", d.baseURL, pageAccessToken)

	payload := map[string]interface{}{
		"recipient": map[string]string{
			"id": recipientID,
		},
		"messaging_type": "RESPONSE",
		"message": map[string]string{
			"text": message,
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("Failed to send messenger reply", "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("failed to send message: %s", resp.Status)
	}

	return nil
}

// LogDeliverer records outbound messages in the log only. Used when no
// channel is configured, e.g. local runs against the memory store.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(ctx context.Context, conv *models.Conversation, text string) error {
	slog.Info("Outbound message",
		"conversationID", conv.ID,
		"tenantID", conv.TenantID,
		"customerID", conv.CustomerIdentifier,
		"length", len(text),
	)
	return nil
}
