package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/estoque-labs/goal-engine/pkg/apperrors"
)

// WebhookMessenger talks to the gateway over plain HTTP. The gateway owns the
// actual chat transport; this side only posts JSON.
type WebhookMessenger struct {
	baseURL string
	client  *http.Client
}

// NewWebhookMessenger builds a messenger against the gateway base URL.
func NewWebhookMessenger(baseURL string) *WebhookMessenger {
	return &WebhookMessenger{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type resolveResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type memberResponse struct {
	Members []Member `json:"members"`
}

func (m *WebhookMessenger) ResolveIndividual(ctx context.Context, id string) (*Destination, error) {
	var resp resolveResponse
	if err := m.get(ctx, fmt.Sprintf("/users/%s", id), &resp); err != nil {
		return nil, err
	}
	return &Destination{Kind: KindIndividual, ID: resp.ID, Name: resp.Name}, nil
}

func (m *WebhookMessenger) ResolveBroadcastChannel(ctx context.Context, id string) (*Destination, error) {
	var resp resolveResponse
	if err := m.get(ctx, fmt.Sprintf("/channels/%s", id), &resp); err != nil {
		return nil, err
	}
	return &Destination{Kind: KindBroadcast, ID: resp.ID, Name: resp.Name}, nil
}

func (m *WebhookMessenger) Send(ctx context.Context, dest *Destination, message string, payload map[string]interface{}) error {
	body := map[string]interface{}{
		"destination": dest.ID,
		"kind":        dest.Kind,
		"message":     message,
	}
	if payload != nil {
		body["payload"] = payload
	}
	return m.post(ctx, "/messages", body)
}

func (m *WebhookMessenger) FetchRoleMembers(ctx context.Context, roleID string) ([]Member, error) {
	var resp memberResponse
	if err := m.get(ctx, fmt.Sprintf("/roles/%s/members", roleID), &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func (m *WebhookMessenger) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: gateway returned %d for %s", apperrors.ErrDelivery, resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (m *WebhookMessenger) post(ctx context.Context, path string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: gateway returned %d for %s", apperrors.ErrDelivery, resp.StatusCode, path)
	}
	return nil
}
