package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// PushClient posts notifications to an FCM-style HTTP push gateway. Devices
// subscribe to the topic "user-<id>".
type PushClient struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushClient(endpoint, key string) *PushClient {
	return &PushClient{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

type pushMessage struct {
	Message struct {
		Topic        string            `json:"topic"`
		Notification map[string]string `json:"notification"`
		Data         map[string]string `json:"data"`
	} `json:"message"`
}

func (p *PushClient) Deliver(ctx context.Context, n models.Notification) error {
	var body pushMessage
	body.Message.Topic = "user-" + n.UserID
	body.Message.Notification = map[string]string{"title": n.Title, "body": n.Body}
	body.Message.Data = map[string]string{"notification_id": n.ID, "type": string(n.Type), "ride_id": n.RideID}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("push %s: %w", n.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push %s: gateway returned %d", n.ID, resp.StatusCode)
	}
	return nil
}
