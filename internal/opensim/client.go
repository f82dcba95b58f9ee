package opensim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const injectTimeout = 10 * time.Second

// Client posts bridged chat back into the simulator's group-message
// injection endpoint, authenticated with the shared bridge secret.
type Client struct {
	log       zerolog.Logger
	regionURL string
	secret    string
	http      *http.Client
}

func NewClient(regionURL, secret string, log zerolog.Logger) *Client {
	return &Client{
		log:       log,
		regionURL: strings.TrimSuffix(regionURL, "/"),
		secret:    secret,
		http:      &http.Client{Timeout: injectTimeout},
	}
}

type injectRequest struct {
	GroupUUID string `json:"group_uuid"`
	FromName  string `json:"from_name"`
	Message   string `json:"message"`
}

func (c *Client) Inject(ctx context.Context, groupID uuid.UUID, fromName, message string) error {
	body, err := json.Marshal(&injectRequest{
		GroupUUID: groupID.String(),
		FromName:  fromName,
		Message:   message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal injection request: %w", err)
	}

	url := c.regionURL + "/matrix/group-message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to prepare injection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bridge-Secret", c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post group message to region: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("region injection failed (status %d): %s", resp.StatusCode, respBody)
	}

	c.log.Debug().
		Str("group_id", groupID.String()).
		Str("from_name", fromName).
		Msg("Injected message into region")
	return nil
}
