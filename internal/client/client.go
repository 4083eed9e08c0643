package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lcnr/docker-queue/internal/models"
)

const DefaultTimeout = 30 * time.Second

// TransportError means the request never got an HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: failed to execute request: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError is an unexpected HTTP status from the daemon.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

// Client talks to a running queue daemon.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// NewLocal targets the daemon on 127.0.0.1:port.
func NewLocal(port int) *Client {
	return New(fmt.Sprintf("http://127.0.0.1:%d", port))
}

func (c *Client) QueueContainer(ctx context.Context, command string, status models.Status) (*models.LaunchRequest, error) {
	body := map[string]string{"command": command, "status": status.String()}
	var req models.LaunchRequest
	if err := c.do(ctx, "queue container", http.MethodPost, "/queue_container", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *Client) SetStatus(ctx context.Context, id string, status models.Status) (*models.LaunchRequest, error) {
	body := map[string]string{"id": id, "status": status.String()}
	var req models.LaunchRequest
	if err := c.do(ctx, "set status", http.MethodPost, "/set_container_status", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *Client) ListContainers(ctx context.Context) ([]models.Container, error) {
	var list []models.Container
	if err := c.do(ctx, "list containers", http.MethodGet, "/list_containers", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetRunningContainer returns nil when the daemon is idle.
func (c *Client) GetRunningContainer(ctx context.Context) (*models.RunningContainerID, error) {
	var id *models.RunningContainerID
	if err := c.do(ctx, "get running container", http.MethodGet, "/get_running_container", nil, &id); err != nil {
		return nil, err
	}
	return id, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, "health check", http.MethodGet, "/health_check", nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{Op: op, Code: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errBody) == nil {
			statusErr.Message = errBody.Error
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}
