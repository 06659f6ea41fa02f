package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/worktrace/internal/archive"
	"github.com/fentz26/worktrace/internal/controlplane"
	"github.com/fentz26/worktrace/internal/models"
	"github.com/fentz26/worktrace/internal/stats"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the worktrace API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Health fetches the daemon health. The payload is returned alongside the
// error when the daemon reports itself unhealthy.
func (c *Client) Health() (*controlplane.HealthResponse, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health controlplane.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("daemon unhealthy: %s", health.DB)
	}
	return &health, nil
}

// OpenIntervals fetches the intervals that are currently open.
func (c *Client) OpenIntervals() ([]models.Interval, error) {
	var intervals []models.Interval
	if err := c.getJSON("/intervals/open", &intervals); err != nil {
		return nil, err
	}
	return intervals, nil
}

// RecentIntervals fetches the latest limit closed intervals without forcing
// a flush of the write queue.
func (c *Client) RecentIntervals(limit int) ([]models.Interval, error) {
	var intervals []models.Interval
	path := "/intervals?flush=false&limit=" + strconv.Itoa(limit)
	if err := c.getJSON(path, &intervals); err != nil {
		return nil, err
	}
	return intervals, nil
}

// Stats fetches the statistics summary.
func (c *Client) Stats() (*stats.Summary, error) {
	var summary stats.Summary
	if err := c.getJSON("/stats", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Emit submits an event.
func (c *Client) Emit(ev models.Event) error {
	_, err := c.post("/events", ev)
	return err
}

// Export archives and empties the transfer store.
func (c *Client) Export() (*archive.Result, error) {
	body, err := c.post("/export", nil)
	if err != nil {
		return nil, err
	}
	var result archive.Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Prune drops statistics intervals older than the retention window.
func (c *Client) Prune() (int, error) {
	body, err := c.post("/intervals/prune", nil)
	if err != nil {
		return 0, err
	}
	var result struct {
		Removed int `json:"removed"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	return result.Removed, nil
}

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", bytes.TrimSpace(body))
	}
	return body, nil
}
