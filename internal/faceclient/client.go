package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// SearchMatch represents a face match from gallery search. UserID is the
// student NIM the face was enrolled under.
type SearchMatch struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	Name       string  `json:"name,omitempty"`
}

// SearchResult contains 1:N search results, best match first.
type SearchResult struct {
	Matches       []SearchMatch `json:"matches"`
	FacesDetected int           `json:"faces_detected"`
	Quality       *FaceQuality  `json:"quality"`
}

// EnrollResult contains face enrollment response.
type EnrollResult struct {
	UserID  string       `json:"user_id"`
	Success bool         `json:"success"`
	Quality *FaceQuality `json:"quality"`
	Message string       `json:"message"`
}

// Client calls the face recognition microservice. Images are sent as data
// URIs or URLs in the "image" field.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// Search performs 1:N face identification against the enrolled gallery.
func (c *Client) Search(ctx context.Context, image string, topK int, threshold float64) (*SearchResult, error) {
	if c.Skip {
		return &SearchResult{
			Matches:       []SearchMatch{{UserID: "190041234", Similarity: 0.968, Name: "Budi Santoso"}},
			FacesDetected: 1,
			Quality:       &FaceQuality{Score: 0.85, IsFrontal: true},
		}, nil
	}
	if image == "" {
		return nil, fmt.Errorf("image required")
	}

	payload := map[string]interface{}{
		"image": image,
		"top_k": topK,
	}
	if threshold > 0 {
		payload["threshold"] = threshold
	}

	var out SearchResult
	if err := c.post(ctx, "/search", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Enroll adds a face to the recognition gallery under userID.
func (c *Client) Enroll(ctx context.Context, userID, image, name string) (*EnrollResult, error) {
	if c.Skip {
		return &EnrollResult{
			UserID:  userID,
			Success: true,
			Quality: &FaceQuality{Score: 0.85, IsFrontal: true},
			Message: "Face enrolled (mock)",
		}, nil
	}

	payload := map[string]interface{}{
		"user_id": userID,
		"image":   image,
	}
	if name != "" {
		payload["name"] = name
	}

	var out EnrollResult
	if err := c.post(ctx, "/enroll", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
