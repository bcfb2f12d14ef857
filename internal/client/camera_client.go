package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"parking-service/internal/config"
)

// PlateRead is one raw OCR read reported by the camera service. RawText is
// unfiltered recognizer output and may contain garbage around the plate.
type PlateRead struct {
	ID         string    `json:"id"`
	RawText    string    `json:"raw_text"`
	CameraID   string    `json:"camera_id"`
	Direction  string    `json:"direction"`
	CapturedAt time.Time `json:"captured_at"`
}

type readsResponse struct {
	Data []PlateRead `json:"data"`
}

// CameraClient pulls raw plate reads from the camera service's internal API.
type CameraClient struct {
	baseURL       string
	internalToken string
	httpClient    *http.Client
}

func NewCameraClient(cfg *config.Config) *CameraClient {
	return &CameraClient{
		baseURL:       cfg.Camera.ServiceURL,
		internalToken: cfg.Camera.InternalToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// RecentReads fetches reads for one lane captured after the since mark.
func (c *CameraClient) RecentReads(ctx context.Context, direction string, since time.Time) ([]PlateRead, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("camera service URL is not configured")
	}

	u, err := url.Parse(c.baseURL + "/internal/camera/reads")
	if err != nil {
		return nil, fmt.Errorf("invalid camera service URL: %w", err)
	}

	q := u.Query()
	q.Set("direction", direction)
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	var resp *http.Response
	var lastErr error
	maxRetries := 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if c.internalToken != "" {
			req.Header.Set("X-Internal-Token", c.internalToken)
		}

		resp, lastErr = c.httpClient.Do(req)
		if lastErr == nil {
			break
		}
		if attempt == maxRetries-1 {
			return nil, fmt.Errorf("failed to execute request after %d attempts: %w", maxRetries, lastErr)
		}
		time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
	}
	if resp == nil {
		return nil, fmt.Errorf("failed to execute request: %w", lastErr)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response readsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return response.Data, nil
}
