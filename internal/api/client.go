package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go-media-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrTransport = errors.New("backend request failed")
	ErrDecode    = errors.New("backend response could not be decoded")
)

// DefaultSubmitError is surfaced when a rejected submission carries no
// usable server message.
const DefaultSubmitError = "Download failed"

// RejectedError is returned when the backend answers a request with a
// non-success status and (possibly) a structured error body.
type RejectedError struct {
	Message    string
	StatusCode int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend rejected request (status %d): %s", e.StatusCode, e.Message)
}

// Client struct for interacting with the download backend API.
type Client struct {
	BaseURL    string
	HttpClient *http.Client // Use a shared client
}

// NewClient creates a new API client. baseURL is the backend root, e.g.
// "http://localhost:8080".
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HttpClient: httpClient,
	}
}

// postJSON sends a JSON request body and decodes a JSON response into out.
// Non-2xx responses are converted into a *RejectedError carrying the
// server's error text when one is present.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling request for %s: %w", path, err)
	}

	reqURL := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", reqURL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		log.WithError(err).Debugf("POST %s failed", path)
		return fmt.Errorf("%w: POST %s: %v", ErrTransport, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.rejectionFromResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.WithError(err).Debugf("Error unmarshalling response from %s", path)
		return fmt.Errorf("%w: POST %s: %v", ErrDecode, path, err)
	}
	return nil
}

// getJSON fetches a path and decodes a JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	reqURL := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", reqURL, err)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		log.WithError(err).Debugf("GET %s failed", path)
		return fmt.Errorf("%w: GET %s: %v", ErrTransport, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.rejectionFromResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.WithError(err).Debugf("Error unmarshalling response from %s", path)
		return fmt.Errorf("%w: GET %s: %v", ErrDecode, path, err)
	}
	return nil
}

// rejectionFromResponse drains a non-2xx response and extracts the
// structured {error} message if the body carries one.
func (c *Client) rejectionFromResponse(resp *http.Response) error {
	rejected := &RejectedError{StatusCode: resp.StatusCode, Message: DefaultSubmitError}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		log.WithError(err).Debug("Error reading error response body")
		return rejected
	}

	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		rejected.Message = errResp.Error
	}
	return rejected
}

// DetectPlatform asks the backend whether a URL belongs to a supported
// platform. The result is advisory and never gates submission.
func (c *Client) DetectPlatform(ctx context.Context, mediaURL string) (models.PlatformMatch, error) {
	var match models.PlatformMatch
	payload := map[string]string{"url": mediaURL}
	if err := c.postJSON(ctx, "/api/detect-platform", payload, &match); err != nil {
		return models.PlatformMatch{}, err
	}
	return match, nil
}

// GetVideoInfo fetches best-effort metadata for a URL. Callers treat
// failure as missing enrichment, not as an error condition.
func (c *Client) GetVideoInfo(ctx context.Context, mediaURL string) (models.VideoInfo, error) {
	var info models.VideoInfo
	payload := map[string]string{"url": mediaURL}
	if err := c.postJSON(ctx, "/api/info", payload, &info); err != nil {
		return models.VideoInfo{}, err
	}
	return info, nil
}

// StartDownload submits a job and returns the backend-assigned job id.
// A non-success response surfaces as a *RejectedError.
func (c *Client) StartDownload(ctx context.Context, req models.JobRequest) (string, error) {
	var started models.StartResponse
	if err := c.postJSON(ctx, "/api/download", req, &started); err != nil {
		return "", err
	}
	if started.DownloadID == "" {
		return "", fmt.Errorf("%w: POST /api/download: missing download_id", ErrDecode)
	}
	log.Debugf("Download job started with id %s", started.DownloadID)
	return started.DownloadID, nil
}

// GetStatus queries the status of a job by id.
func (c *Client) GetStatus(ctx context.Context, id string) (models.StatusResponse, error) {
	var status models.StatusResponse
	if err := c.getJSON(ctx, "/api/status/"+id, &status); err != nil {
		return models.StatusResponse{}, err
	}
	return status, nil
}

// GetSupportedSites fetches the informational list of supported platforms.
func (c *Client) GetSupportedSites(ctx context.Context) ([]models.SiteDescriptor, error) {
	var sites []models.SiteDescriptor
	if err := c.getJSON(ctx, "/api/supported-sites", &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// ArtifactURL returns the fetch URL for a finished job's file.
func (c *Client) ArtifactURL(id string) string {
	return c.BaseURL + "/api/download-file/" + id
}
