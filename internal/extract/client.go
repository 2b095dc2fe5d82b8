// Package extract talks to the remote extraction service: it validates URLs,
// submits jobs, reads job status and retrieves the raw media bytes.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"carbalite/internal/domain"
	"carbalite/internal/failure"
)

// DefaultBaseURL points at a locally running extraction service.
const DefaultBaseURL = "http://localhost:5000/api"

// DefaultMaxDownloadBytes caps a single buffered media transfer.
const DefaultMaxDownloadBytes int64 = 2 << 30

const maxErrorBody = 64 << 10

// Client is the HTTP client for the extraction API.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	logger           hclog.Logger
	maxDownloadBytes int64
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	// HTTPClient is optional and will default to a client with a 30s timeout.
	// Downloads are bounded by the caller's context instead of this timeout.
	HTTPClient       *http.Client
	Logger           hclog.Logger
	MaxDownloadBytes int64
}

// NewClient builds a Client with defaults for unset fields.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	return &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:       cfg.HTTPClient,
		logger:           cfg.Logger,
		maxDownloadBytes: cfg.MaxDownloadBytes,
	}
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type validateRequest struct {
	URL string `json:"url"`
}

type validateResponse struct {
	Valid     bool                  `json:"valid"`
	Info      *domain.VideoMetadata `json:"info"`
	VideoInfo *domain.VideoMetadata `json:"video_info"`
}

type preferencesPayload struct {
	SelectedVideoFormat string `json:"selectedVideoFormat"`
	SelectedAudioFormat string `json:"selectedAudioFormat"`
	VideoQuality        string `json:"videoQuality"`
	AudioQuality        string `json:"audioQuality"`
}

type extractRequest struct {
	URL         string             `json:"url"`
	Type        string             `json:"type"`
	Quality     string             `json:"quality,omitempty"`
	Preferences preferencesPayload `json:"preferences"`
}

type extractResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

type statusResponse struct {
	Status    string                `json:"status"`
	Progress  float64               `json:"progress"`
	Message   string                `json:"message"`
	Filename  string                `json:"filename"`
	VideoInfo *domain.VideoMetadata `json:"video_info"`
}

// transientError marks failures that a later poll may not repeat.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsTransient reports whether err is a transport failure or a server-side
// 5xx that is worth retrying on the next poll tick.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Health checks the service liveness endpoint.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out healthResponse
	if err := c.doJSON(ctx, "health", http.MethodGet, "/health", nil, &out, "Extraction service is unreachable"); err != nil {
		return "", err
	}
	if out.Message != "" {
		return out.Message, nil
	}
	return out.Status, nil
}

// Validate asks the service whether it can handle the URL and returns its metadata.
func (c *Client) Validate(ctx context.Context, mediaURL string) (domain.VideoMetadata, error) {
	var out validateResponse
	err := c.doJSON(ctx, "validate", http.MethodPost, "/validate", validateRequest{URL: mediaURL}, &out, "Failed to validate URL")
	if err != nil {
		return domain.VideoMetadata{}, err
	}

	info := out.Info
	if info == nil {
		info = out.VideoInfo
	}
	if info == nil {
		return domain.VideoMetadata{}, nil
	}
	return *info, nil
}

// Submit starts one extraction job. It is never retried because the remote
// side would create a second job for the same request.
func (c *Client) Submit(ctx context.Context, req domain.MediaRequest) (string, error) {
	body := extractRequest{
		URL:     req.URL,
		Type:    string(req.Type),
		Quality: req.Quality(),
		Preferences: preferencesPayload{
			SelectedVideoFormat: req.VideoFormat,
			SelectedAudioFormat: req.AudioFormat,
			VideoQuality:        string(req.VideoQuality),
			AudioQuality:        string(req.AudioQuality),
		},
	}

	var out extractResponse
	if err := c.doJSON(ctx, "submit", http.MethodPost, "/extract", body, &out, "Failed to extract media"); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.TaskID) == "" {
		return "", failure.Network("submit", "Failed to extract media: no task id returned", nil)
	}

	c.logger.Debug("extraction job submitted", "job_id", out.TaskID, "message", out.Message)
	return out.TaskID, nil
}

// Status returns the parsed remote job state.
func (c *Client) Status(ctx context.Context, jobID string) (domain.ExtractionJob, error) {
	var out statusResponse
	path := "/status/" + url.PathEscape(jobID)
	if err := c.doJSON(ctx, "status", http.MethodGet, path, nil, &out, "Failed to check status"); err != nil {
		return domain.ExtractionJob{}, err
	}

	status, ok := ParseStatus(out.Status)
	if !ok {
		return domain.ExtractionJob{}, failure.Network(
			"status",
			fmt.Sprintf("Failed to check status: unrecognized job status %q", out.Status),
			nil,
		)
	}

	return domain.ExtractionJob{
		ID:       jobID,
		Status:   status,
		Progress: clampPercent(out.Progress),
		Message:  out.Message,
		Filename: out.Filename,
		Metadata: out.VideoInfo,
	}, nil
}

// Download retrieves the completed job's raw bytes in one buffered transfer.
// onProgress receives a 0..1 fraction when the size is known up front.
func (c *Client) Download(ctx context.Context, jobID string, onProgress func(float64)) ([]byte, error) {
	const message = "Failed to download file"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/download/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, failure.Network("download", message, err)
	}

	// The shared client timeout would cut off large transfers; the caller's
	// context bounds this request instead.
	httpClient := *c.httpClient
	httpClient.Timeout = 0

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.Network("download", message, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.responseError("download", message, resp)
	}
	if resp.ContentLength > c.maxDownloadBytes {
		return nil, failure.Network("download", fmt.Sprintf("%s: media exceeds %d bytes", message, c.maxDownloadBytes), nil)
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	reader := &countingReader{
		r:          io.LimitReader(resp.Body, c.maxDownloadBytes+1),
		total:      resp.ContentLength,
		onProgress: onProgress,
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.Network("download", message, err)
	}
	if int64(buf.Len()) > c.maxDownloadBytes {
		return nil, failure.Network("download", fmt.Sprintf("%s: media exceeds %d bytes", message, c.maxDownloadBytes), nil)
	}
	if buf.Len() == 0 {
		return nil, failure.Network("download", message+": empty response", nil)
	}

	c.logger.Debug("media downloaded", "job_id", jobID, "bytes", buf.Len())
	return buf.Bytes(), nil
}

// ParseStatus maps the remote status string onto the closed status set.
// The service reports "extracting" and "pending" while a job is running.
func ParseStatus(raw string) (domain.RemoteStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "processing", "extracting", "pending":
		return domain.RemoteStatusProcessing, true
	case "completed":
		return domain.RemoteStatusCompleted, true
	case "error":
		return domain.RemoteStatusError, true
	default:
		return "", false
	}
}

// doJSON performs one JSON round trip and maps failures onto NetworkError.
func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any, message string) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return failure.Network(op, message, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return failure.Network(op, message, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.Network(op, message, &transientError{err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.responseError(op, message, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return failure.Network(op, message+": malformed response", err)
	}
	return nil
}

// responseError turns a non-success response into a NetworkError using the
// service's {"error": "..."} body when present.
func (c *Client) responseError(op, message string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := resp.Status
	var payload errorResponse
	if json.Unmarshal(data, &payload) == nil && strings.TrimSpace(payload.Error) != "" {
		detail = strings.TrimSpace(payload.Error)
	}

	cause := fmt.Errorf("http status %d", resp.StatusCode)
	if resp.StatusCode >= 500 {
		cause = &transientError{err: cause}
	}

	c.logger.Debug("extraction service rejected request", "op", op, "status", resp.StatusCode, "detail", detail)
	return failure.Network(op, message+": "+detail, cause)
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// countingReader reports read progress against a known total.
type countingReader struct {
	r          io.Reader
	read       int64
	total      int64
	onProgress func(float64)
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.read += int64(n)
	if n > 0 && r.total > 0 && r.onProgress != nil {
		fraction := float64(r.read) / float64(r.total)
		if fraction > 1 {
			fraction = 1
		}
		r.onProgress(fraction)
	}
	return n, err
}
