package stubapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func init() {
	gin.SetMode(gin.TestMode)
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Header().Get("Content-Type") != "application/octet-stream" {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func submit(t *testing.T, h http.Handler, url string) string {
	t.Helper()
	rec, body := do(t, h, http.MethodPost, "/api/extract", map[string]any{"url": url, "type": "audio"})
	require.Equal(t, http.StatusOK, rec.Code)
	id, _ := body["task_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	rec, body := do(t, New(Options{}).Handler(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestValidate(t *testing.T) {
	h := New(Options{}).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/validate", map[string]string{"url": testURL})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])

	rec, body = do(t, h, http.MethodPost, "/api/validate", map[string]string{"url": "https://vimeo.com/1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid YouTube or SoundCloud URL", body["error"])

	rec, body = do(t, h, http.MethodPost, "/api/validate", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No URL provided", body["error"])
}

func TestExtractRejectsBadType(t *testing.T) {
	rec, body := do(t, New(Options{}).Handler(), http.MethodPost, "/api/extract", map[string]string{"url": testURL, "type": "gif"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid media type", body["error"])
}

func TestJobLifecycle(t *testing.T) {
	srv := New(Options{Media: []byte("payload"), Filename: "song.webm", Steps: 2})
	h := srv.Handler()
	id := submit(t, h, testURL)
	assert.Equal(t, 1, srv.Len())

	rec, _ := do(t, h, http.MethodGet, "/api/download/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "download before completion")

	var statuses []any
	for i := 0; i < 3; i++ {
		_, body := do(t, h, http.MethodGet, "/api/status/"+id, nil)
		statuses = append(statuses, body["status"])
	}
	assert.Equal(t, []any{"processing", "processing", "completed"}, statuses)

	_, body := do(t, h, http.MethodGet, "/api/status/"+id, nil)
	assert.Equal(t, "song.webm", body["filename"])
	assert.Equal(t, float64(100), body["progress"])

	rec, _ = do(t, h, http.MethodGet, "/api/download/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "song.webm")
}

func TestJobFailure(t *testing.T) {
	h := New(Options{Steps: 1, Failures: map[string]string{testURL: "Video unavailable"}}).Handler()
	id := submit(t, h, testURL)

	do(t, h, http.MethodGet, "/api/status/"+id, nil)
	_, body := do(t, h, http.MethodGet, "/api/status/"+id, nil)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Video unavailable", body["message"])
}

func TestUnknownTask(t *testing.T) {
	h := New(Options{}).Handler()
	rec, body := do(t, h, http.MethodGet, "/api/status/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found", body["error"])

	rec, _ = do(t, h, http.MethodGet, "/api/download/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
