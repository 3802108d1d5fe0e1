package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-media-download/internal/database"
	"go-media-download/internal/extract"
	"go-media-download/internal/models"
)

// fakeExtractor is a scripted stand-in for yt-dlp.
type fakeExtractor struct {
	info        models.VideoInfo
	infoErr     error
	downloadErr error
	// reports are progress callbacks emitted before the download resolves.
	reports [][2]string
	payload []byte
	started chan string
}

func (f *fakeExtractor) Info(ctx context.Context, mediaURL string) (models.VideoInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeExtractor) Download(ctx context.Context, mediaURL, id, dir string, req models.JobRequest, progress extract.ProgressFunc) (string, error) {
	if f.started != nil {
		defer func() { f.started <- id }()
	}
	for _, r := range f.reports {
		progress(r[0], r[1])
	}
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	path := filepath.Join(dir, id+"_clip.mp4")
	if err := os.WriteFile(path, f.payload, 0600); err != nil {
		return "", err
	}
	return path, nil
}

func newTestServer(t *testing.T, ex extract.Extractor) *Server {
	t.Helper()
	store, err := database.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, ex, t.TempDir())
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func getPath(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// TestDetectPlatformEndpoint tests platform classification over HTTP
func TestDetectPlatformEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeExtractor{})

	w := postJSON(t, srv.Handler(), "/api/detect-platform", map[string]string{"url": "https://www.youtube.com/watch?v=x"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var match models.PlatformMatch
	json.Unmarshal(w.Body.Bytes(), &match)
	if !match.Recognized || match.PlatformID != "YouTube" || match.Domain != "youtube.com" {
		t.Errorf("Unexpected match: %+v", match)
	}
}

// TestDetectPlatformUnknown tests the unrecognized host response
func TestDetectPlatformUnknown(t *testing.T) {
	srv := newTestServer(t, &fakeExtractor{})

	w := postJSON(t, srv.Handler(), "/api/detect-platform", map[string]string{"url": "https://example.org/clip"})
	var match models.PlatformMatch
	json.Unmarshal(w.Body.Bytes(), &match)
	if match.Recognized || match.PlatformID != "Unknown" {
		t.Errorf("Expected unknown platform, got %+v", match)
	}
}

// TestDetectPlatformMissingURL tests the required-URL error
func TestDetectPlatformMissingURL(t *testing.T) {
	srv := newTestServer(t, &fakeExtractor{})

	w := postJSON(t, srv.Handler(), "/api/detect-platform", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
	var errResp models.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &errResp)
	if errResp.Error != "URL is required" {
		t.Errorf("Unexpected error body: %+v", errResp)
	}
}

// TestInfoEndpoint tests metadata retrieval and extraction failure
func TestInfoEndpoint(t *testing.T) {
	ex := &fakeExtractor{info: models.VideoInfo{Title: "A Clip", Uploader: "someone"}}
	srv := newTestServer(t, ex)

	w := postJSON(t, srv.Handler(), "/api/info", map[string]string{"url": "https://youtu.be/x"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var info models.VideoInfo
	json.Unmarshal(w.Body.Bytes(), &info)
	if info.Title != "A Clip" {
		t.Errorf("Unexpected info: %+v", info)
	}

	ex.infoErr = errors.New("no extractor for URL")
	w = postJSON(t, srv.Handler(), "/api/info", map[string]string{"url": "https://example.org/x"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on extraction failure, got %d", w.Code)
	}
}

// waitForStatus polls the status endpoint until the job reaches want.
func waitForStatus(t *testing.T, srv *Server, id, want string) models.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := getPath(t, srv.Handler(), "/api/status/"+id)
		var status models.StatusResponse
		json.Unmarshal(w.Body.Bytes(), &status)
		if status.Status == want {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job %s never reached status %q", id, want)
	return models.StatusResponse{}
}

// TestDownloadLifecycle tests submit, progress recording, completion and
// artifact retrieval end to end against a scripted extractor
func TestDownloadLifecycle(t *testing.T) {
	ex := &fakeExtractor{
		reports: [][2]string{{"42.0%", "1.2MB/s"}},
		payload: []byte("media bytes"),
		started: make(chan string, 1),
	}
	srv := newTestServer(t, ex)

	w := postJSON(t, srv.Handler(), "/api/download", models.JobRequest{
		SourceURL: "https://youtu.be/x",
		Format:    models.FormatVideo,
		Quality:   models.QualityBest,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var started models.StartResponse
	json.Unmarshal(w.Body.Bytes(), &started)
	if started.DownloadID == "" || started.Status != "started" {
		t.Fatalf("Unexpected start response: %+v", started)
	}

	<-ex.started
	status := waitForStatus(t, srv, started.DownloadID, models.StatusFinished)
	if status.Progress != "100%" {
		t.Errorf("Expected finished progress 100%%, got %q", status.Progress)
	}
	if status.Filename != started.DownloadID+"_clip.mp4" {
		t.Errorf("Unexpected filename: %q", status.Filename)
	}

	// Fetch the artifact
	w = getPath(t, srv.Handler(), "/api/download-file/"+started.DownloadID)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 fetching artifact, got %d", w.Code)
	}
	if w.Body.String() != "media bytes" {
		t.Errorf("Unexpected artifact body: %q", w.Body.String())
	}
	disposition := w.Header().Get("Content-Disposition")
	if disposition != `attachment; filename="`+started.DownloadID+`_clip.mp4"` {
		t.Errorf("Unexpected Content-Disposition: %q", disposition)
	}
}

// TestDownloadFailure tests that extraction errors surface in job status
func TestDownloadFailure(t *testing.T) {
	ex := &fakeExtractor{
		downloadErr: errors.New("Video unavailable"),
		started:     make(chan string, 1),
	}
	srv := newTestServer(t, ex)

	w := postJSON(t, srv.Handler(), "/api/download", models.JobRequest{SourceURL: "https://youtu.be/x"})
	var started models.StartResponse
	json.Unmarshal(w.Body.Bytes(), &started)

	<-ex.started
	status := waitForStatus(t, srv, started.DownloadID, models.StatusError)
	if status.Error != "Video unavailable" {
		t.Errorf("Expected extraction error in status, got %q", status.Error)
	}
}

// TestDownloadMissingURL tests submission rejection
func TestDownloadMissingURL(t *testing.T) {
	srv := newTestServer(t, &fakeExtractor{})

	w := postJSON(t, srv.Handler(), "/api/download", models.JobRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

// TestStatusUnknownID tests the not_found status body
func TestStatusUnknownID(t *testing.T) {
	srv := newTestServer(t, &fakeExtractor{})

	w := getPath(t, srv.Handler(), "/api/status/nope")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var status models.StatusResponse
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.Status != models.StatusNotFound {
		t.Errorf("Expected not_found, got %q", status.Status)
	}
}

// TestDownloadFileNotFinished tests artifact fetch gating
func TestDownloadFileNotFinished(t *testing.T) {
	srv := newTestServer(t, &fakeExtractor{})

	w := getPath(t, srv.Handler(), "/api/download-file/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	var errResp models.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &errResp)
	if errResp.Error != "Download not finished or not found" {
		t.Errorf("Unexpected error body: %+v", errResp)
	}
}

// TestSupportedSitesEndpoint tests the static platform list
func TestSupportedSitesEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeExtractor{})

	w := getPath(t, srv.Handler(), "/api/supported-sites")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var sites []models.SiteDescriptor
	json.Unmarshal(w.Body.Bytes(), &sites)
	if len(sites) != len(supportedSites) {
		t.Fatalf("Expected %d sites, got %d", len(supportedSites), len(sites))
	}
	if sites[0].Name != "YouTube" {
		t.Errorf("Expected YouTube first, got %q", sites[0].Name)
	}
}
