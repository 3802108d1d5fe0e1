package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zeebo/blake3"
)

// TestNewRetriever_NilClient tests that a default client is created when nil is passed
func TestNewRetriever_NilClient(t *testing.T) {
	r := NewRetriever(nil, "http://localhost:8080")

	if r.client == nil {
		t.Fatal("Expected default HTTP client to be created")
	}
	if r.client.Timeout != 15*time.Minute {
		t.Errorf("Expected default timeout to be 15 minutes, got %v", r.client.Timeout)
	}
}

func TestFilenameFromDisposition(t *testing.T) {
	tests := []struct {
		disposition string
		want        string
	}{
		{`attachment; filename="clip.mp4"`, "clip.mp4"},
		{``, "download"},
		{`attachment`, "download"},
		{`attachment; filename=unquoted.mp4`, "unquoted.mp4"},
		{`attachment; filename=""`, "download"},
		{`inline; filename="song.mp3"`, "song.mp3"},
		{`garbage ;;; nonsense`, "download"},
		{`attachment; filename="../../evil.sh"`, "evil.sh"},
	}

	for _, tt := range tests {
		if got := filenameFromDisposition(tt.disposition); got != tt.want {
			t.Errorf("filenameFromDisposition(%q) = %q, want %q", tt.disposition, got, tt.want)
		}
	}
}

// TestRetrieve_Success tests a full artifact fetch and save
func TestRetrieve_Success(t *testing.T) {
	payload := []byte("finished media payload")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/download-file/abc" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", `attachment; filename="clip.mp4"`)
		w.Write(payload)
	}))
	defer server.Close()

	tempDir := t.TempDir()
	r := NewRetriever(&http.Client{Timeout: 30 * time.Second}, server.URL)

	artifact, err := r.Retrieve(context.Background(), "abc", tempDir)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}

	if artifact.Filename != "clip.mp4" {
		t.Errorf("Expected filename clip.mp4, got %q", artifact.Filename)
	}
	if artifact.Size != int64(len(payload)) {
		t.Errorf("Expected size %d, got %d", len(payload), artifact.Size)
	}

	saved, err := os.ReadFile(filepath.Join(tempDir, "clip.mp4"))
	if err != nil {
		t.Fatalf("Failed to read saved artifact: %v", err)
	}
	if string(saved) != string(payload) {
		t.Errorf("Saved content mismatch: got %q", string(saved))
	}

	sum := blake3.Sum256(payload)
	if artifact.BLAKE3 != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum mismatch: got %s", artifact.BLAKE3)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 1 {
		t.Errorf("Expected exactly 1 file in save dir, got %d", len(entries))
	}
}

// TestRetrieve_NoDisposition tests the default filename fallback
func TestRetrieve_NoDisposition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	defer server.Close()

	tempDir := t.TempDir()
	r := NewRetriever(&http.Client{}, server.URL)

	artifact, err := r.Retrieve(context.Background(), "abc", tempDir)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if artifact.Filename != DefaultFilename {
		t.Errorf("Expected default filename %q, got %q", DefaultFilename, artifact.Filename)
	}
}

// TestRetrieve_ServerError tests structured error extraction, no retry
func TestRetrieve_ServerError(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "Download not finished or not found"}`))
	}))
	defer server.Close()

	r := NewRetriever(&http.Client{}, server.URL)
	_, err := r.Retrieve(context.Background(), "missing", t.TempDir())
	if err == nil {
		t.Fatal("Expected retrieval error")
	}

	var fail *RetrieveError
	if !errors.As(err, &fail) {
		t.Fatalf("Expected *RetrieveError, got %T", err)
	}
	if fail.Message != "Download not finished or not found" {
		t.Errorf("Expected server message, got %q", fail.Message)
	}
	if requests != 1 {
		t.Errorf("Expected exactly 1 request (no retry), got %d", requests)
	}
}

// TestRetrieve_ServerErrorNoBody tests the generic fallback message
func TestRetrieve_ServerErrorNoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewRetriever(&http.Client{}, server.URL)
	_, err := r.Retrieve(context.Background(), "x", t.TempDir())

	var fail *RetrieveError
	if !errors.As(err, &fail) {
		t.Fatalf("Expected *RetrieveError, got %T", err)
	}
	if fail.Message != MsgRetrieveFailed {
		t.Errorf("Expected fallback %q, got %q", MsgRetrieveFailed, fail.Message)
	}
}

// TestRetrieve_NetworkError tests transport failure handling
func TestRetrieve_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Closed before use

	r := NewRetriever(&http.Client{Timeout: time.Second}, server.URL)
	_, err := r.Retrieve(context.Background(), "x", t.TempDir())
	if !errors.Is(err, ErrHttpRequest) {
		t.Errorf("Expected ErrHttpRequest, got %v", err)
	}
}
