package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go-media-download/internal/api"
	"go-media-download/internal/coordinator"
	"go-media-download/internal/database"
	"go-media-download/internal/downloader"
	"go-media-download/internal/extract"
	"go-media-download/internal/models"
	"go-media-download/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExtractor stands in for yt-dlp during integration tests.
type scriptedExtractor struct {
	payload []byte
	err     error
}

func (f *scriptedExtractor) Info(ctx context.Context, mediaURL string) (models.VideoInfo, error) {
	return models.VideoInfo{Title: "Integration Clip"}, nil
}

func (f *scriptedExtractor) Download(ctx context.Context, mediaURL, id, dir string, req models.JobRequest, progress extract.ProgressFunc) (string, error) {
	progress("50.0%", "2.0MiB/s")
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(dir, id+"_clip.mp4")
	if err := os.WriteFile(path, f.payload, 0600); err != nil {
		return "", err
	}
	return path, nil
}

// TestEndToEndDownload drives the full client workflow against a real
// backend instance: resolve, submit, poll to completion, retrieve.
func TestEndToEndDownload(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	store, err := database.Open(filepath.Join(tmpDir, "jobs.db"))
	require.NoError(t, err, "Should open job store")
	defer store.Close()

	extractor := &scriptedExtractor{payload: []byte("integration media payload")}
	backend := server.New(store, extractor, filepath.Join(tmpDir, "serve"))

	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	client := api.NewClient(ts.URL, ts.Client())
	coord := coordinator.New(client, 10*time.Millisecond)
	defer coord.Close()

	terminal := make(chan coordinator.Snapshot, 1)
	coord.OnUpdate(func(snap coordinator.Snapshot) {
		if snap.State.IsTerminal() {
			select {
			case terminal <- snap:
			default:
			}
		}
	})

	ctx := context.Background()

	// Platform resolution is advisory
	match, err := coord.Resolve(ctx, "https://www.youtube.com/watch?v=integration")
	require.NoError(t, err, "Should detect platform")
	assert.True(t, match.Recognized, "YouTube URL should be recognized")
	assert.Equal(t, "YouTube", match.PlatformID)

	err = coord.Submit(ctx, models.JobRequest{
		SourceURL: "https://www.youtube.com/watch?v=integration",
		Format:    models.FormatVideo,
		Quality:   models.QualityBest,
	})
	require.NoError(t, err, "Should submit job")

	var final coordinator.Snapshot
	select {
	case final = <-terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("Job never reached a terminal state")
	}

	require.Equal(t, coordinator.StateFinished, final.State, "Job should finish: %s", final.Err)
	assert.Equal(t, 100, final.Progress, "Finished jobs report full progress")
	require.NotEmpty(t, final.JobID)

	// Retrieve the artifact
	saveDir := filepath.Join(tmpDir, "saved")
	retriever := downloader.NewRetriever(ts.Client(), ts.URL)
	artifact, err := retriever.Retrieve(ctx, final.JobID, saveDir)
	require.NoError(t, err, "Should retrieve artifact")

	content, err := os.ReadFile(artifact.Path)
	require.NoError(t, err, "Should read saved file")
	assert.Equal(t, "integration media payload", string(content))
	assert.Equal(t, int64(len(content)), artifact.Size)
	assert.NotEmpty(t, artifact.BLAKE3, "Checksum should be recorded")
	assert.Equal(t, final.JobID+"_clip.mp4", artifact.Filename, "Filename should come from Content-Disposition")
}

// TestEndToEndFailure verifies extraction failures surface as an error
// state with the backend's message.
func TestEndToEndFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	store, err := database.Open(filepath.Join(tmpDir, "jobs.db"))
	require.NoError(t, err, "Should open job store")
	defer store.Close()

	extractor := &scriptedExtractor{err: assert.AnError}
	backend := server.New(store, extractor, filepath.Join(tmpDir, "serve"))

	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	coord := coordinator.New(api.NewClient(ts.URL, ts.Client()), 10*time.Millisecond)
	defer coord.Close()

	terminal := make(chan coordinator.Snapshot, 1)
	coord.OnUpdate(func(snap coordinator.Snapshot) {
		if snap.State.IsTerminal() {
			select {
			case terminal <- snap:
			default:
			}
		}
	})

	err = coord.Submit(context.Background(), models.JobRequest{
		SourceURL: "https://www.youtube.com/watch?v=broken",
		Format:    models.FormatVideo,
		Quality:   models.QualityBest,
	})
	require.NoError(t, err, "Submission itself should succeed")

	var final coordinator.Snapshot
	select {
	case final = <-terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("Job never reached a terminal state")
	}

	assert.Equal(t, coordinator.StateError, final.State)
	assert.Contains(t, final.Err, assert.AnError.Error(), "Backend error text should surface")
}
