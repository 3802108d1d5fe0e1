package downloader

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go-media-download/internal/helpers"
	"go-media-download/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// Custom Retriever Errors
var (
	ErrHttpRequest = errors.New("HTTP request creation/execution error")
	ErrFileSystem  = errors.New("filesystem error") // Covers create, remove, rename
)

// DefaultFilename is used when the server supplies no usable
// Content-Disposition filename.
const DefaultFilename = "download"

// MsgRetrieveFailed is the generic message for a retrieval rejection
// with no structured server error.
const MsgRetrieveFailed = "Failed to download file"

// RetrieveError reports a non-success response from the artifact
// endpoint, carrying the server's error text when one was present.
type RetrieveError struct {
	Message    string
	StatusCode int
}

func (e *RetrieveError) Error() string {
	return fmt.Sprintf("artifact fetch failed (status %d): %s", e.StatusCode, e.Message)
}

// Permissive match on a quoted disposition value; unquoted values fall
// through to mime.ParseMediaType.
var dispositionFilenameRegex = regexp.MustCompile(`filename="([^"]*)"`)

// Retriever fetches the produced file of a finished job and writes it
// to the save directory.
type Retriever struct {
	client  *http.Client
	baseURL string
}

// NewRetriever creates a new Retriever instance.
func NewRetriever(client *http.Client, baseURL string) *Retriever {
	if client == nil {
		// Provide a default client if none is passed
		client = &http.Client{
			Timeout: 15 * time.Minute,
		}
	}
	return &Retriever{
		client:  client,
		baseURL: baseURL,
	}
}

// filenameFromDisposition derives the artifact filename from a
// disposition-style header value. Absent or malformed values yield
// DefaultFilename.
func filenameFromDisposition(disposition string) string {
	if disposition == "" {
		log.Debug("No Content-Disposition header, using default filename")
		return DefaultFilename
	}

	if m := dispositionFilenameRegex.FindStringSubmatch(disposition); m != nil && m[1] != "" {
		return helpers.SanitizeFilename(m[1])
	}

	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		return helpers.SanitizeFilename(params["filename"])
	}

	log.Debugf("Could not parse Content-Disposition %q, using default filename", disposition)
	return DefaultFilename
}

// retrievalError drains a non-success response and extracts the
// structured {error} message if the body carries one.
func retrievalError(resp *http.Response) error {
	fail := &RetrieveError{StatusCode: resp.StatusCode, Message: MsgRetrieveFailed}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fail
	}
	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		fail.Message = errResp.Error
	}
	return fail
}

// Retrieve fetches the artifact of a finished job and saves it under
// targetDir. The payload is streamed straight to disk; nothing is held
// in memory once the save completes. No retry is attempted on failure.
func (r *Retriever) Retrieve(ctx context.Context, jobID string, targetDir string) (models.Artifact, error) {
	reqURL := r.baseURL + "/api/download-file/" + jobID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: creating artifact request for %s: %v", ErrHttpRequest, reqURL, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		log.WithError(err).Errorf("Error performing artifact request for job %s", jobID)
		return models.Artifact{}, fmt.Errorf("%w: performing request for %s: %v", ErrHttpRequest, reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Artifact{}, retrievalError(resp)
	}

	filename := filenameFromDisposition(resp.Header.Get("Content-Disposition"))

	if !helpers.CheckAndMakeDir(targetDir) {
		return models.Artifact{}, fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, targetDir)
	}

	tempFile, err := os.CreateTemp(targetDir, filename+".*.tmp")
	if err != nil {
		return models.Artifact{}, fmt.Errorf("%w: creating temporary file in %s: %v", ErrFileSystem, targetDir, err)
	}

	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	hasher := blake3.New()
	counter := &helpers.CounterWriter{
		Writer: io.MultiWriter(tempFile, hasher),
	}

	if _, err := io.Copy(counter, resp.Body); err != nil {
		_ = tempFile.Close()
		return models.Artifact{}, fmt.Errorf("writing artifact to %s: %w", tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return models.Artifact{}, fmt.Errorf("%w: closing temporary file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}

	finalPath := filepath.Join(targetDir, filename)
	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		return models.Artifact{}, fmt.Errorf("%w: renaming %s to %s: %v", ErrFileSystem, tempFile.Name(), finalPath, err)
	}
	shouldCleanupTemp = false

	artifact := models.Artifact{
		Filename: filename,
		Path:     finalPath,
		BLAKE3:   hex.EncodeToString(hasher.Sum(nil)),
		Size:     int64(counter.Total),
	}
	log.Infof("Saved artifact %s (%s, blake3 %s)", finalPath, helpers.BytesToSize(counter.Total), artifact.BLAKE3[:16])
	return artifact, nil
}
