package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	"go-media-download/internal/helpers"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper to log request and
// response details to a file. Binary bodies are not logged.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	writer    *bufio.Writer
	mu        sync.Mutex
}

// NewLoggingTransport creates a new LoggingTransport appending to the
// given log file path.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	safePath := helpers.SanitizePath(logFilePath)
	// #nosec G304
	f, err := os.OpenFile(safePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", safePath, err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		log.WithError(err).Error("Failed to dump API request for logging")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s\n", start.Format(time.RFC3339), string(reqDump)))
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s\n", duration, err.Error()))
		return resp, err
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			log.WithError(readErr).Error("Failed to read response body for logging")
			respDump, _ := httputil.DumpResponse(resp, false)
			t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v) ---\n%s\n(Body read failed)\n", duration, string(respDump)))
			return resp, nil
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to close original response body before replacing it")
		}
		resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		respDump, _ := httputil.DumpResponse(resp, false)
		t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v) ---\n%s\n--- Response Body ---\n%s\n", duration, string(respDump), string(bodyBytes)))
	} else {
		respDump, _ := httputil.DumpResponse(resp, false)
		t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v, Type: %s) ---\n%s\n(Body not logged)\n", duration, contentType, string(respDump)))
	}

	return resp, nil
}

// writeLog writes a string to the buffered writer under the lock.
func (t *LoggingTransport) writeLog(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.writer.WriteString(s + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
		return
	}
	if err := t.writer.Flush(); err != nil {
		log.WithError(err).Error("Failed to flush API log writer")
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", err)
	}
	return t.logFile.Close()
}
