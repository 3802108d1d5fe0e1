package models

import (
	"errors"
	"strconv"
	"strings"
)

// Job status values as reported by the backend. These are wire values,
// not display values, and must match what /api/status/{id} emits.
const (
	StatusStarting    = "starting"
	StatusDownloading = "downloading"
	StatusFinished    = "finished"
	StatusError       = "error"
	StatusNotFound    = "not_found"
)

// Format selects between a full video download and an audio-only extract.
type Format string

const (
	FormatVideo Format = "video"
	FormatAudio Format = "audio"
)

// Quality is the user-selectable quality tier. The available tiers
// depend on the chosen Format, see QualitiesFor.
type Quality string

const (
	QualityBest  Quality = "best"
	QualityHD    Quality = "HD"
	Quality4K    Quality = "4K"
	QualityAudio Quality = "audio"
)

var (
	ErrEmptyURL       = errors.New("URL is required")
	ErrInvalidFormat  = errors.New("invalid format")
	ErrInvalidQuality = errors.New("quality not available for format")
)

// QualitiesFor returns the quality tiers selectable for a format.
// Audio downloads have exactly one tier.
func QualitiesFor(f Format) []Quality {
	if f == FormatAudio {
		return []Quality{QualityAudio}
	}
	return []Quality{QualityBest, QualityHD, Quality4K}
}

type (
	// JobRequest is the client-side download request. SourceURL must be
	// non-empty and Quality must be one of QualitiesFor(Format).
	JobRequest struct {
		SourceURL string  `json:"url"`
		Quality   Quality `json:"quality"`
		Format    Format  `json:"format"`
	}

	// PlatformMatch is the advisory result of platform detection. It
	// never gates submission.
	PlatformMatch struct {
		PlatformID string `json:"platform"`
		Domain     string `json:"domain"`
		Recognized bool   `json:"supported"`
	}

	// VideoInfo is best-effort metadata about the media behind a URL.
	// Every field may be absent; display code substitutes placeholders.
	VideoInfo struct {
		Title     string         `json:"title,omitempty"`
		Uploader  string         `json:"uploader,omitempty"`
		Thumbnail string         `json:"thumbnail,omitempty"`
		Formats   []FormatOption `json:"formats,omitempty"`
		Duration  int            `json:"duration,omitempty"`
	}

	// FormatOption is one downloadable rendition reported by /api/info.
	FormatOption struct {
		Quality  string `json:"quality"`
		FormatID string `json:"format_id"`
		Ext      string `json:"ext"`
		Filesize int64  `json:"filesize"`
	}

	// StartResponse is the 2xx body of POST /api/download.
	StartResponse struct {
		DownloadID string `json:"download_id"`
		Status     string `json:"status"`
	}

	// StatusResponse is the body of GET /api/status/{id}. Progress is a
	// percent string as emitted by the extractor (e.g. "42.0%"); Speed
	// is a human-readable rate or empty.
	StatusResponse struct {
		Status   string `json:"status"`
		Progress string `json:"progress,omitempty"`
		Speed    string `json:"speed,omitempty"`
		Filename string `json:"filename,omitempty"`
		Error    string `json:"error,omitempty"`
	}

	// ErrorResponse is the structured error body the backend returns on
	// non-2xx responses.
	ErrorResponse struct {
		Error string `json:"error"`
	}

	// SiteDescriptor describes one supported platform, informational only.
	SiteDescriptor struct {
		Name    string   `json:"name"`
		Icon    string   `json:"icon"`
		Domains []string `json:"domains"`
	}

	// Job is one backend-tracked extraction task. Used as the row shape
	// of the server's job store.
	Job struct {
		ID        string `json:"id"`
		URL       string `json:"url"`
		Status    string `json:"status"`
		Progress  string `json:"progress"`
		Speed     string `json:"speed"`
		Error     string `json:"error,omitempty"`
		Filepath  string `json:"filepath,omitempty"`
		Timestamp int64  `json:"timestamp"`
	}

	// Artifact is the retrieved output of a finished job, already written
	// to disk. BLAKE3 is the hex checksum of the saved payload.
	Artifact struct {
		Filename string `json:"filename"`
		Path     string `json:"path"`
		BLAKE3   string `json:"blake3"`
		Size     int64  `json:"size"`
	}

	// Config holds the application's configuration settings.
	Config struct {
		ServerURL           string       `toml:"ServerUrl" json:"ServerUrl"`
		SavePath            string       `toml:"SavePath" json:"SavePath"`
		LogLevel            string       `toml:"LogLevel" json:"LogLevel"`
		LogFormat           string       `toml:"LogFormat" json:"LogFormat"`
		Server              ServerConfig `toml:"Server" json:"Server"`
		PollIntervalMs      int          `toml:"PollIntervalMs" json:"PollIntervalMs"`
		APIClientTimeoutSec int          `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		LogApiRequests      bool         `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// ServerConfig holds settings specific to the 'serve' command.
	ServerConfig struct {
		Listen       string `toml:"Listen"`
		DownloadsDir string `toml:"DownloadsDir"`
		DatabasePath string `toml:"DatabasePath"`
		YtDlpPath    string `toml:"YtDlpPath"`
	}
)

// Validate checks a JobRequest before any network call is made.
func (r JobRequest) Validate() error {
	if strings.TrimSpace(r.SourceURL) == "" {
		return ErrEmptyURL
	}
	switch r.Format {
	case FormatVideo, FormatAudio:
	default:
		return ErrInvalidFormat
	}
	for _, q := range QualitiesFor(r.Format) {
		if r.Quality == q {
			return nil
		}
	}
	return ErrInvalidQuality
}

// IsTerminalStatus reports whether a wire status value ends the job
// lifecycle. Terminal statuses are absorbing: no transition leaves them.
func IsTerminalStatus(status string) bool {
	return status == StatusFinished || status == StatusError
}

// ParsePercent converts an extractor percent string ("42.0%", " 7%",
// "100") into an integer clamped to [0,100]. Missing or unparsable
// values yield 0.
func ParsePercent(s string) int {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return int(f)
}
