package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go-media-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// ProgressFunc receives in-flight progress reports while a download runs.
// percent is an extractor percent string ("42.0%"), speed a human-readable
// rate ("1.20MiB/s").
type ProgressFunc func(percent, speed string)

// Extractor fetches media metadata and content for a URL. The production
// implementation shells out to yt-dlp; tests substitute a scripted fake.
type Extractor interface {
	Info(ctx context.Context, mediaURL string) (models.VideoInfo, error)
	// Download fetches the media into dir, naming the output file with the
	// job id prefix, and returns the path of the produced file.
	Download(ctx context.Context, mediaURL, id, dir string, req models.JobRequest, progress ProgressFunc) (string, error)
}

// YtDlp runs the yt-dlp binary.
type YtDlp struct {
	binaryPath string
}

// NewYtDlp creates an extractor using the given yt-dlp binary. An empty
// path falls back to "yt-dlp" on PATH.
func NewYtDlp(binaryPath string) *YtDlp {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	return &YtDlp{binaryPath: binaryPath}
}

// FormatSelector maps a request onto a yt-dlp format expression. Video
// qualities cap the rendition height; audio always takes the best stream.
func FormatSelector(req models.JobRequest) string {
	if req.Format == models.FormatAudio {
		return "bestaudio/best"
	}
	switch req.Quality {
	case models.QualityBest:
		return "best[height<=1080]"
	case models.Quality4K:
		return "best[height<=2160]"
	case models.QualityHD:
		return "best[height<=720]"
	default:
		return "best"
	}
}

// ytdlpInfo is the subset of `yt-dlp -J` output we care about.
type ytdlpInfo struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Uploader  string  `json:"uploader"`
	Thumbnail string  `json:"thumbnail"`
	Formats   []struct {
		Vcodec   string `json:"vcodec"`
		Height   int    `json:"height"`
		FormatID string `json:"format_id"`
		Ext      string `json:"ext"`
		Filesize int64  `json:"filesize"`
	} `json:"formats"`
}

// Info extracts metadata without downloading.
func (y *YtDlp) Info(ctx context.Context, mediaURL string) (models.VideoInfo, error) {
	cmd := exec.CommandContext(ctx, y.binaryPath, "-J", "--no-warnings", mediaURL)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.WithError(err).Debugf("yt-dlp info failed for %s: %s", mediaURL, stderr.String())
		return models.VideoInfo{}, fmt.Errorf("yt-dlp info failed: %w: %s", err, firstLine(stderr.String()))
	}

	var raw ytdlpInfo
	if err := json.Unmarshal(out.Bytes(), &raw); err != nil {
		return models.VideoInfo{}, fmt.Errorf("parsing yt-dlp info output: %w", err)
	}

	info := models.VideoInfo{
		Title:     raw.Title,
		Duration:  int(raw.Duration),
		Uploader:  raw.Uploader,
		Thumbnail: raw.Thumbnail,
	}

	// One entry per distinct height, video renditions only.
	seen := map[int]bool{}
	for _, f := range raw.Formats {
		if f.Vcodec == "none" || f.Height == 0 || seen[f.Height] {
			continue
		}
		seen[f.Height] = true
		ext := f.Ext
		if ext == "" {
			ext = "mp4"
		}
		info.Formats = append(info.Formats, models.FormatOption{
			Quality:  fmt.Sprintf("%dp", f.Height),
			FormatID: f.FormatID,
			Ext:      ext,
			Filesize: f.Filesize,
		})
	}
	info.Formats = append(info.Formats, models.FormatOption{
		Quality:  "Audio Only",
		FormatID: "bestaudio",
		Ext:      "mp3",
	})
	sort.SliceStable(info.Formats, func(i, j int) bool {
		return formatHeight(info.Formats[i].Quality) > formatHeight(info.Formats[j].Quality)
	})

	return info, nil
}

// progressLineRegex matches yt-dlp --newline progress output, e.g.
// "[download]  42.0% of 10.00MiB at 1.20MiB/s ETA 00:05".
var progressLineRegex = regexp.MustCompile(`\[download\]\s+([0-9.]+%)\s+of\b.*?\bat\s+(\S+)`)

// Download runs yt-dlp and streams progress reports from its stdout.
func (y *YtDlp) Download(ctx context.Context, mediaURL, id, dir string, req models.JobRequest, progress ProgressFunc) (string, error) {
	outputTemplate := filepath.Join(dir, id+"_%(title)s.%(ext)s")

	args := []string{
		"-f", FormatSelector(req),
		"-o", outputTemplate,
		"--newline",
		"--no-warnings",
	}
	if req.Format == models.FormatAudio {
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", "192K")
	}
	args = append(args, mediaURL)

	cmd := exec.CommandContext(ctx, y.binaryPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("attaching to yt-dlp stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting yt-dlp: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if percent, speed, ok := parseProgressLine(scanner.Text()); ok && progress != nil {
			progress(percent, speed)
		}
	}

	if err := cmd.Wait(); err != nil {
		log.WithError(err).Debugf("yt-dlp download failed for %s: %s", mediaURL, stderr.String())
		return "", fmt.Errorf("yt-dlp download failed: %w: %s", err, firstLine(stderr.String()))
	}

	return locateOutput(dir, id)
}

// parseProgressLine extracts percent and speed from one yt-dlp progress line.
func parseProgressLine(line string) (percent, speed string, ok bool) {
	m := progressLineRegex.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	speed = m[2]
	if speed == "Unknown" {
		speed = "N/A"
	}
	return m[1], speed, true
}

// locateOutput finds the file yt-dlp produced for a job. Audio extraction
// replaces the ext in the output template, so we glob on the id prefix.
func locateOutput(dir, id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, id+"_*"))
	if err != nil {
		return "", fmt.Errorf("globbing for output of job %s: %w", id, err)
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") && !strings.HasSuffix(m, ".ytdl") {
			return m, nil
		}
	}
	return "", fmt.Errorf("no output file found for job %s in %s", id, dir)
}

func formatHeight(quality string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(quality, "p"))
	if err != nil {
		return 0
	}
	return n
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
