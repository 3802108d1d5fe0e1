package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-media-download/internal/api"
	"go-media-download/internal/coordinator"
	"go-media-download/internal/downloader"
	"go-media-download/internal/helpers"
	"go-media-download/internal/models"
)

var (
	downloadFormatFlag  string
	downloadQualityFlag string
	downloadOutputFlag  string
	downloadNoFetchFlag bool
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <url>",
	Short: "Download media from a URL",
	Long: `Submits a download job to the backend for the given URL, tracks its
progress until it finishes, and retrieves the resulting file.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadFormatFlag, "format", "f", "video", "Download format (video, audio)")
	downloadCmd.Flags().StringVarP(&downloadQualityFlag, "quality", "q", "", "Quality tier (best, HD, 4K; audio format forces audio)")
	downloadCmd.Flags().StringVarP(&downloadOutputFlag, "output", "o", "", "Directory to save the file (overrides save path)")
	downloadCmd.Flags().BoolVar(&downloadNoFetchFlag, "no-fetch", false, "Track the job but do not retrieve the finished file")
}

func runDownload(cmd *cobra.Command, args []string) error {
	mediaURL := args[0]

	req := models.JobRequest{
		SourceURL: mediaURL,
		Format:    models.Format(downloadFormatFlag),
		Quality:   models.Quality(downloadQualityFlag),
	}
	if req.Quality == "" {
		req.Quality = models.QualitiesFor(req.Format)[0]
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(globalConfig.APIClientTimeoutSec) * time.Second,
	}
	client := api.NewClient(globalConfig.ServerURL, httpClient)

	interval := time.Duration(globalConfig.PollIntervalMs) * time.Millisecond
	coord := coordinator.New(client, interval)
	defer coord.Close()

	// Terminal snapshots land here; the observer runs on poll goroutines.
	updates := make(chan coordinator.Snapshot, 64)
	coord.OnUpdate(func(snap coordinator.Snapshot) {
		select {
		case updates <- snap:
		default:
		}
	})
	coord.OnInfo(func(info models.VideoInfo) {
		if info.Title != "" {
			log.Infof("Resolved media: %s", info.Title)
		}
	})

	// Platform detection is advisory: an unrecognized URL still submits.
	if match, err := coord.Resolve(ctx, mediaURL); err != nil {
		log.WithError(err).Warn("Platform detection failed, submitting anyway")
	} else if !match.Recognized {
		log.Warn(coordinator.UnsupportedPlatformMessage(match))
	} else {
		log.Infof("Detected platform: %s", match.PlatformID)
	}

	if err := coord.Submit(ctx, req); err != nil {
		return err
	}

	writer := uilive.New()
	writer.Start()

	var final coordinator.Snapshot
	for !final.State.IsTerminal() {
		select {
		case <-ctx.Done():
			writer.Stop()
			return ctx.Err()
		case snap := <-updates:
			// Exactly one section is visible per snapshot.
			switch coordinator.Project(snap) {
			case coordinator.SectionProgress:
				if snap.State == coordinator.StateStarting {
					fmt.Fprintln(writer, "Starting download...")
				} else {
					fmt.Fprintf(writer, "Downloading: %d%% at %s\n", snap.Progress, snap.Speed)
				}
			case coordinator.SectionResult, coordinator.SectionError:
				final = snap
			}
		}
	}
	writer.Stop()

	if final.State == coordinator.StateError {
		return fmt.Errorf("%s", final.Err)
	}

	log.Info("Download finished on backend")
	if downloadNoFetchFlag {
		fmt.Printf("Job %s finished. Fetch it from %s\n", final.JobID, client.ArtifactURL(final.JobID))
		return nil
	}

	targetDir := globalConfig.SavePath
	if downloadOutputFlag != "" {
		targetDir = downloadOutputFlag
	}

	retriever := downloader.NewRetriever(httpClientForRetrieval(), globalConfig.ServerURL)
	artifact, err := retriever.Retrieve(ctx, final.JobID, targetDir)
	if err != nil {
		return err
	}

	fmt.Printf("Saved %s (%s, BLAKE3 %s)\n", artifact.Path, helpers.BytesToSize(uint64(artifact.Size)), artifact.BLAKE3)
	return nil
}

// httpClientForRetrieval builds a client without the short API timeout;
// large files can take far longer than a status query.
func httpClientForRetrieval() *http.Client {
	return &http.Client{
		Transport: globalHttpTransport,
		Timeout:   15 * time.Minute,
	}
}
