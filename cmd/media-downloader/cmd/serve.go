package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-media-download/internal/config"
	"go-media-download/internal/database"
	"go-media-download/internal/extract"
	"go-media-download/internal/server"
)

var (
	serveListenFlag       string
	serveDownloadsDirFlag string
	serveDatabaseFlag     string
	serveYtDlpFlag        string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the download backend",
	Long: `Runs the HTTP backend that executes downloads via yt-dlp and serves
the job API the download command talks to.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveListenFlag, "listen", "l", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVarP(&serveDownloadsDirFlag, "downloads-dir", "d", "", "Directory for extracted files (overrides config)")
	serveCmd.Flags().StringVar(&serveDatabaseFlag, "db", "", "Job database path (overrides config)")
	serveCmd.Flags().StringVar(&serveYtDlpFlag, "yt-dlp", "", "Path to the yt-dlp binary (overrides config)")
}

// serveFlagOverrides collects serve-local flag overrides for config
// initialization. Returns nil when no serve flag was provided.
func serveFlagOverrides(cmd *cobra.Command) *config.CliServeFlags {
	flags := &config.CliServeFlags{}
	provided := false
	if cmd.Flags().Changed("listen") {
		flags.Listen = &serveListenFlag
		provided = true
	}
	if cmd.Flags().Changed("downloads-dir") {
		flags.DownloadsDir = &serveDownloadsDirFlag
		provided = true
	}
	if cmd.Flags().Changed("db") {
		flags.DatabasePath = &serveDatabaseFlag
		provided = true
	}
	if cmd.Flags().Changed("yt-dlp") {
		flags.YtDlpPath = &serveYtDlpFlag
		provided = true
	}
	if !provided {
		return nil
	}
	return flags
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := database.Open(globalConfig.Server.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	extractor := extract.NewYtDlp(globalConfig.Server.YtDlpPath)
	srv := server.New(store, extractor, globalConfig.Server.DownloadsDir)

	log.Infof("Serving downloads from %s", globalConfig.Server.DownloadsDir)
	return srv.ListenAndServe(globalConfig.Server.Listen)
}
