package cmd

import (
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-media-download/internal/config"
	"go-media-download/internal/models"
)

// Flag storage. Zero values mean "not provided"; loadGlobalConfig checks
// cmd.Flags().Changed before treating them as overrides.
var (
	cfgFile          string
	serverURLFlag    string
	savePathFlag     string
	logLevelFlag     string
	logFormatFlag    string
	logApiFlag       bool
	pollIntervalFlag int
	apiTimeoutFlag   int
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "media-downloader",
	Short: "A tool to download media from social platforms",
	Long: `Media Downloader fetches video and audio from YouTube, TikTok,
Instagram and other platforms through a download backend, tracking
progress until the file is ready to retrieve.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&serverURLFlag, "server", "", "Download backend URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory to save retrieved files (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Logging level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().IntVar(&pollIntervalFlag, "poll-interval", 0, "Status poll interval in ms (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", 0, "Timeout for API HTTP client in seconds (overrides config)")
}

// loadGlobalConfig loads the configuration with flag overrides and sets up
// logging and the shared HTTP transport before any command runs.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	flags := config.CliFlags{}
	if cmd.Flags().Changed("config") {
		flags.ConfigFilePath = &cfgFile
	}
	if cmd.Flags().Changed("server") {
		flags.ServerURL = &serverURLFlag
	}
	if cmd.Flags().Changed("save-path") {
		flags.SavePath = &savePathFlag
	}
	if cmd.Flags().Changed("log-level") {
		flags.LogLevel = &logLevelFlag
	}
	if cmd.Flags().Changed("log-format") {
		flags.LogFormat = &logFormatFlag
	}
	if cmd.Flags().Changed("log-api") {
		flags.LogApiRequests = &logApiFlag
	}
	if cmd.Flags().Changed("poll-interval") {
		flags.PollIntervalMs = &pollIntervalFlag
	}
	if cmd.Flags().Changed("api-timeout") {
		flags.APIClientTimeoutSec = &apiTimeoutFlag
	}
	flags.Serve = serveFlagOverrides(cmd)

	cfg, transport, err := config.Initialize(flags)
	if err != nil {
		return err
	}
	globalConfig = cfg
	globalHttpTransport = transport

	initLogging(cfg.LogLevel, cfg.LogFormat)
	return nil
}

// initLogging applies the configured logrus level and formatter.
func initLogging(level, format string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to info", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)

	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
