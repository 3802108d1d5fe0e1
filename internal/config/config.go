package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go-media-download/internal/api"
	"go-media-download/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultServerURL           = "http://localhost:8080"
	DefaultSavePath            = "downloads"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultLogApiRequests      = false
	DefaultPollIntervalMs      = 1000
	DefaultAPIClientTimeoutSec = 30
	DefaultConfigFilePath      = "config.toml"

	// Serve command defaults
	DefaultServerListen       = ":8080"
	DefaultServerDownloadsDir = "downloads"
	DefaultServerDatabasePath = "" // Derived from DownloadsDir if empty
	DefaultServerYtDlpPath    = "yt-dlp"
)

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("serverurl", DefaultServerURL)
	v.SetDefault("savepath", DefaultSavePath)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("pollintervalms", DefaultPollIntervalMs)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)

	// Serve defaults
	v.SetDefault("server.listen", DefaultServerListen)
	v.SetDefault("server.downloadsdir", DefaultServerDownloadsDir)
	v.SetDefault("server.databasepath", DefaultServerDatabasePath)
	v.SetDefault("server.ytdlppath", DefaultServerYtDlpPath)
}

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	ConfigFilePath      *string
	ServerURL           *string // --server
	SavePath            *string // --save-path
	LogLevel            *string // --log-level
	LogFormat           *string // --log-format
	LogApiRequests      *bool   // --log-api
	PollIntervalMs      *int    // --poll-interval
	APIClientTimeoutSec *int    // --api-timeout

	Serve *CliServeFlags
}

type CliServeFlags struct {
	Listen       *string // -l
	DownloadsDir *string // -d
	DatabasePath *string // --db
	YtDlpPath    *string // --yt-dlp
}

// Initialize loads configuration based on defaults, config file, environment,
// and flags. Precedence: Flags > Environment > Config File > Defaults.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIA_DOWNLOADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setViperDefaults(v)

	actualConfigFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil {
		actualConfigFilePath = *flags.ConfigFilePath
	}
	v.SetConfigFile(actualConfigFilePath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Debugf("Config file '%s' not found. Using defaults, environment and CLI flags.", actualConfigFilePath)
		} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debugf("Config file '%s' not found. Using defaults, environment and CLI flags.", actualConfigFilePath)
		} else {
			log.Warnf("Error reading config file '%s': %v. Using defaults, environment and CLI flags.", actualConfigFilePath, err)
		}
	} else {
		log.Debugf("Loaded config file: %s", v.ConfigFileUsed())
	}

	// Viper keys are lowercase, matching the struct field names case-insensitively.
	var finalCfg models.Config
	if err := v.Unmarshal(&finalCfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	// --- Override with CLI Flags ---
	if flags.ServerURL != nil {
		finalCfg.ServerURL = *flags.ServerURL
	}
	if flags.SavePath != nil {
		finalCfg.SavePath = *flags.SavePath
	}
	if flags.LogLevel != nil {
		finalCfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		finalCfg.LogFormat = *flags.LogFormat
	}
	if flags.LogApiRequests != nil {
		finalCfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.PollIntervalMs != nil {
		finalCfg.PollIntervalMs = *flags.PollIntervalMs
	}
	if flags.APIClientTimeoutSec != nil {
		finalCfg.APIClientTimeoutSec = *flags.APIClientTimeoutSec
	}
	if flags.Serve != nil {
		if flags.Serve.Listen != nil {
			finalCfg.Server.Listen = *flags.Serve.Listen
		}
		if flags.Serve.DownloadsDir != nil {
			finalCfg.Server.DownloadsDir = *flags.Serve.DownloadsDir
		}
		if flags.Serve.DatabasePath != nil {
			finalCfg.Server.DatabasePath = *flags.Serve.DatabasePath
		}
		if flags.Serve.YtDlpPath != nil {
			finalCfg.Server.YtDlpPath = *flags.Serve.YtDlpPath
		}
	}

	// --- Derive Default Paths if Empty ---
	if finalCfg.Server.DatabasePath == "" {
		finalCfg.Server.DatabasePath = filepath.Join(finalCfg.Server.DownloadsDir, "jobs.db")
	}

	// --- Validation ---
	if finalCfg.ServerURL == "" {
		return models.Config{}, nil, fmt.Errorf("ServerUrl cannot be empty (set via --server flag or ServerUrl in config)")
	}
	if finalCfg.SavePath == "" {
		return models.Config{}, nil, fmt.Errorf("SavePath cannot be empty (set via --save-path flag or SavePath in config)")
	}
	if finalCfg.PollIntervalMs <= 0 {
		finalCfg.PollIntervalMs = DefaultPollIntervalMs
	}

	// --- Setup HTTP Transport ---
	baseTransport := http.DefaultTransport
	var finalTransport http.RoundTripper = baseTransport

	if finalCfg.LogApiRequests {
		logFilePath := "api.log"
		if _, statErr := os.Stat(finalCfg.SavePath); statErr == nil {
			logFilePath = filepath.Join(finalCfg.SavePath, logFilePath)
		}
		loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			log.Infof("API logging to file: %s", logFilePath)
			finalTransport = loggingTransport
		}
	}

	return finalCfg, finalTransport, nil
}
