package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	// Vector store backends register themselves with the database package.
	_ "github.com/kozaktomas/face-attendance/internal/database/hnswstore"
	_ "github.com/kozaktomas/face-attendance/internal/database/memory"
	_ "github.com/kozaktomas/face-attendance/internal/database/postgres"
	_ "github.com/kozaktomas/face-attendance/internal/database/sqlstore"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "face-attendance",
	Short: "Face recognition attendance from classroom images and videos",
	Long: `Face Attendance enrolls staff from reference photos and works out who is
present in an image or a video by matching detected faces against the
enrolled identities.

Faces and embeddings come from an InsightFace embedding server; videos are
decoded with ffmpeg.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default $CONFIG_PATH or ./config.yaml)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "config.yaml"
	}
	setupLogging(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// setupLogging installs the default slog logger.
func setupLogging(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
