package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"feedrelay/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from, in order:
// 1. the .env file (environment variables)
// 2. config.yaml in the working directory, or the file given by path
// Environment variables override file values with '.' mapped to '_'.
func LoadConfig(path string) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, skipping.")
	}

	setDefaults(viper.GetViper())

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("No config.yaml found, using environment variables and defaults.")
		} else {
			panic(fmt.Errorf("fatal error reading config file: %w", err))
		}
	}
}

// Load calls LoadConfig and decodes the result into Settings.
func Load(path string) (*models.Settings, error) {
	LoadConfig(path)
	return Decode(viper.GetViper())
}

// Decode unmarshals v into Settings and validates it.
func Decode(v *viper.Viper) (*models.Settings, error) {
	var s models.Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if s.Bot.Token == "" {
		s.Bot.Token = v.GetString("BOT_TOKEN")
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the pipeline cannot run with.
func Validate(s *models.Settings) error {
	switch s.Feed.Format {
	case "json", "rss":
	default:
		return fmt.Errorf("feed.format must be json or rss, got %q", s.Feed.Format)
	}
	if s.Worker.MaxPerDay < 0 {
		return fmt.Errorf("worker.maxPerDay must not be negative")
	}
	if s.Worker.Interval <= 0 {
		return fmt.Errorf("worker.interval must be positive")
	}
	if s.Worker.LeaseTTL <= 0 {
		return fmt.Errorf("worker.leaseTtl must be positive")
	}
	if s.Upload.SplitThreshold <= 0 {
		return fmt.Errorf("upload.splitThreshold must be positive")
	}
	if s.Worker.TimeZone != "" {
		if _, err := time.LoadLocation(s.Worker.TimeZone); err != nil {
			return fmt.Errorf("worker.timeZone: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.prefix", "!")
	v.SetDefault("bot.autoDelete", "10m")
	v.SetDefault("bot.requestTimeout", "60s")

	v.SetDefault("feed.format", "json")
	v.SetDefault("feed.userAgent", "feedrelay/1.0")
	v.SetDefault("feed.timeout", "120s")
	v.SetDefault("feed.retry.maxAttempts", 5)
	v.SetDefault("feed.retry.baseDelay", "30s")
	v.SetDefault("feed.retry.multiplier", 1.0)
	v.SetDefault("feed.retry.maxDelay", "5m")

	v.SetDefault("download.dir", "./downloads")
	v.SetDefault("download.dataDir", "./downloads/.swarm")
	v.SetDefault("download.metadataTimeout", "90s")
	v.SetDefault("download.metadataLog", "5s")
	v.SetDefault("download.pollInterval", "10s")
	v.SetDefault("download.stallTimeout", "300s")
	v.SetDefault("download.stallFloor", 1024)
	v.SetDefault("download.maxNameLength", 200)
	v.SetDefault("download.httpTimeout", "30m")

	v.SetDefault("encode.enabled", false)
	v.SetDefault("encode.remux", true)
	v.SetDefault("encode.dir", "./encode")
	v.SetDefault("encode.ffmpegPath", "ffmpeg")
	v.SetDefault("encode.ffprobePath", "ffprobe")
	v.SetDefault("encode.videoCodec", "libx264")
	v.SetDefault("encode.audioCodec", "aac")
	v.SetDefault("encode.audioBitrate", "128k")
	v.SetDefault("encode.crf", 23)
	v.SetDefault("encode.preset", "medium")
	v.SetDefault("encode.maxWidth", 1280)
	v.SetDefault("encode.timeout", "2h")

	v.SetDefault("upload.splitThreshold", int64(2)<<30)
	v.SetDefault("upload.tempDir", "./encode/parts")
	v.SetDefault("upload.retry.maxAttempts", 3)
	v.SetDefault("upload.retry.baseDelay", "3s")
	v.SetDefault("upload.retry.multiplier", 2.0)
	v.SetDefault("upload.retry.maxDelay", "1m")
	v.SetDefault("upload.retry.jitter", 0.1)

	v.SetDefault("worker.interval", "5m")
	v.SetDefault("worker.maxPerDay", 10)
	v.SetDefault("worker.leaseTtl", "30m")
	v.SetDefault("worker.timeZone", "UTC")
	v.SetDefault("worker.queueRetention", "720h")
	v.SetDefault("worker.runAtStartup", true)

	v.SetDefault("database.path", "./data/feedrelay.db")
	v.SetDefault("database.statusFile", "./data/status.json")

	v.SetDefault("progress.minInterval", "5s")
	v.SetDefault("progress.minDelta", 5.0)
	v.SetDefault("progress.buffer", 16)

	v.SetDefault("export.title", "feedrelay")
	v.SetDefault("export.limit", 50)
}
