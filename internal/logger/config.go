package logger

import (
	"io"
	"os"
	"strconv"
)

// Options configures a Logger.
type Options struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // overrides every other output setting
	ServiceName string

	Environment string // local, dev, prod

	File       string
	FileOnly   bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// OptionsFromEnv reads logger options from LOG_* environment variables.
func OptionsFromEnv() *Options {
	return &Options{
		Level:       envString("LOG_LEVEL", "info"),
		Format:      envString("LOG_FORMAT", "json"),
		ServiceName: envString("SERVICE_NAME", "paperpilot"),
		Environment: envString("APP_ENV", "local"),
		File:        envString("LOG_FILE", "/var/log/paperpilot/app.log"),
		FileOnly:    envBool("LOG_FILE_ONLY", false),
		MaxSizeMB:   envInt("LOG_MAX_SIZE", 100),
		MaxBackups:  envInt("LOG_MAX_BACKUPS", 7),
		MaxAgeDays:  envInt("LOG_MAX_AGE", 30),
		Compress:    envBool("LOG_COMPRESS", true),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return i
}
