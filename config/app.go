// Package config loads process-wide configuration from the environment,
// optionally via a .env file.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// AppConfig holds the settings the downloader core and CLI need at
// startup.
type AppConfig struct {
	StorageDir  string
	Concurrency int
	LogFile     string
	DB          *DBConfig
}

func NewAppConfig() *AppConfig {
	storageDir := os.Getenv("STORAGE_DIR")
	if storageDir == "" {
		storageDir = "storage/downloads"
	}

	concurrency := DefaultConcurrency
	if v := os.Getenv("CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "dlcore.log"
	}

	return &AppConfig{
		StorageDir:  storageDir,
		Concurrency: concurrency,
		LogFile:     logFile,
		DB:          NewDBConfig(),
	}
}

// DefaultConcurrency matches the Scheduler's own default.
const DefaultConcurrency = 2

var Main *AppConfig

func init() {
	_ = godotenv.Load()
	Main = NewAppConfig()
}
