package main

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dlcore/config"
)

var logFile *os.File

// initLogging wires the global zerolog logger to write to both stderr and
// the file named by config.Main.LogFile, creating its parent directory if
// one is given. config owns the path (via LOG_FILE/.env) so operators
// configure logging the same way they configure storage and concurrency,
// rather than this package reading the environment directly.
func initLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}

	path := config.Main.LogFile
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			println("failed to create log directory: " + err.Error())
		}
	}

	var err error
	logFile, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		println("failed to open log file: " + err.Error())
	}

	writer := zerolog.MultiLevelWriter(consoleWriter, logFile)
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	log.Info().Str("log_file", path).Msgf("dlcore v%s", VERSION)
}

// shutdownLogging flushes and closes the log file, if one was opened.
func shutdownLogging() {
	if logFile == nil {
		return
	}
	if err := logFile.Close(); err != nil {
		println("failed to close log file: " + err.Error())
	}
}
