package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const logFileName = "mopscrawl.log"

func consoleWriter() models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}
}

// LogsDir returns the logs directory beside the executable, falling back to ./logs
func LogsDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "./logs"
	}
	return filepath.Join(filepath.Dir(execPath), "logs")
}

// InitLogger builds the arbor logger from the logging section.
// File output goes to <exe dir>/logs/mopscrawl.log.
func InitLogger(config *Config) arbor.ILogger {
	logger := arbor.NewLogger()

	hasFileOutput := false
	hasStdoutOutput := false
	for _, output := range config.LogOutputs() {
		switch output {
		case "file":
			hasFileOutput = true
		case "stdout", "console":
			hasStdoutOutput = true
		}
	}

	if hasFileOutput {
		logsDir := LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Printf("Warning: Failed to create logs directory: %v\n", err)
			hasStdoutOutput = true
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:             models.LogWriterTypeFile,
				FileName:         filepath.Join(logsDir, logFileName),
				TimeFormat:       "15:04:05",
				MaxSize:          10 * 1024 * 1024, // 10 MB
				MaxBackups:       3,
				DisableTimestamp: false,
			})
		}
	}

	// Never run silent: console is the fallback sink
	if hasStdoutOutput || !hasFileOutput {
		logger = logger.WithConsoleWriter(consoleWriter())
	}

	return logger.WithLevelFromString(config.Logging.Level)
}

// NewConsoleLogger returns a console-only logger, used before configuration is loaded
func NewConsoleLogger() arbor.ILogger {
	return arbor.NewLogger().WithConsoleWriter(consoleWriter())
}
