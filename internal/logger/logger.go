// Package logger provides process-wide level-gated logging.
package logger

import (
	"log"
	"os"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLevel Level
	initialized  bool
)

// Init sets the active log level from the LOG_LEVEL environment variable.
func Init() {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug", "trace":
		currentLevel = LevelDebug
	case "warn", "warning":
		currentLevel = LevelWarn
	case "error":
		currentLevel = LevelError
	default:
		currentLevel = LevelInfo
	}
	initialized = true
}

func shouldLog(level Level) bool {
	if !initialized {
		Init()
	}
	return level >= currentLevel
}

func Debug(format string, v ...interface{}) {
	if shouldLog(LevelDebug) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if shouldLog(LevelInfo) {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if shouldLog(LevelWarn) {
		log.Printf("[WARN] "+format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if shouldLog(LevelError) {
		log.Printf("[ERROR] "+format, v...)
	}
}

// Fatalf logs and terminates the process; used only at startup.
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}
