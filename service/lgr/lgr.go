package lgr

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
)

// Logger is the package-global structured logger. All processors log
// through it so the JSON stream and the rotating file stay consistent.
var Logger *slog.Logger

func init() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("TVSR_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	logsFolder := os.Getenv("TVSR_LOGS_FOLDER")
	if logsFolder == "" {
		logsFolder = "./logs"
	}

	rotator := &lumberjack.Logger{
		Filename:   logsFolder + "/tvsr.log",
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
	}

	Logger = slog.New(slog.NewJSONHandler(
		io.MultiWriter(os.Stdout, rotator),
		&slog.HandlerOptions{Level: level},
	))
}
