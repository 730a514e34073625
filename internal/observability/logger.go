package observability

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/wotlink/internal/config"
	"github.com/danmuck/wotlink/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger builds the process logger from cfg and installs it as log.Logger.
// A non-empty cfg.File adds a rotating JSON file sink next to the console.
func InitLogger(app string, cfg config.LogConfig) zerolog.Logger {
	var console io.Writer = os.Stdout
	if !strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		console = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}

	writers := []io.Writer{console}
	if file := strings.TrimSpace(cfg.File); file != "" {
		if dir := filepath.Dir(file); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    max(cfg.MaxSizeMB, 10),
			MaxBackups: max(cfg.MaxBackups, 1),
			MaxAge:     max(cfg.MaxAgeDays, 7),
			Compress:   cfg.Compress,
		})
	}

	if lvl, ok := logging.ParseLevel(cfg.Level); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
