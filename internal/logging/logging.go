package logging

import (
	"bufio"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gluk-w/flowwatch/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	logFile *os.File
	mu      sync.Mutex
)

func logPath() string {
	if config.Cfg.LogPath != "" {
		return config.Cfg.LogPath
	}
	return "/app/data/flowwatch.log"
}

// Init configures the global zerolog logger to write human-readable output to
// stdout and JSON lines to the log file. The standard library logger (used by
// gorm and chi) is routed through the same sink.
// Must be called after config.Load().
func Init() {
	level, err := zerolog.ParseLevel(strings.ToLower(config.Cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	var out io.Writer = console

	path := logPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		setLogger(out)
		log.Warn().Err(err).Msg("cannot create log directory")
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		setLogger(out)
		log.Warn().Err(err).Str("path", path).Msg("cannot open log file")
		return
	}

	mu.Lock()
	logFile = f
	mu.Unlock()

	setLogger(zerolog.MultiLevelWriter(console, f))
	log.Info().Str("path", path).Str("level", level.String()).Msg("logging to file")
}

func setLogger(w io.Writer) {
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}

// ReadTail returns the last n lines from the log file.
func ReadTail(n int) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.Open(logPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	// Ring of the last n lines so large files are not held in memory.
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log file: %w", err)
	}

	return strings.Join(ring, "\n"), nil
}

// Clear truncates the log file.
func Clear() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		if err := logFile.Truncate(0); err != nil {
			return fmt.Errorf("truncate log file: %w", err)
		}
		if _, err := logFile.Seek(0, 0); err != nil {
			return fmt.Errorf("seek log file: %w", err)
		}
		return nil
	}

	return os.Truncate(logPath(), 0)
}
