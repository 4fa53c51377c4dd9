// Package eventlog records grid events to CSV files with row-based rotation.
package eventlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shaunagostinho/gridlink/internal/grid"
)

// Config holds event log configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" json:"path" mapstructure:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows" mapstructure:"max_rows"`
}

const (
	DefaultPath    = "/var/log/gridlink"
	DefaultMaxRows = 100_000
)

var csvHeader = []string{"timestamp", "event_id", "light_id", "type", "message", "session_id"}

// Logger appends grid events to gridlink_<timestamp>.csv in its directory,
// starting a new file after MaxRows rows.
type Logger struct {
	mu      sync.Mutex
	dir     string
	maxRows int
	enabled bool
	log     *zap.Logger

	file   *os.File
	writer *csv.Writer
	path   string
	rows   int
}

// New creates a Logger. No file is created until the first event.
func New(cfg Config, logger *zap.Logger) *Logger {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		dir:     cfg.Path,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
		log:     logger.With(zap.String("component", "eventlog")),
	}
}

// SetEnabled toggles recording at runtime. Disabling closes the current file.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on {
		if err := l.closeFile(); err != nil {
			l.log.Warn("Failed to close event log", zap.Error(err))
		}
	}
}

// IsEnabled returns whether recording is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the file currently written to, or "" if none is open.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Record writes one event row attributed to sessionID.
func (l *Logger) Record(ev grid.Event, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return nil
	}

	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(ev.Timestamp); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
	}

	row := []string{
		ev.Timestamp.Format(time.RFC3339Nano),
		ev.ID,
		strconv.Itoa(ev.LightID),
		string(ev.Type),
		ev.Message,
		sessionID,
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	l.rows++
	return nil
}

// Close flushes and closes the current file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	if err := l.closeFile(); err != nil {
		l.log.Warn("Failed to close previous event log", zap.Error(err))
	}
	if now.IsZero() {
		now = time.Now()
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	path := filepath.Join(l.dir, fmt.Sprintf("gridlink_%s.csv", now.Format("2006-01-02_150405.000")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.path = path
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	l.log.Info("Opened event log", zap.String("path", path))
	return nil
}

func (l *Logger) closeFile() error {
	var err error
	if l.writer != nil {
		l.writer.Flush()
		err = multierr.Append(err, l.writer.Error())
		l.writer = nil
	}
	if l.file != nil {
		err = multierr.Append(err, l.file.Close())
		l.file = nil
	}
	l.path = ""
	return err
}
