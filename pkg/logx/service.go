package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultFilePath = "./wsched.log"

var (
	stdout io.Writer = os.Stdout

	globalsOnce sync.Once
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig controls the JSON file sink.
//
// Rotation is size based. MaxSizeMB <= 0 uses lumberjack's default (100MB).
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (f FileConfig) path() string {
	if p := strings.TrimSpace(f.Path); p != "" {
		return p
	}
	return defaultFilePath
}

func configureGlobals() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = consoleTimeFormat
	})
}

// Service owns the log sinks and lets them change at runtime.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *lumberjack.Logger

	root atomic.Pointer[zerolog.Logger]
}

// New builds the service and applies cfg. If the file sink cannot be set
// up, logging continues on the console and the problem is logged.
func New(cfg Config) (*Service, Logger) {
	configureGlobals()
	s := &Service{}
	boot := zerolog.New(consoleWriter(stdout)).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	s.root.Store(&boot)

	log := Logger{svc: s}
	if err := s.Apply(cfg); err != nil {
		log.Warn("log sink setup failed; using console", Err(err))
	}
	return s, log
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Config returns the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps sinks and level. An unchanged file config keeps the open file.
// When no sink could be configured the console is used, and the returned
// error says why.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.file != nil && (!cfg.File.Enabled || cfg.File != s.cfg.File) {
		if err := s.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.file.Filename, err))
		}
		s.file = nil
	}
	if cfg.File.Enabled && s.file == nil {
		lj, err := openFile(cfg.File)
		if err != nil {
			errs = append(errs, err)
		} else {
			s.file = lj
		}
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(stdout))
	}
	if s.file != nil {
		sinks = append(sinks, zerolog.SyncWriter(s.file))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	s.root.Store(&zl)
	s.cfg = cfg
	return errors.Join(errs...)
}

func openFile(fc FileConfig) (*lumberjack.Logger, error) {
	path := fc.path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir for %q: %w", path, err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
	}, nil
}

// Close releases the file sink. Loggers keep working on whatever sink
// remains.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	zl := zerolog.New(consoleWriter(stdout)).Level(ParseLevel(s.cfg.Level)).With().Timestamp().Logger()
	s.root.Store(&zl)
	return err
}
