package mohnet

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// A LogWriter tees log output to stdout and latest.log in its
// directory. The log of the previous run is kept as last.log.
type LogWriter struct {
	mu  sync.Mutex
	out io.Writer
	f   *os.File
}

// NewLogWriter rotates the logs in dir and opens a new latest.log
func NewLogWriter(dir string) (*LogWriter, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, err
	}

	latest := filepath.Join(dir, "latest.log")
	if err := os.Rename(latest, filepath.Join(dir, "last.log")); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(latest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}

	return &LogWriter{out: os.Stdout, f: f}, nil
}

func (l *LogWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.out.Write(p)
	return l.f.Write(p)
}

func (l *LogWriter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.f.Close()
}

// NewLogger returns the logger described by cfg writing to w
func NewLogger(cfg LogConfig, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), err
		}
		level = l
	}

	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
