package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Logger writes to stdout and to one append-only file per day: {dir}/log-{day}.txt.
type Logger struct {
	mu     sync.Mutex
	info   *log.Logger
	error  *log.Logger
	file   *os.File
	dir    string
	day    string
	quiet  bool
	stdout io.Writer
}

func New(dir, day, level string) (*Logger, error) {
	l := &Logger{
		dir:    dir,
		quiet:  strings.EqualFold(strings.TrimSpace(level), "error"),
		stdout: os.Stdout,
	}
	if err := l.open(day); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) open(day string) error {
	var writers []io.Writer
	writers = append(writers, l.stdout)

	var file *os.File
	if l.dir != "" {
		if err := os.MkdirAll(l.dir, 0750); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(FilePath(l.dir, day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		writers = append(writers, f)
	}

	multiWriter := io.MultiWriter(writers...)

	l.info = log.New(multiWriter, "INFO: ", log.Ldate|log.Ltime)
	l.error = log.New(multiWriter, "ERROR: ", log.Ldate|log.Ltime)
	l.file = file
	l.day = day
	return nil
}

// FilePath returns the log file used for day.
func FilePath(dir, day string) string {
	return filepath.Join(dir, "log-"+day+".txt")
}

// Rotate switches the log file to a new day. It is a no-op for the current day.
func (l *Logger) Rotate(day string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if day == l.day {
		return nil
	}

	previous := l.file
	if err := l.open(day); err != nil {
		return err
	}
	if previous != nil {
		return previous.Close()
	}
	return nil
}

func (l *Logger) Info(v ...interface{}) {
	if l.quiet {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info.Println(v...)
}

func (l *Logger) Infof(format string, v ...interface{}) {
	if l.quiet {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info.Printf(format, v...)
}

func (l *Logger) Error(v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.error.Println(v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.error.Printf(format, v...)
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
