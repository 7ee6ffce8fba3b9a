// Package log provides the process-wide zerolog loggers used by tapnode.
// Component loggers carry a "component" field and are rebuilt whenever
// the output changes.
package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers.
var (
	Chain   zerolog.Logger
	Mempool zerolog.Logger
	P2P     zerolog.Logger
	Node    zerolog.Logger
	RPC     zerolog.Logger
)

var (
	fileMu  sync.Mutex
	logFile *os.File
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init configures the global logger. Console output is colored unless
// jsonOutput is set. When file is non-empty every record is also appended
// to it as JSON. A file opened by an earlier Init is closed.
func Init(level string, jsonOutput bool, file string) error {
	console := consoleWriter(os.Stdout, jsonOutput)

	var f *os.File
	if file != "" {
		var err error
		f, err = os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		console = zerolog.MultiLevelWriter(console, f)
	}

	Logger = newLogger(console, level)
	initComponentLoggers()
	swapFile(f)
	return nil
}

// Close closes the log file opened by Init, if any, and falls back to
// console-only output.
func Close() error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile == nil {
		return nil
	}
	Logger = newLogger(consoleWriter(os.Stdout, false), Logger.GetLevel().String())
	initComponentLoggers()
	err := logFile.Close()
	logFile = nil
	return err
}

func swapFile(f *os.File) {
	fileMu.Lock()
	old := logFile
	logFile = f
	fileMu.Unlock()
	if old != nil {
		old.Close()
	}
}

func consoleWriter(w io.Writer, jsonOutput bool) io.Writer {
	if jsonOutput {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(consoleWriter(w, false), level)
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

// parseLevel maps a config level to zerolog. Unknown or empty levels are
// info; "off" disables logging.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "", "info":
		return zerolog.InfoLevel
	case "off":
		return zerolog.Disabled
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func initComponentLoggers() {
	Chain = WithComponent("chain")
	Mempool = WithComponent("mempool")
	P2P = WithComponent("p2p")
	Node = WithComponent("node")
	RPC = WithComponent("rpc")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// SetOutput replaces the global logger with a JSON logger writing to w and
// rebuilds the component loggers.
func SetOutput(w io.Writer, level string) {
	Logger = NewJSONLogger(w, level)
	initComponentLoggers()
}
