package debug

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (smile count, device state)
	LevelLive    = 2 // Live info (capture cycles, faces found)
	LevelVerbose = 3 // Verbose (probabilities, timings, config)
	LevelTrace   = 4 // Trace (GPIO, SPI, I2C, very low level)
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields = logrus.Fields

var (
	mu      sync.RWMutex
	level   int
	logger  *logrus.Logger
	fileOut io.WriteCloser
	extra   io.Writer
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (device state, smile count)
// 2 = live info (each capture cycle, faces found)
// 3 = verbose (probabilities, timings, config dump)
// 4 = trace (GPIO, SPI, I2C, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()

	level = debugLevel
	if level <= LevelOff {
		logger = nil
		return
	}

	logger = logrus.New()
	logger.SetLevel(logrus.TraceLevel) // gating is done by level, not logrus
	logger.SetFormatter(&formatter.Formatter{
		NoColors:        os.Getenv("NO_COLOR") != "",
		TimestampFormat: "15:04:05.000",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, s[len(s)-1])
		},
	})
	logger.SetReportCaller(level >= LevelTrace)
	applyOutput()
}

// SetLogFile additionally writes the log to a rotated file.
// An empty path disables file output.
func SetLogFile(filename string) {
	mu.Lock()
	defer mu.Unlock()

	if fileOut != nil {
		_ = fileOut.Close()
		fileOut = nil
	}
	if filename != "" {
		fileOut = &lumberjack.Logger{
			Filename:   filename,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    10, // megabytes, SD cards are small
			MaxAge:     7,
			MaxBackups: 3,
		}
	}
	applyOutput()
}

// SetOutput adds w as an extra destination next to stdout and the log file
// (used by the web status stream).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	extra = w
	applyOutput()
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileOut == nil {
		return nil
	}
	err := fileOut.Close()
	fileOut = nil
	applyOutput()
	return err
}

// applyOutput must be called with mu held.
func applyOutput() {
	if logger == nil {
		return
	}
	writers := []io.Writer{os.Stdout}
	if fileOut != nil {
		writers = append(writers, fileOut)
	}
	if extra != nil {
		writers = append(writers, extra)
	}
	logger.SetOutput(io.MultiWriter(writers...))
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func entry(minLevel int) *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel || logger == nil {
		return nil
	}
	return logger
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if l := entry(LevelInfo); l != nil {
		l.Infof(format, args...)
	}
}

// InfoFields prints a level 1 message with structured fields.
func InfoFields(fields Fields, msg string) {
	if l := entry(LevelInfo); l != nil {
		l.WithFields(fields).Info(msg)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if l := entry(LevelInfo); l != nil {
		l.Info("═══════════════════════════════════════")
		l.Infof("  %s", title)
		l.Info("═══════════════════════════════════════")
	}
}

// Count prints the smile counter (level 1).
func Count(count int) {
	if l := entry(LevelInfo); l != nil {
		l.WithField("count", count).Infof("Smile count increased to %d", count)
	}
}

// State prints a device state transition (level 1).
func State(from, to string) {
	if l := entry(LevelInfo); l != nil {
		l.WithFields(Fields{"from": from, "to": to}).Info("Device state changed")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if l := entry(LevelLive); l != nil {
		l.Infof(format, args...)
	}
}

// Cycle prints the start of a capture cycle (level 2).
func Cycle(seq uint64, id string) {
	if l := entry(LevelLive); l != nil {
		l.WithFields(Fields{"seq": seq, "cycle": id}).Info("Capture requested")
	}
}

// Faces prints the outcome of one evaluation (level 2).
func Faces(seq uint64, found int) {
	if l := entry(LevelLive); l != nil {
		l.WithField("seq", seq).Infof("Face detection succeeded, found %d faces", found)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if l := entry(LevelVerbose); l != nil {
		l.Debugf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if l := entry(LevelVerbose); l != nil {
		l.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if l := entry(LevelVerbose); l != nil {
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		l.Debugf("  %s", name)
		l.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if l := entry(LevelVerbose); l != nil {
		l.Debugf("Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if l := entry(LevelInfo); l != nil {
		l.Infof("  %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if l := entry(LevelTrace); l != nil {
		l.Tracef(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if l := entry(LevelTrace); l != nil {
		l.WithFields(Fields{"pin": pin, "value": value}).Tracef("[GPIO] %s", operation)
	}
}

// Bus prints a raw SPI/I2C transfer (level 4).
func Bus(bus string, data []byte) {
	if l := entry(LevelTrace); l != nil {
		l.WithField("len", len(data)).Tracef("[%s] % x", bus, data)
	}
}

// --- General functions ---

// Warn prints a recoverable problem (level 1+).
func Warn(format string, args ...interface{}) {
	if l := entry(LevelInfo); l != nil {
		l.Warnf(format, args...)
	}
}

// Error prints a debug error (level 1+).
func Error(err error) {
	if l := entry(LevelInfo); l != nil {
		l.Error(err)
	}
}

// ErrorMsg prints an error with context (level 1+).
func ErrorMsg(msg string, err error) {
	if l := entry(LevelInfo); l != nil {
		l.WithError(err).Error(msg)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
