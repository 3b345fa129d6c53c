package clypsalot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Severity is one of the eight log levels the core can deliver, ordered
// from least to most severe. It maps onto slog.Level so any slog.Handler
// can be used as a destination.
type Severity int

// The severities, least to most severe, matching the taxonomy the host
// application's log window and other sinks are written against.
const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityVerbose
	SeverityInfo
	SeverityNotice
	SeverityWarn
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "trace"
	case SeverityDebug:
		return "debug"
	case SeverityVerbose:
		return "verbose"
	case SeverityInfo:
		return "info"
	case SeverityNotice:
		return "notice"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// slogLevel spreads the eight core severities across slog's level range
// in steps of four, with info at slog.LevelInfo, so existing
// slog.Handler implementations can filter on them. Verbose, notice and
// warn therefore coincide with slog.LevelDebug, slog.LevelWarn and
// slog.LevelError, and trace and debug sit below slog.LevelDebug.
func (s Severity) slogLevel() slog.Level {
	return slog.Level((int(s) - int(SeverityInfo)) * 4)
}

// LogEvent carries everything a destination needs to render one log
// message: the component that produced it, where in the source it came
// from, which goroutine was running, when it happened, how severe it
// is, and the rendered message text.
type LogEvent struct {
	Source      string
	File        string
	Line        int
	GoroutineID string
	Timestamp   time.Time
	Severity    Severity
	Message     string
}

// LogEngine is the process-wide destination for log events described in
// the external interfaces section of the design: components call
// Deliver, a pluggable set of slog.Handler destinations renders it.
// LogEngine itself never blocks on a slow destination beyond however
// long that destination's Handle call takes.
type LogEngine struct {
	mu       sync.RWMutex
	handlers []slog.Handler
}

var defaultLogEngine = NewLogEngine(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

// NewLogEngine builds a LogEngine delivering to the given initial set of
// destinations. Passing no handlers is valid; use AddHandler later.
func NewLogEngine(handlers ...slog.Handler) *LogEngine {
	return &LogEngine{handlers: append([]slog.Handler{}, handlers...)}
}

// DefaultLogEngine returns the process-wide LogEngine used by core
// components that were not constructed with an explicit one.
func DefaultLogEngine() *LogEngine {
	return defaultLogEngine
}

// AddHandler registers another destination. Destinations are invoked in
// registration order; a panic from a destination is not recovered,
// matching the log window / UI sinks the core assumes are out of scope
// but well-behaved.
func (e *LogEngine) AddHandler(h slog.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Deliver sends a fully formed LogEvent to every registered destination.
func (e *LogEngine) Deliver(event LogEvent) {
	e.mu.RLock()
	handlers := make([]slog.Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	level := event.Severity.slogLevel()
	ctx := context.Background()

	for _, h := range handlers {
		if !h.Enabled(ctx, level) {
			continue
		}

		record := slog.NewRecord(event.Timestamp, level, event.Message, 0)
		record.AddAttrs(
			slog.String("source", event.Source),
			slog.String("file", event.File),
			slog.Int("line", event.Line),
			slog.String("goroutine", event.GoroutineID),
			slog.String("severity", event.Severity.String()),
		)
		_ = h.Handle(ctx, record)
	}
}

// Log renders message via fmt.Sprint(args...) and delivers it
// with the calling file and line. source identifies the emitting
// component (typically a package or subsystem name).
func (e *LogEngine) Log(source string, severity Severity, args ...any) {
	e.log(source, severity, 2, fmt.Sprint(args...))
}

// Logf is the Printf-style counterpart to Log.
func (e *LogEngine) Logf(source string, severity Severity, format string, args ...any) {
	e.log(source, severity, 2, fmt.Sprintf(format, args...))
}

func (e *LogEngine) log(source string, severity Severity, skip int, message string) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file, line = "unknown", 0
	}

	e.Deliver(LogEvent{
		Source:      source,
		File:        file,
		Line:        line,
		GoroutineID: goroutineLabel(),
		Timestamp:   time.Now(),
		Severity:    severity,
		Message:     message,
	})
}

// goroutineLabel stands in for the thread id the original implementation
// captures at the point a log event is raised. Go does not expose a
// goroutine id through any supported API; this parses the one the
// runtime prints at the head of a stack dump, which is diagnostic-only
// and never used for scheduling decisions.
func goroutineLabel() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) >= 2 {
		return fields[1]
	}
	return "?"
}

func logTrace(source string, args ...any) { defaultLogEngine.Log(source, SeverityTrace, args...) }
func logDebug(source string, args ...any) { defaultLogEngine.Log(source, SeverityDebug, args...) }
func logInfo(source string, args ...any)  { defaultLogEngine.Log(source, SeverityInfo, args...) }
func logWarn(source string, args ...any)  { defaultLogEngine.Log(source, SeverityWarn, args...) }
func logError(source string, args ...any) { defaultLogEngine.Log(source, SeverityError, args...) }
