// logging.go - structured logging for the fiber scheduler and reactor.
//
// Package-level configuration for structured logging, so external code can
// wire in zerolog, logrus, or similar, while a low-overhead built-in
// implementation covers basic usage without any extra setup.
//
// Usage:
//
//	fibersched.SetStructuredLogger(fibersched.NewDefaultLogger(fibersched.LevelInfo))

package fibersched

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

var (
	// globalLogger is the package-level logger used by the S* convenience
	// helpers and as the default for HostOption-less construction.
	globalLogger struct {
		sync.RWMutex
		logger Logger
	}
)

// SetStructuredLogger sets the global structured logger.
func SetStructuredLogger(logger Logger) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

// getGlobalLogger safely retrieves the global logger, defaulting to a no-op.
func getGlobalLogger() Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	if globalLogger.logger != nil {
		return globalLogger.logger
	}
	return NewNoOpLogger()
}

// LogLevel represents the severity of a log message.
type LogLevel int32

const (
	// LevelDebug for detailed diagnostic information.
	LevelDebug LogLevel = iota
	// LevelInfo for general informational messages.
	LevelInfo
	// LevelWarn for warning conditions.
	LevelWarn
	// LevelError for error conditions.
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// LogEntry is a structured log record. Category identifies the subsystem
// that emitted it: "scheduler", "reactor", "mainloop", "cancellable", or
// "shutdown".
type LogEntry struct {
	Level     LogLevel
	Category  string
	FiberID   int64
	TimerID   int64
	Context   map[string]interface{}
	Message   string
	Err       error
	Timestamp time.Time
}

// Logger is the structured logging interface used throughout the scheduler
// and reactor.
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// DefaultLogger implements Logger, writing to an *os.File (os.Stdout by
// default), pretty-printed for a terminal and JSON otherwise.
type DefaultLogger struct {
	level atomic.Int32
	mu    sync.Mutex
	Out   *os.File
}

// NewDefaultLogger creates a logger with the given minimum level.
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	l := &DefaultLogger{Out: os.Stdout}
	l.level.Store(int32(level))
	return l
}

// NewFileLogger creates a logger appending to the named file.
func NewFileLogger(level LogLevel, filename string) (*DefaultLogger, error) {
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l := &DefaultLogger{Out: file}
	l.level.Store(int32(level))
	return l, nil
}

// SetLevel dynamically changes the minimum log level.
func (l *DefaultLogger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

func (l *DefaultLogger) getLevel() int32 { return l.level.Load() }

// IsEnabled reports whether the given level would be logged.
func (l *DefaultLogger) IsEnabled(level LogLevel) bool { return level >= LogLevel(l.getLevel()) }

// Log writes a structured log entry.
func (l *DefaultLogger) Log(entry LogEntry) {
	if !l.IsEnabled(entry.Level) {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if isTerminal(l.Out) {
		l.logPretty(entry)
	} else {
		l.logJSON(entry)
	}
}

func (l *DefaultLogger) logPretty(entry LogEntry) {
	const (
		colorReset = "\033[0m"
		colorError = "\033[31m"
		colorWarn  = "\033[33m"
		colorInfo  = "\033[36m"
		colorDebug = "\033[90m"
		colorDim   = "\033[2m"
	)

	var color string
	switch entry.Level {
	case LevelDebug:
		color = colorDebug
	case LevelInfo:
		color = colorInfo
	case LevelWarn:
		color = colorWarn
	case LevelError:
		color = colorError
	}

	fmt.Fprintf(l.Out, "%s%s%s %s [%-10s] %s%s",
		color, entry.Level.String(), colorReset,
		entry.Timestamp.Format("15:04:05.000"),
		entry.Category,
		entry.Message,
		colorReset,
	)

	if len(entry.Context) > 0 || entry.FiberID != 0 || entry.TimerID != 0 {
		fmt.Fprint(l.Out, colorDim)
		if entry.FiberID != 0 {
			fmt.Fprintf(l.Out, " fiber=%d", entry.FiberID)
		}
		if entry.TimerID != 0 {
			fmt.Fprintf(l.Out, " timer=%d", entry.TimerID)
		}
		for k, v := range entry.Context {
			fmt.Fprintf(l.Out, " %s=%v", k, v)
		}
		fmt.Fprint(l.Out, colorReset)
	}

	if entry.Err != nil {
		fmt.Fprintf(l.Out, " %s%v%s\n", colorError, entry.Err, colorReset)
	} else {
		fmt.Fprintln(l.Out)
	}
}

func (l *DefaultLogger) logJSON(entry LogEntry) {
	fmt.Fprintf(l.Out, "{\"timestamp\":\"%s\",\"level\":%q,\"category\":\"%s\"",
		entry.Timestamp.Format(time.RFC3339Nano),
		entry.Level.String(),
		entry.Category,
	)

	if entry.FiberID != 0 {
		fmt.Fprintf(l.Out, ",\"fiber\":%d", entry.FiberID)
	}
	if entry.TimerID != 0 {
		fmt.Fprintf(l.Out, ",\"timer\":%d", entry.TimerID)
	}
	for k, v := range entry.Context {
		fmt.Fprintf(l.Out, ",%s:%v", appendJSONString(nil, k), v)
	}

	fmt.Fprintf(l.Out, ",\"message\":%s", appendJSONString(nil, entry.Message))
	if entry.Err != nil {
		fmt.Fprintf(l.Out, ",\"error\":%s}\n", appendJSONString(nil, entry.Err.Error()))
	} else {
		fmt.Fprintln(l.Out, "}")
	}
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// LogEntryBuilder provides a fluent API for building log entries.
type LogEntryBuilder struct {
	entry LogEntry
}

// NewLogEntry creates a new log entry builder.
func NewLogEntry(level LogLevel, category string, message string) LogEntryBuilder {
	return LogEntryBuilder{
		entry: LogEntry{
			Level:     level,
			Category:  category,
			Message:   message,
			Context:   make(map[string]interface{}),
			Timestamp: time.Now(),
		},
	}
}

// FiberID sets the fiber ID for this log entry.
func (b LogEntryBuilder) FiberID(id int64) LogEntryBuilder {
	b.entry.FiberID = id
	return b
}

// TimerID sets the timer ID for this log entry.
func (b LogEntryBuilder) TimerID(id int64) LogEntryBuilder {
	b.entry.TimerID = id
	return b
}

// Field adds a key-value pair to the context.
func (b LogEntryBuilder) Field(key string, value interface{}) LogEntryBuilder {
	b.entry.Context[key] = value
	return b
}

// Fields adds multiple key-value pairs.
func (b LogEntryBuilder) Fields(fields map[string]interface{}) LogEntryBuilder {
	for k, v := range fields {
		b.entry.Context[k] = v
	}
	return b
}

// Err sets the error for this log entry.
func (b LogEntryBuilder) Err(err error) LogEntryBuilder {
	b.entry.Err = err
	return b
}

// Build constructs the final log entry.
func (b LogEntryBuilder) Build() LogEntry { return b.entry }

// ContextFields extracts log fields from a context, when present.
func ContextFields(ctx context.Context) map[string]interface{} {
	fields := make(map[string]interface{})
	if id := getCorrelationID(ctx); id != "" {
		fields["correlationID"] = id
	}
	if id := getTraceID(ctx); id != "" {
		fields["traceID"] = id
	}
	return fields
}

type correlationIDKey struct{}
type traceIDKey struct{}

func getCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

func getTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID attaches a correlation ID to ctx.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// WithTraceID attaches a trace ID to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// NoOpLogger discards everything. It is the default when no logger is set.
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (l *NoOpLogger) Log(entry LogEntry)          {}
func (l *NoOpLogger) IsEnabled(level LogLevel) bool { return false }

// WriterLogger implements Logger over any io.Writer, formatted as plain
// text; the shape a table-driven test asserts against.
type WriterLogger struct {
	level atomic.Int32
	mu    sync.Mutex
	out   io.Writer
}

// NewWriterLogger creates a logger writing to out.
func NewWriterLogger(level LogLevel, out io.Writer) *WriterLogger {
	l := &WriterLogger{out: out}
	l.level.Store(int32(level))
	return l
}

// SetLevel dynamically changes the minimum log level.
func (l *WriterLogger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

// IsEnabled reports whether the given level would be logged.
func (l *WriterLogger) IsEnabled(level LogLevel) bool { return level >= LogLevel(l.level.Load()) }

// Log writes a structured log entry.
func (l *WriterLogger) Log(entry LogEntry) {
	if !l.IsEnabled(entry.Level) {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logText(entry)
}

func (l *WriterLogger) logText(entry LogEntry) {
	fmt.Fprintf(l.out, "[%s] [%s] [%-10s] %s",
		entry.Level.String(),
		entry.Timestamp.Format("15:04:05.000"),
		entry.Category,
		entry.Message,
	)
	if entry.FiberID != 0 {
		fmt.Fprintf(l.out, " fiber=%d", entry.FiberID)
	}
	if entry.TimerID != 0 {
		fmt.Fprintf(l.out, " timer=%d", entry.TimerID)
	}
	for k, v := range entry.Context {
		fmt.Fprintf(l.out, " %s=%v", k, v)
	}
	if entry.Err != nil {
		fmt.Fprintf(l.out, " err=%v\n", entry.Err)
	} else {
		fmt.Fprintln(l.out)
	}
}

// LogifaceEvent adapts logiface.Event onto a zerolog.Event, following the
// shape of the ecosystem's zerolog binding: wrap the underlying event, the
// level it was created at, and the message set via Log/Logf.
type LogifaceEvent struct {
	logiface.UnimplementedEvent
	z   *zerolog.Event
	lvl logiface.Level
	msg string
}

// Level returns the level the event was created at.
func (e *LogifaceEvent) Level() logiface.Level { return e.lvl }

// AddField attaches an arbitrary field to the underlying zerolog event.
func (e *LogifaceEvent) AddField(key string, val any) { e.z.Interface(key, val) }

// AddMessage records the event's message, deferred until Write.
func (e *LogifaceEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

// AddError attaches err to the underlying zerolog event.
func (e *LogifaceEvent) AddError(err error) bool {
	e.z.Err(err)
	return true
}

// AddString attaches a string field.
func (e *LogifaceEvent) AddString(key string, val string) bool {
	e.z.Str(key, val)
	return true
}

// AddInt64 attaches an int64 field.
func (e *LogifaceEvent) AddInt64(key string, val int64) bool {
	e.z.Int64(key, val)
	return true
}

// AddDuration attaches a duration field.
func (e *LogifaceEvent) AddDuration(key string, val time.Duration) bool {
	e.z.Dur(key, val)
	return true
}

// LogifaceLoggerFactory builds LogifaceEvent instances at a given severity,
// mirroring the zerolog binding's level-to-severity-method switch.
type LogifaceLoggerFactory struct {
	Z zerolog.Logger
}

// NewEvent implements logiface.EventFactory[*LogifaceEvent].
func (f LogifaceLoggerFactory) NewEvent(level logiface.Level) *LogifaceEvent {
	var z *zerolog.Event
	switch {
	case level <= logiface.LevelEmergency:
		z = f.Z.WithLevel(zerolog.PanicLevel)
	case level == logiface.LevelAlert || level == logiface.LevelCritical:
		z = f.Z.WithLevel(zerolog.FatalLevel)
	case level == logiface.LevelError:
		z = f.Z.Error()
	case level == logiface.LevelWarning:
		z = f.Z.Warn()
	case level == logiface.LevelNotice || level == logiface.LevelInformational:
		z = f.Z.Info()
	case level == logiface.LevelDebug:
		z = f.Z.Debug()
	default:
		z = f.Z.Trace()
	}
	return &LogifaceEvent{z: z, lvl: level}
}

// Write implements logiface.Writer[*LogifaceEvent].
func (f LogifaceLoggerFactory) Write(event *LogifaceEvent) error {
	event.z.Msg(event.msg)
	return nil
}

// LogifaceLogger adapts a Logger onto a logiface.Logger[*LogifaceEvent]
// rendering through zerolog, the way an application wiring structured
// logging into an ecosystem sink would, rather than through the built-in
// DefaultLogger.
type LogifaceLogger struct {
	logger *logiface.Logger[*LogifaceEvent]
	level  LogLevel
}

// NewLogifaceLogger builds a Logger backed by zerolog via logiface.
func NewLogifaceLogger(z zerolog.Logger, level LogLevel) *LogifaceLogger {
	factory := LogifaceLoggerFactory{Z: z}
	return &LogifaceLogger{
		logger: logiface.New[*LogifaceEvent](
			logiface.WithEventFactory[*LogifaceEvent](factory),
			logiface.WithWriter[*LogifaceEvent](factory),
		),
		level: level,
	}
}

// IsEnabled reports whether level would be logged.
func (l *LogifaceLogger) IsEnabled(level LogLevel) bool { return level >= l.level }

func toLogifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

// Log writes entry through the underlying logiface.Logger.
func (l *LogifaceLogger) Log(entry LogEntry) {
	if !l.IsEnabled(entry.Level) {
		return
	}
	b := l.logger.Build(toLogifaceLevel(entry.Level))
	b.Str("category", entry.Category)
	if entry.FiberID != 0 {
		b.Int64("fiber_id", entry.FiberID)
	}
	if entry.TimerID != 0 {
		b.Int64("timer_id", entry.TimerID)
	}
	for k, v := range entry.Context {
		b.Interface(k, v)
	}
	if entry.Err != nil {
		b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

// Helper functions for common logging call sites.

// LogDebug logs a debug message.
func LogDebug(l Logger, category, message string, fields map[string]interface{}) {
	if !l.IsEnabled(LevelDebug) {
		return
	}
	l.Log(LogEntry{Level: LevelDebug, Category: category, Message: message, Context: fields, Timestamp: time.Now()})
}

// LogInfo logs an info message.
func LogInfo(l Logger, category, message string, fields map[string]interface{}) {
	if !l.IsEnabled(LevelInfo) {
		return
	}
	l.Log(LogEntry{Level: LevelInfo, Category: category, Message: message, Context: fields, Timestamp: time.Now()})
}

// LogWarn logs a warning message.
func LogWarn(l Logger, category, message string, fields map[string]interface{}) {
	if !l.IsEnabled(LevelWarn) {
		return
	}
	l.Log(LogEntry{Level: LevelWarn, Category: category, Message: message, Context: fields, Timestamp: time.Now()})
}

// LogError logs an error message.
func LogError(l Logger, category, message string, err error, fields map[string]interface{}) {
	if !l.IsEnabled(LevelError) {
		return
	}
	l.Log(LogEntry{Level: LevelError, Category: category, Message: message, Err: err, Context: fields, Timestamp: time.Now()})
}

// LogErrorf logs a formatted error message.
func LogErrorf(l Logger, category, format string, args ...interface{}) {
	LogError(l, category, fmt.Sprintf(format, args...), nil, nil)
}

// Package-level convenience functions using the global logger.

func SDebug(category, message string, fields ...map[string]interface{}) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelDebug) {
		return
	}
	LogDebug(logger, category, message, firstFields(fields))
}

func SInfo(category, message string, fields ...map[string]interface{}) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelInfo) {
		return
	}
	LogInfo(logger, category, message, firstFields(fields))
}

func SWarn(category, message string, fields ...map[string]interface{}) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelWarn) {
		return
	}
	LogWarn(logger, category, message, firstFields(fields))
}

func SError(category, message string, err error, fields ...map[string]interface{}) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelError) {
		return
	}
	LogError(logger, category, message, err, firstFields(fields))
}

func SErrorf(category, format string, args ...interface{}) {
	SError(category, fmt.Sprintf(format, args...), nil)
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Functional options for LogEntry construction.

// LogEntryOption modifies a log entry.
type LogEntryOption func(*LogEntry)

// WithFiberID sets the fiber ID for a log entry.
func WithFiberID(id int64) LogEntryOption {
	return func(e *LogEntry) { e.FiberID = id }
}

// WithTimerID sets the timer ID for a log entry.
func WithTimerID(id int64) LogEntryOption {
	return func(e *LogEntry) { e.TimerID = id }
}

// WithField sets a key-value pair in the context.
func WithField(key string, value interface{}) LogEntryOption {
	return func(e *LogEntry) {
		if e.Context == nil {
			e.Context = make(map[string]interface{})
		}
		e.Context[key] = value
	}
}

// WithFields sets multiple key-value pairs in the context.
func WithFields(fields map[string]interface{}) LogEntryOption {
	return func(e *LogEntry) {
		if e.Context == nil {
			e.Context = make(map[string]interface{})
		}
		for k, v := range fields {
			e.Context[k] = v
		}
	}
}

// Specialty helpers for scheduler/reactor/timer events.

// LogTimerScheduled logs when a reactor timer is scheduled.
func LogTimerScheduled(timerID int64, duration time.Duration, description string) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelDebug) {
		return
	}
	logger.Log(LogEntry{
		Level: LevelDebug, Category: "reactor", TimerID: timerID,
		Message: "timer scheduled", Timestamp: time.Now(),
		Context: map[string]interface{}{"duration_ms": duration.Milliseconds(), "description": description},
	})
}

// LogTimerFired logs when a reactor timer fires.
func LogTimerFired(timerID int64, duration time.Duration) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelDebug) {
		return
	}
	logger.Log(LogEntry{
		Level: LevelDebug, Category: "reactor", TimerID: timerID,
		Message: "timer fired", Timestamp: time.Now(),
		Context: map[string]interface{}{"duration_ms": duration.Milliseconds()},
	})
}

// LogTimerCanceled logs when a reactor timer is canceled before firing.
func LogTimerCanceled(timerID int64, elapsed time.Duration) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelDebug) {
		return
	}
	logger.Log(LogEntry{
		Level: LevelDebug, Category: "reactor", TimerID: timerID,
		Message: "timer canceled", Timestamp: time.Now(),
		Context: map[string]interface{}{"elapsed_ms": elapsed.Milliseconds()},
	})
}

// LogFiberPanicked logs when a fiber body panics.
func LogFiberPanicked(fiberID int64, panicMsg interface{}, stack []byte) {
	logger := getGlobalLogger()
	if !logger.IsEnabled(LevelError) {
		return
	}
	logger.Log(LogEntry{
		Level: LevelError, Category: "scheduler", FiberID: fiberID,
		Message: "fiber panicked", Timestamp: time.Now(),
		Context: map[string]interface{}{"panic": panicMsg, "stack": string(stack)},
	})
}

// LogPollIOError logs a reactor poll failure.
func LogPollIOError(err error, critical bool) {
	logger := getGlobalLogger()
	level := LevelWarn
	if critical {
		level = LevelError
	}
	if !logger.IsEnabled(level) {
		return
	}
	logger.Log(LogEntry{
		Level: level, Category: "reactor", Message: "poll error", Err: err,
		Timestamp: time.Now(), Context: map[string]interface{}{"critical": critical},
	})
}

// appendJSONString appends a JSON-quoted, escaped string to buf, returning
// the string form (buf may be nil).
func appendJSONString(buf []byte, s string) string {
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', '"':
			buf = append(buf, '\\', c)
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			if c < ' ' {
				buf = append(buf, '\\', 'u', '0', '0', hexByte(c>>4), hexByte(c&0xF))
			} else {
				buf = append(buf, c)
			}
		}
	}
	buf = append(buf, '"')
	return *(*string)(unsafe.Pointer(&buf))
}

// hexByte converts a nibble (0-15) to its hex character.
func hexByte(b byte) byte {
	if b < 10 {
		return '0' + b
	}
	return 'a' + b - 10
}
