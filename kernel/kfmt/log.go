package kfmt

// Level describes the severity attached to a log line. Lines below the
// active level are dropped.
type Level uint8

// The supported log levels, in increasing order of severity.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	activeLevel = LevelInfo

	levelTags = [...][]byte{
		[]byte("[trace] "),
		[]byte("[debug] "),
		[]byte("[info ] "),
		[]byte("[warn ] "),
		[]byte("[error] "),
	}
)

// SetLevel sets the minimum severity that the leveled logging helpers will
// emit and returns the previously active level.
func SetLevel(l Level) Level {
	prev := activeLevel
	activeLevel = l
	return prev
}

// Trace logs a formatted message at trace level.
func Trace(format string, args ...interface{}) { logf(LevelTrace, format, args...) }

// Debug logs a formatted message at debug level.
func Debug(format string, args ...interface{}) { logf(LevelDebug, format, args...) }

// Info logs a formatted message at info level.
func Info(format string, args ...interface{}) { logf(LevelInfo, format, args...) }

// Warn logs a formatted message at warn level.
func Warn(format string, args ...interface{}) { logf(LevelWarn, format, args...) }

// Error logs a formatted message at error level.
func Error(format string, args ...interface{}) { logf(LevelError, format, args...) }

func logf(l Level, format string, args ...interface{}) {
	if l < activeLevel {
		return
	}

	doWrite(outputSink, levelTags[l])
	Fprintf(outputSink, format, args...)
	writeByte(outputSink, '\n')
}
