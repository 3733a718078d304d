package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// Setup configures the process-wide logger. format "json" writes one JSON
// object per line; anything else uses the human-readable console writer.
func Setup(level Level, format string) {
	SetupWithWriter(level, format, os.Stderr)
}

// SetupWithWriter is Setup with an explicit destination, mostly for tests.
func SetupWithWriter(level Level, format string, w io.Writer) {
	var out io.Writer = w
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02T15:04:05.000Z07:00"}
	}

	mu.Lock()
	logger = zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(level))
	mu.Unlock()
}

// SetLevel changes the minimum level without touching the output.
func SetLevel(l Level) {
	mu.Lock()
	logger = logger.Level(parseLevel(l))
	mu.Unlock()
}

// Logger returns the current zerolog logger for packages that want its
// full API.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, kv ...any) {
	write(zerolog.DebugLevel, nil, msg, kv)
}

func Info(msg string, kv ...any) {
	write(zerolog.InfoLevel, nil, msg, kv)
}

func Warn(msg string, kv ...any) {
	write(zerolog.WarnLevel, nil, msg, kv)
}

func Error(msg string, err error, kv ...any) {
	write(zerolog.ErrorLevel, err, msg, kv)
}

func write(level zerolog.Level, err error, msg string, kv []any) {
	l := Logger()
	e := l.WithLevel(level)
	if e == nil {
		return
	}
	if err != nil {
		e = e.Err(err)
	}
	// Expect kv as pairs: key, value, key, value, ...
	// A trailing key without a value is dropped.
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func parseLevel(l Level) zerolog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
