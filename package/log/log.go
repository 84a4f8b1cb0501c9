package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/package/env"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type prefork struct{}

func (p prefork) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if fiber.IsChild() {
		e.Discard()
	}
}

// ParseLevel maps a level name to a zerolog level. Unknown names return ok=false.
func ParseLevel(name string) (zerolog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return zerolog.TraceLevel, true
	case "DEBUG":
		return zerolog.DebugLevel, true
	case "INFO":
		return zerolog.InfoLevel, true
	case "WARN", "WARNING":
		return zerolog.WarnLevel, true
	case "ERROR":
		return zerolog.ErrorLevel, true
	case "FATAL":
		return zerolog.FatalLevel, true
	case "PANIC":
		return zerolog.PanicLevel, true
	case "DISABLED", "NO", "OFF":
		return zerolog.Disabled, true
	default:
		return zerolog.NoLevel, false
	}
}

func GetLogLevelFromEnv(envKey string, defaultLevel zerolog.Level) zerolog.Level {
	levelStr, err := env.Get(envKey, "")
	if err != nil || levelStr == "" {
		return defaultLevel
	}

	level, ok := ParseLevel(levelStr)
	if !ok {
		panic("unknown log level: " + levelStr)
	}
	return level
}

func New() zerolog.Logger {
	format, _ := env.Get("LOG_FORMAT", FormatConsole)
	return NewWithWriter(os.Stderr, format, GetLogLevelFromEnv("LOG_LEVEL", zerolog.InfoLevel))
}

// NewWithWriter builds the process logger on top of out. Console format wraps
// out in a zerolog.ConsoleWriter; anything else writes JSON lines.
func NewWithWriter(out io.Writer, format string, level zerolog.Level) zerolog.Logger {
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	writer := out
	if strings.EqualFold(format, FormatConsole) {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339Nano,
		}
	}

	return zerolog.New(writer).With().
		Timestamp().
		Caller().
		Logger().
		Hook(prefork{})
}
