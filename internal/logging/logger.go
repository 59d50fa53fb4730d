package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLevel names the environment variable holding the default log level.
const EnvLevel = "CVILOAD_LOG_LEVEL"

// DefaultLevel is used when neither a flag nor EnvLevel sets one.
const DefaultLevel = "warn"

// ParseLevel maps a level name to a zerolog level. Empty means DefaultLevel.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = DefaultLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// LevelFromEnv returns flagValue if set, otherwise the value of EnvLevel.
func LevelFromEnv(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	return os.Getenv(EnvLevel)
}

// New returns a console logger writing to out.
func New(out io.Writer, app, level string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Str("app", app).Logger(), nil
}

// Init builds the stderr logger and installs it as the global logger.
func Init(app, level string) (zerolog.Logger, error) {
	logger, err := New(os.Stderr, app, level)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}
