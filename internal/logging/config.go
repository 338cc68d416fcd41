package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/aesdsocket/internal/observability"
	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "AESDSOCKET_LOG_LEVEL"
	EnvLogTimestamp = "AESDSOCKET_LOG_TIMESTAMP"
	EnvLogNoColor   = "AESDSOCKET_LOG_NOCOLOR"
	EnvLogSyslog    = "AESDSOCKET_LOG_SYSLOG"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileDaemon
	ProfileTest
)

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

// ConfigureDaemon routes logs to syslog; a detached process has no terminal.
func ConfigureDaemon() {
	Configure(ProfileDaemon)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		opts := defaultOptions(profile)
		applyEnvOverrides(&opts)
		observability.InitLogger("aesdsocket", opts)
	})
}

func defaultOptions(profile Profile) observability.LoggerOptions {
	switch profile {
	case ProfileTest:
		return observability.LoggerOptions{
			Level:     zerolog.DebugLevel,
			Timestamp: false,
			NoColor:   true,
		}
	case ProfileDaemon:
		return observability.LoggerOptions{
			Level:     zerolog.InfoLevel,
			Timestamp: true,
			Syslog:    true,
		}
	default:
		return observability.LoggerOptions{
			Level:     zerolog.InfoLevel,
			Timestamp: true,
		}
	}
}

func applyEnvOverrides(opts *observability.LoggerOptions) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		opts.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		opts.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		opts.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogSyslog)); ok {
		opts.Syslog = v
	}
}

// levelAliases maps the extra spellings operators use onto zerolog
// level names.
var levelAliases = map[string]string{
	"diagnostics": "trace",
	"warning":     "warn",
	"disable":     "disabled",
	"off":         "disabled",
	"none":        "disabled",
	"inactive":    "disabled",
}

func parseLevel(raw string) (zerolog.Level, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return zerolog.InfoLevel, false
	}
	if alias, ok := levelAliases[name]; ok {
		name = alias
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel, false
	}
	return lvl, true
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
