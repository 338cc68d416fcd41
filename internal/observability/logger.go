package observability

import (
	"io"
	"log/syslog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SyslogTag is the identity used for syslog records.
const SyslogTag = "aesdsocket"

// LoggerOptions selects the sink and format for the process logger.
type LoggerOptions struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Syslog    bool
	Out       io.Writer
}

// InitLogger installs the global zerolog logger and returns it.
// A syslog sink that cannot be dialed falls back to the console writer.
func InitLogger(app string, opts LoggerOptions) zerolog.Logger {
	zerolog.SetGlobalLevel(opts.Level)

	var (
		out        io.Writer
		syslogErr  error
		usedSyslog bool
	)
	if opts.Syslog {
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, SyslogTag)
		if err == nil {
			out = zerolog.SyslogLevelWriter(w)
			usedSyslog = true
		} else {
			syslogErr = err
		}
	}
	if out == nil {
		out = consoleWriter(opts)
	}

	ctx := zerolog.New(out).With().Str("app", app)
	if opts.Timestamp && !usedSyslog {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Logger()
	log.Logger = logger

	if syslogErr != nil {
		logger.Warn().Err(syslogErr).Msg("syslog unavailable, logging to console")
	}
	return logger
}

func consoleWriter(opts LoggerOptions) zerolog.ConsoleWriter {
	target := opts.Out
	if target == nil {
		target = os.Stderr
	}
	noColor := opts.NoColor
	if f, ok := target.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
		noColor = true
	}
	return zerolog.ConsoleWriter{
		Out:        target,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
	}
}
