package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the zerolog-backed Logger.
type Options struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// Format is "console" or "json".
	Format string
	// Writers selects output sinks: any of "console", "file".
	Writers []string
	// FilePath is where the "file" writer rotates logs to, via lumberjack.
	FilePath string
}

type zlogger struct {
	l zerolog.Logger
}

// New builds a Logger from Options. Unknown levels default to info;
// an empty Writers list defaults to console.
func New(opts Options) Logger {
	var writers []io.Writer
	sinks := opts.Writers
	if len(sinks) == 0 {
		sinks = []string{"console"}
	}
	for _, w := range sinks {
		switch w {
		case "file":
			path := opts.FilePath
			if path == "" {
				path = "vcrproxy.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   path,
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     28,
				Compress:   true,
			})
		default:
			if opts.Format == "console" {
				writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
			} else {
				writers = append(writers, os.Stderr)
			}
		}
	}
	var out io.Writer
	switch len(writers) {
	case 0:
		out = os.Stderr
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(out).With().Timestamp().Logger().Level(parseLevel(opts.Level))
	return &zlogger{l: zl}
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *zlogger) event(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (z *zlogger) Debug(msg string, kv ...any) { z.event(z.l.Debug(), msg, kv) }
func (z *zlogger) Info(msg string, kv ...any)  { z.event(z.l.Info(), msg, kv) }
func (z *zlogger) Warn(msg string, kv ...any)  { z.event(z.l.Warn(), msg, kv) }
func (z *zlogger) Error(msg string, kv ...any) { z.event(z.l.Error(), msg, kv) }

func (z *zlogger) With(kv ...any) Logger {
	ctx := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &zlogger{l: ctx.Logger()}
}
