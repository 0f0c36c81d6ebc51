package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the engine-wide structured logging contract. kv is an alternating
// key/value list.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

type zl struct {
	l zerolog.Logger
}

// Options selects the backing writers and level.
type Options struct {
	Level   string   // trace|debug|info|warn|error
	Writers []string // "console", "file"
	File    string   // rotating file path, used when Writers contains "file"
}

// New builds a zerolog-backed Logger. Unknown levels fall back to info.
func New(opts Options) Logger {
	var ws []io.Writer
	for _, w := range opts.Writers {
		switch w {
		case "console":
			ws = append(ws, zerolog.ConsoleWriter{Out: os.Stderr})
		case "file":
			ws = append(ws, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    20, // MB
				MaxBackups: 5,
			})
		}
	}
	if len(ws) == 0 {
		ws = append(ws, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(zerolog.MultiLevelWriter(ws...)).Level(lvl).With().Timestamp().Logger()
	return &zl{l: l}
}

// NewNop returns a Logger that discards everything. Test use.
func NewNop() Logger {
	return &zl{l: zerolog.Nop()}
}

func (z *zl) Debug(msg string, kv ...any) { emit(z.l.Debug(), msg, kv) }
func (z *zl) Info(msg string, kv ...any)  { emit(z.l.Info(), msg, kv) }
func (z *zl) Warn(msg string, kv ...any)  { emit(z.l.Warn(), msg, kv) }

func (z *zl) Err(err error, msg string, kv ...any) {
	emit(z.l.Error().Err(err), msg, kv)
}

func (z *zl) With(kv ...any) Logger {
	c := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		c = c.Interface(k, kv[i+1])
	}
	return &zl{l: c.Logger()}
}

func emit(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(k, kv[i+1])
	}
	e.Msg(msg)
}
