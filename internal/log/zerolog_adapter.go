package log

import (
	"io"

	"github.com/rs/zerolog"
)

// zerologAdapter implements Logger on top of github.com/rs/zerolog,
// KURPOD's production logger. It translates the package's Field/
// WithFields API onto zerolog's event builder.
type zerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologLogger creates a Logger backed by zerolog, writing to out at
// the given minimum level. Pass zerolog.ConsoleWriter{Out: out} instead
// of out directly for human-readable (non-JSON) output.
func NewZerologLogger(out io.Writer, level Level) Logger {
	zl := zerolog.New(out).With().Timestamp().Logger().Level(toZerologLevel(level))
	return &zerologAdapter{logger: zl}
}

func toZerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func applyFields(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			e = e.Str(f.Key, v)
		case int:
			e = e.Int(f.Key, v)
		case int64:
			e = e.Int64(f.Key, v)
		case float64:
			e = e.Float64(f.Key, v)
		case bool:
			e = e.Bool(f.Key, v)
		case nil:
			e = e.Interface(f.Key, nil)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	return e
}

func (z *zerologAdapter) Debug(msg string, fields ...Field) {
	applyFields(z.logger.Debug(), fields).Msg(msg)
}

func (z *zerologAdapter) Info(msg string, fields ...Field) {
	applyFields(z.logger.Info(), fields).Msg(msg)
}

func (z *zerologAdapter) Warn(msg string, fields ...Field) {
	applyFields(z.logger.Warn(), fields).Msg(msg)
}

func (z *zerologAdapter) Error(msg string, fields ...Field) {
	applyFields(z.logger.Error(), fields).Msg(msg)
}

func (z *zerologAdapter) WithFields(fields ...Field) Logger {
	ctx := z.logger.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zerologAdapter{logger: ctx.Logger()}
}
