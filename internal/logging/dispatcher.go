package logging

import (
	"time"

	"github.com/rs/zerolog"
)

// DispatcherLogger adapts a zerolog.Logger to the key/value Logger the
// control command dispatcher expects.
type DispatcherLogger struct {
	zl zerolog.Logger
}

func NewDispatcherLogger(zl zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{zl: zl}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	emit(l.zl.Debug(), msg, keysAndValues)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	emit(l.zl.Info(), msg, keysAndValues)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	emit(l.zl.Error(), msg, keysAndValues)
}

// emit writes the pairs as typed zerolog fields. Pairs with a non-string key
// are skipped; a trailing value without a key is kept under "!BADKEY" like
// slog does.
func emit(ev *zerolog.Event, msg string, kv []any) {
	if !ev.Enabled() {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case []string:
			ev = ev.Strs(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	if len(kv)%2 == 1 {
		ev = ev.Interface("!BADKEY", kv[len(kv)-1])
	}
	ev.Msg(msg)
}
