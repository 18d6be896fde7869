package logger

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts Logger to cron.Logger so the Recover and
// SkipIfStillRunning wrappers write through the same handler.
type cronLogger struct {
	log *Logger
}

// CronLogger returns a cron.Logger backed by l. Cron's info messages are
// demoted to debug; they fire on every schedule tick.
func CronLogger(l *Logger) cron.Logger {
	return cronLogger{log: l.With(Field{Key: "component", Value: "cron"})}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, pairsToFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, err, pairsToFields(keysAndValues)...)
}

func pairsToFields(kv []interface{}) []Field {
	fields := make([]Field, 0, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fields = append(fields, Field{Key: "extra", Value: key})
			break
		}
		fields = append(fields, Field{Key: key, Value: kv[i+1]})
	}
	return fields
}
