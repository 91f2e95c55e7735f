package logger

import (
	"github.com/rs/zerolog"
)

// CronLogger adapts a zerolog.Logger to the logger interface expected by
// github.com/robfig/cron/v3. Info messages from cron are mostly scheduling
// chatter, so they are emitted at debug level.
type CronLogger struct {
	logger zerolog.Logger
}

func NewCronLogger(l zerolog.Logger) *CronLogger {
	return &CronLogger{logger: l}
}

func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug().Fields(fields(keysAndValues)).Msg(msg)
}

func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(fields(keysAndValues)).Msg(msg)
}

// fields turns alternating key/value pairs into a zerolog field map. A
// trailing key without a value is recorded under "extra".
func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if i+1 >= len(kv) {
			out["extra"] = key
			break
		}
		out[key] = kv[i+1]
	}
	return out
}
