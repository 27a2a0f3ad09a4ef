// Package obs carries the service's observability: a shared JSON-line
// logger and the Prometheus metric set.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Event emits one structured log line at the given level with a message
// and optional fields.
func Event(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		if _, taken := entry[k]; !taken {
			entry[k] = v
		}
	}
	LogRequest(entry)
}

// Info logs at info level.
func Info(msg string, fields map[string]any) { Event("info", msg, fields) }

// Error logs at error level.
func Error(msg string, fields map[string]any) { Event("error", msg, fields) }
