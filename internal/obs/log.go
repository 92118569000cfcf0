// Package obs holds the service observability surface: the shared JSON
// logger, Prometheus metrics and build information.
package obs

import (
	"encoding/json"
	"fmt"
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
	Logger().Println(formatEntry(entry))
}

// formatEntry marshals an entry to one JSON line. An unmarshalable entry is
// replaced by a valid error line so the log stream stays parseable.
func formatEntry(entry map[string]any) string {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"ts":%q,"level":"error","msg":"log entry not serializable","cause":%q}`,
			time.Now().UTC().Format(time.RFC3339Nano), err.Error())
	}
	return string(data)
}
