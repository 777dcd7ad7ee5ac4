package debug

import (
	"fmt"
	"log/slog"
	"time"
)

// DebugHeader logs a section start if debugging is enabled
func DebugHeader(enabled bool) {
	if enabled {
		slog.Debug("=== DEBUG START ===")
	}
}

// DebugFooter logs a section end if debugging is enabled
func DebugFooter(enabled bool) {
	if enabled {
		slog.Debug("=== DEBUG END ===")
	}
}

// DebugOutput logs a formatted debug line if debugging is enabled
func DebugOutput(enabled bool, format string, args ...interface{}) {
	if enabled {
		slog.Debug(fmt.Sprintf(format, args...))
	}
}

// DebugTiming measures and logs execution time if debugging is enabled
func DebugTiming(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	slog.Debug("starting", "operation", operation)

	return func() {
		slog.Debug("completed", "operation", operation, "took", time.Since(start))
	}
}
