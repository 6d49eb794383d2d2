package logging

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, processName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", processName, sessionStart.Format("20060102_150405")),
	)
}

// SessionContext returns a ContextProvider that tags records with the
// peer's session facts. Zero actors are omitted until the relay assigns them.
func SessionContext(session func() string, local, coordinator func() core.ActorID) ContextProvider {
	return func() []slog.Attr {
		var attrs []slog.Attr
		if s := session(); s != "" {
			attrs = append(attrs, slog.String("session", s))
		}
		if a := local(); a != core.NoActor {
			attrs = append(attrs, slog.Int("actor", int(a)))
		}
		if c := coordinator(); c != core.NoActor {
			attrs = append(attrs, slog.Int("coordinator", int(c)))
		}
		return attrs
	}
}
