package classify

import (
	"time"

	"github.com/reedfamily/reedlink/internal/event"
)

// RawLog is the ServerLog published for every processed line, claimed by a
// matcher or not.
func RawLog(line Line) event.ServerLog {
	return event.ServerLog{
		At:      time.Now(),
		Message: line.Message,
		Level:   line.Level,
		Thread:  line.Thread,
	}
}
