package schedule

import (
	"time"

	"github.com/willexec/willexec/internal/domain/will"
)

// DefaultFloor keeps a misconfigured will from spinning the loop.
const DefaultFloor = 5 * time.Second

// Interval computes the sleep before the next check: the requested poll
// interval, capped by the tightest grace window and never below floor.
func Interval(w *will.Will, floor time.Duration) time.Duration {
	if floor <= 0 {
		floor = DefaultFloor
	}
	requested := pollInterval(w.PollIntervalSeconds)
	upper := requested
	if grace, ok := w.SmallestGraceWindow(); ok && grace < upper {
		upper = grace
	}
	if upper < floor {
		return floor
	}
	return upper
}

func pollInterval(seconds int64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	const maxSeconds = int64(1<<63-1) / int64(time.Second)
	if seconds > maxSeconds {
		return time.Duration(1<<63 - 1)
	}
	return time.Duration(seconds) * time.Second
}
