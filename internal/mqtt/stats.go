package mqtt

import (
	"sync"
	"time"

	"github.com/kestrelworks/kestrel-agent/internal/events"
)

// DailyStats accumulates operational counters that reset at local
// midnight. It is safe for concurrent use and is fed from the event
// bus via [DailyStats.Observe].
type DailyStats struct {
	mu          sync.Mutex
	sessions    int64
	toolCalls   int64
	searches    int64
	lastSession time.Time
	resetDay    int // day-of-year of last reset
	loc         *time.Location
}

// NewDailyStats creates an accumulator using the given timezone for
// midnight detection. If loc is nil, [time.Local] is used.
func NewDailyStats(loc *time.Location) *DailyStats {
	if loc == nil {
		loc = time.Local
	}
	return &DailyStats{
		resetDay: time.Now().In(loc).YearDay(),
		loc:      loc,
	}
}

// Observe updates counters from one bus event. Events the stats don't
// track are ignored, so the whole bus stream can be piped through.
func (d *DailyStats) Observe(ev events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	switch ev.Kind {
	case events.KindSessionDone:
		d.sessions++
		d.lastSession = ev.Timestamp
	case events.KindToolDone:
		d.toolCalls++
	case events.KindSearch:
		d.searches++
	}
}

// Snapshot returns the current totals after checking for midnight
// rollover: sessions, tool calls, searches, and the time the most
// recent session finished (zero if none today).
func (d *DailyStats) Snapshot() (sessions, toolCalls, searches int64, lastSession time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.sessions, d.toolCalls, d.searches, d.lastSession
}

// maybeReset zeroes the accumulators if the local day-of-year has
// changed. Must be called with d.mu held.
func (d *DailyStats) maybeReset() {
	today := time.Now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.sessions = 0
		d.toolCalls = 0
		d.searches = 0
		d.lastSession = time.Time{}
		d.resetDay = today
	}
}
