package ratelimit

import "time"

// MinVisitInterval is the cooldown between two counted visits from the
// same address. A visit inside the window is rejected, not queued.
const MinVisitInterval = 5 * time.Second

// Allow reports whether a repeat visit at now should be counted, given the
// record's last accepted visit. First-time visitors are never gated here;
// callers only consult Allow for records that already exist.
func Allow(lastVisit, now time.Time) bool {
	return now.Sub(lastVisit) >= MinVisitInterval
}
