package amti

import "fmt"

// Event is a diagnostic emitted by the acquisition path. Events never
// alter the data; hosts decide whether to log, alert, or assert on them.
type Event interface {
	fmt.Stringer
	// Tag is a short stable identifier suitable for message routing.
	Tag() string
}

// EventFunc receives diagnostic events. A nil EventFunc is legal and
// silently drops them.
type EventFunc func(Event)

func (f EventFunc) emit(ev Event) {
	if f != nil {
		f(ev)
	}
}

// RateCautionEvent is emitted once when a session is configured above
// 1000 Hz: supported, but documented to drift without genlock.
type RateCautionEvent struct {
	Rate int
}

// Tag implements Event.
func (e RateCautionEvent) Tag() string { return "RATECAUTION" }

func (e RateCautionEvent) String() string {
	return fmt.Sprintf("rate %d Hz exceeds 1000 Hz; the SDK warns of considerable drift without genlock", e.Rate)
}

// PrerollDiscardEvent reports the rows flushed by the first update:
// samples produced between acquisition start and the first poll cannot
// be timestamped accurately and are thrown away.
type PrerollDiscardEvent struct {
	Rows int
}

// Tag implements Event.
func (e PrerollDiscardEvent) Tag() string { return "PREROLL" }

func (e PrerollDiscardEvent) String() string {
	return fmt.Sprintf("discarded %d samples read between device start and first update", e.Rows)
}

// DiscontinuityEvent reports that the sample counter jumped within one
// update. At most one is emitted per update, however many gaps occurred.
// The usual cause is the device ring buffer overflowing because the host
// polls too slowly for the configured rate.
type DiscontinuityEvent struct {
	// Gaps is how many non-wrap counter jumps the update contained.
	Gaps int
	// LostSamples estimates the rows lost across those jumps,
	// wrap-aware. It is a diagnostic estimate, not a correction.
	LostSamples int64
}

// Tag implements Event.
func (e DiscontinuityEvent) Tag() string { return "DISCONTINUITY" }

func (e DiscontinuityEvent) String() string {
	return fmt.Sprintf("discontinuity on sample count (%d gaps, ~%d samples lost); check your sampling rate and poll interval",
		e.Gaps, e.LostSamples)
}

// DriftEvent compares cumulative delivered samples against the count
// implied by wall-clock elapsed time at the configured rate. It is
// informational only; timestamps are never adjusted from it.
type DriftEvent struct {
	ElapsedSeconds float64
	Expected       int64
	Received       int64
}

// Tag implements Event.
func (e DriftEvent) Tag() string { return "DRIFT" }

// Deficit is expected minus received samples; positive means the device
// is running behind wall clock.
func (e DriftEvent) Deficit() int64 { return e.Expected - e.Received }

// DeficitSeconds expresses the deficit in seconds of data at the rate
// implied by the event itself.
func (e DriftEvent) DeficitSeconds() float64 {
	if e.ElapsedSeconds <= 0 || e.Expected == 0 {
		return 0
	}
	rate := float64(e.Expected) / e.ElapsedSeconds
	return float64(e.Deficit()) / rate
}

func (e DriftEvent) String() string {
	return fmt.Sprintf("elapsed=%.3f s expected=%d received=%d diff=%d (%.3f s)",
		e.ElapsedSeconds, e.Expected, e.Received, e.Deficit(), e.DeficitSeconds())
}
