package amti

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Batch is the product of one acquirer update: whole sample rows and one
// timestamp per row. Rows are NumChannels wide, in arrival order.
type Batch struct {
	Rows       [][]float64
	Timestamps []time.Time
}

// Empty reports whether the batch carries no rows.
func (b Batch) Empty() bool { return len(b.Rows) == 0 }

type driftPoint struct {
	elapsed float64 // seconds since the reference anchor
	deficit float64 // expected minus received samples
}

// SampleAcquirer drains the device ring buffer, reshapes raw values into
// rows, reconstructs per-row timestamps from the configured rate, and
// watches the counter channel for discontinuities. It is single-threaded:
// the host calls Update at its own cadence, and each call collects
// everything the device has buffered since the last one.
//
// Timestamps trust the device clock. Row k of a batch is stamped
// startTimestamp + k/rate (microsecond resolution), and the anchor then
// advances by n/rate, so consecutive batches tile the timeline with no
// gap or overlap regardless of poll jitter. Wall-clock drift against that
// assumption is reported through DriftEvents, never corrected.
type SampleAcquirer struct {
	rate   int
	reader BufferReader
	events EventFunc
	buf    []float32

	started     bool      // first Update (the flushing one) has run
	start       time.Time // timestamp owed to the next sample
	reference   time.Time // anchor for the drift diagnostic
	sampleCount int64     // rows delivered since the preroll flush

	lastCounter float64 // counter of the final row of the previous batch
	haveLast    bool

	driftLog []driftPoint
}

// NewSampleAcquirer returns an acquirer reading from reader at the given
// supported rate. The rate must already be validated; a zero or negative
// rate is a programming error.
func NewSampleAcquirer(rate int, reader BufferReader, events EventFunc) *SampleAcquirer {
	if rate <= 0 {
		panic(fmt.Sprintf("NewSampleAcquirer with rate %d", rate))
	}
	return &SampleAcquirer{
		rate:   rate,
		reader: reader,
		events: events,
		buf:    make([]float32, BlockFloats),
	}
}

// sampleOffset is the time between sample 0 and sample k at the
// configured rate, truncated to microseconds.
func (a *SampleAcquirer) sampleOffset(k int64) time.Duration {
	return time.Duration(k*1e6/int64(a.rate)) * time.Microsecond
}

// drain calls the device read primitive until it reports an empty ring,
// reshaping every granted block into NumChannels-wide rows.
func (a *SampleAcquirer) drain() ([][]float64, error) {
	var rows [][]float64
	for {
		n, err := a.reader.ReadBuffer(a.buf)
		if err != nil {
			return rows, err
		}
		if n == 0 {
			return rows, nil
		}
		for i := 0; i+NumChannels <= n; i += NumChannels {
			row := make([]float64, NumChannels)
			for j := range row {
				row[j] = float64(a.buf[i+j])
			}
			rows = append(rows, row)
		}
	}
}

// Update performs one poll cycle as of wall-clock time now.
//
// The first call flushes whatever accumulated between acquisition start
// and now, establishes the timestamp anchors, and returns an empty batch.
// Every later call returns all rows available at call time, stamped from
// the device-rate timeline.
func (a *SampleAcquirer) Update(now time.Time) (Batch, error) {
	if !a.started {
		dropped, err := a.drain()
		if err != nil {
			return Batch{}, err
		}
		a.events.emit(PrerollDiscardEvent{Rows: len(dropped)})
		a.start = now.Truncate(time.Microsecond)
		a.reference = a.start
		a.sampleCount = 0
		a.started = true
		return Batch{}, nil
	}

	rows, err := a.drain()
	if err != nil {
		return Batch{}, err
	}
	if len(rows) == 0 {
		return Batch{}, nil
	}

	a.checkContinuity(rows)

	n := int64(len(rows))
	a.sampleCount += n
	a.observeDrift(now)

	timestamps := make([]time.Time, n)
	for k := int64(0); k < n; k++ {
		timestamps[k] = a.start.Add(a.sampleOffset(k))
	}
	a.start = a.start.Add(a.sampleOffset(n))

	return Batch{Rows: rows, Timestamps: timestamps}, nil
}

// checkContinuity scans the counter channel for jumps, including across
// the boundary from the previous batch. Jumps where the earlier counter
// sits exactly at the wrap point are the documented rollover and are
// ignored. Any other jump raises a single DiscontinuityEvent for the
// whole update, carrying a wrap-aware estimate of the rows lost.
func (a *SampleAcquirer) checkContinuity(rows [][]float64) {
	gaps := 0
	var lost int64
	prev, havePrev := a.lastCounter, a.haveLast
	for _, row := range rows {
		c := row[0]
		if havePrev && c != prev+1 && prev != CounterWrap {
			gaps++
			delta := math.Mod(c-prev, 1<<24)
			if delta < 0 {
				delta += 1 << 24
			}
			lost += int64(delta) - 1
		}
		prev, havePrev = c, true
	}
	a.lastCounter, a.haveLast = prev, havePrev
	if gaps > 0 {
		a.events.emit(DiscontinuityEvent{Gaps: gaps, LostSamples: lost})
	}
}

// observeDrift emits the expected-vs-received diagnostic and retains the
// observation for the end-of-run summary.
func (a *SampleAcquirer) observeDrift(now time.Time) {
	elapsed := now.Sub(a.reference).Seconds()
	expected := int64(math.Round(elapsed * float64(a.rate)))
	a.events.emit(DriftEvent{
		ElapsedSeconds: elapsed,
		Expected:       expected,
		Received:       a.sampleCount,
	})
	a.driftLog = append(a.driftLog, driftPoint{elapsed: elapsed, deficit: float64(expected - a.sampleCount)})
}

// SampleCount is the cumulative rows delivered since the preroll flush.
// It is zero, and Started false, before the first Update.
func (a *SampleAcquirer) SampleCount() int64 { return a.sampleCount }

// Started reports whether the one-time preroll flush has happened.
func (a *SampleAcquirer) Started() bool { return a.started }

// DriftSummary condenses the drift observations of a whole run.
type DriftSummary struct {
	Observations int
	// MeanDeficit is the average expected-minus-received sample count.
	MeanDeficit float64
	// DeficitRate is the fitted growth of the deficit in samples per
	// second; a sustained nonzero slope means the device clock and the
	// wall clock disagree about the sampling rate.
	DeficitRate float64
}

// Summarize fits the recorded drift observations. With fewer than two
// observations the slope is reported as zero.
func (a *SampleAcquirer) Summarize() DriftSummary {
	n := len(a.driftLog)
	s := DriftSummary{Observations: n}
	if n == 0 {
		return s
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range a.driftLog {
		xs[i] = p.elapsed
		ys[i] = p.deficit
	}
	s.MeanDeficit = stat.Mean(ys, nil)
	if n >= 2 {
		_, s.DeficitRate = stat.LinearRegression(xs, ys, nil, false)
	}
	return s
}
