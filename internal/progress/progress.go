package progress

import (
	"math"
	"time"
)

// Progress is the value reported on every tick of a reconstruction or
// download. Recomputed per tick, never persisted.
type Progress struct {
	FileName   string
	Loaded     int64
	Total      int64
	Percentage int
	Speed      float64 // bytes per second
	ETA        float64 // seconds remaining
	Complete   bool
	Error      string
}

// Callback consumes progress ticks. It is the embeddable UI contract:
// any host surface that accepts one of these can render download state.
type Callback func(Progress)

// Tracker derives speed, eta and a monotonically non-decreasing
// percentage from raw byte counts.
type Tracker struct {
	fileName string
	total    int64
	loaded   int64
	lastPct  int
	start    time.Time
	now      func() time.Time
}

func NewTracker(fileName string, total int64) *Tracker {
	t := &Tracker{
		fileName: fileName,
		total:    total,
		now:      time.Now,
	}
	t.start = t.now()
	return t
}

// SetClock replaces the time source, for deterministic tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
	t.start = now()
}

func (t *Tracker) Loaded() int64 {
	return t.loaded
}

// Add records n newly transferred bytes and returns the resulting tick.
func (t *Tracker) Add(n int64) Progress {
	t.loaded += n
	return t.snapshot()
}

func (t *Tracker) snapshot() Progress {
	pct := 0
	if t.total > 0 {
		pct = int(math.Round(float64(t.loaded) / float64(t.total) * 100))
	}
	if pct > 100 {
		pct = 100
	}
	if pct < t.lastPct {
		pct = t.lastPct
	}
	t.lastPct = pct

	elapsed := t.now().Sub(t.start).Seconds()
	speed := 0.0
	if elapsed > 0 {
		speed = float64(t.loaded) / elapsed
	}
	eta := 0.0
	if speed > 0 {
		eta = float64(t.total-t.loaded) / speed
	}
	return Progress{
		FileName:   t.fileName,
		Loaded:     t.loaded,
		Total:      t.total,
		Percentage: pct,
		Speed:      speed,
		ETA:        eta,
	}
}

// Terminal is the final success tick: complete, 100 percent, speed and
// eta zeroed. Emitted exactly once per reconstruction.
func (t *Tracker) Terminal() Progress {
	t.lastPct = 100
	return Progress{
		FileName:   t.fileName,
		Loaded:     t.loaded,
		Total:      t.total,
		Percentage: 100,
		Speed:      0,
		ETA:        0,
		Complete:   true,
	}
}

// Failed reports a terminal error tick without marking completion.
func (t *Tracker) Failed(err error) Progress {
	p := t.snapshot()
	p.Error = err.Error()
	return p
}
