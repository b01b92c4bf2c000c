package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// doneLabel is the final text written by Complete.
const doneLabel = "Done."

// Reporter is a thread-safe counter rendered on a single terminal line.
//
// The count lives in an atomic and is always exact. Rendering is best-effort:
// a single-flight flag ensures at most one redraw goroutine exists, and the
// redraw loop re-checks the counter before exiting, so the last rendered
// value always matches the final count even when intermediate values are
// skipped under contention.
type Reporter struct {
	out io.Writer
	max int64

	current  atomic.Int64
	complete atomic.Bool
	// rendering is the single-flight flag: held while a redraw goroutine
	// is scheduled or running.
	rendering atomic.Bool

	// mu serializes writes to out and guards width.
	mu sync.Mutex
	// width is the longest line rendered so far; shorter lines are padded
	// to it so stale trailing characters never survive a redraw.
	width int
}

// NewReporter creates a reporter anchored to the current terminal line and
// renders the initial "0 / max" immediately.
func NewReporter(out io.Writer, max int) *Reporter {
	r := &Reporter{
		out: out,
		max: int64(max),
	}
	r.render(r.line(0), false)

	return r
}

// Current returns the exact number of increments so far.
func (r *Reporter) Current() int {
	return int(r.current.Load())
}

// Max returns the total the reporter was sized to.
func (r *Reporter) Max() int {
	return int(r.max)
}

// Increment adds one to the counter and schedules a coalesced redraw.
// It never blocks on rendering: when a redraw is already in flight the
// increment returns immediately and the in-flight redraw picks up the new
// value. Calling Increment after Complete is a programming error and panics.
func (r *Reporter) Increment() {
	if r.complete.Load() {
		panic("progress: Increment called after Complete")
	}

	r.current.Add(1)

	if !r.rendering.CompareAndSwap(false, true) {
		return
	}

	go r.redrawLoop()
}

// redrawLoop renders the current value and keeps going while the counter
// moves under it, so the final rendered value never lags the final count.
func (r *Reporter) redrawLoop() {
	for {
		n := r.current.Load()
		r.render(r.line(n), false)
		r.rendering.Store(false)

		if r.current.Load() == n {
			return
		}

		// Counter moved after the last render; try to reacquire. Losing
		// the race means another increment took over the redraw.
		if !r.rendering.CompareAndSwap(false, true) {
			return
		}
	}
}

// Complete marks the reporter finished and synchronously renders "Done."
// padded to the widest line ever written, followed by a newline. It is safe
// to call with zero increments. The reporter must not be used afterwards.
func (r *Reporter) Complete() {
	r.complete.Store(true)
	r.render(doneLabel, true)
}

// line formats the counter for display.
func (r *Reporter) line(n int64) string {
	return fmt.Sprintf("%d / %d", n, r.max)
}

// render writes s at the anchored position, padded to the widest previous
// line. Non-final renders are dropped once the reporter is complete so a
// straggling redraw can never overwrite the final line.
func (r *Reporter) render(s string, final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.complete.Load() && !final {
		return
	}

	if len(s) > r.width {
		r.width = len(s)
	}

	fmt.Fprintf(r.out, "\r%-*s", r.width, s)

	if final {
		fmt.Fprintln(r.out)
	}
}
