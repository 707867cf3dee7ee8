package processor

import "math"

// Backoff tracks one processor's empty-poll streak and derives how many
// upcoming ticks to skip once that streak crosses a threshold, so an idle
// processor stops hammering the store every pollingInterval (spec C10/§4.7).
// The skip count grows exponentially with the streak length and is capped
// by maxBackoffSeconds; the scheduler's own ticker interval never changes,
// only whether a given tick actually polls.
type Backoff struct {
	threshold  int
	multiplier float64
	maxSkips   int

	emptyPollCount     int
	currentSkipCounter int
}

// NewBackoff builds a Backoff for a processor polled every pollingIntervalMS,
// backing off once emptyPollCount exceeds threshold by multiplier^n, capped
// so the longest skip streak corresponds to maxBackoffSeconds.
func NewBackoff(threshold int, multiplier float64, maxBackoffSeconds, pollingIntervalMS int) *Backoff {
	maxSkips := 0
	if pollingIntervalMS > 0 {
		maxSkips = maxBackoffSeconds * 1000 / pollingIntervalMS
	}
	if multiplier <= 1 {
		multiplier = 2
	}
	return &Backoff{threshold: threshold, multiplier: multiplier, maxSkips: maxSkips}
}

// RecordEmpty is called after a poll that fetched no events. Past
// threshold empty polls, it raises currentSkipCounter so the next
// ShouldSkip calls return true instead of polling again immediately.
func (b *Backoff) RecordEmpty() {
	b.emptyPollCount++
	if b.emptyPollCount <= b.threshold {
		return
	}
	skip := int(math.Pow(b.multiplier, float64(b.emptyPollCount-b.threshold))) - 1
	if skip > b.maxSkips {
		skip = b.maxSkips
	}
	if skip > b.currentSkipCounter {
		b.currentSkipCounter = skip
	}
}

// RecordSuccess is called after a poll that handled at least one event,
// resetting the streak so backoff relaxes immediately.
func (b *Backoff) RecordSuccess() {
	b.emptyPollCount = 0
	b.currentSkipCounter = 0
}

// ShouldSkip reports whether this tick should skip fetching entirely,
// consuming one unit of the skip counter if so.
func (b *Backoff) ShouldSkip() bool {
	if b.currentSkipCounter > 0 {
		b.currentSkipCounter--
		return true
	}
	return false
}
