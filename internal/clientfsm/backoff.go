package clientfsm

// Backoff implements spec.md §4.7's DISCONNECTED-state retry policy: each
// call returns the current delay and, as a side effect, increases the
// delay by 2 seconds and the retry count by 1. Once the count has reached
// the configured limit, Next reports exhaustion instead of a delay.
//
// This is linear backoff (+2s per attempt), not the exponential+jitter
// scheme of connection.Manager.Run — spec.md §4.7 specifies the formula
// explicitly, so the formula is followed while the *shape* (a small struct
// advanced once per DISCONNECTED entry) is kept from the teacher.
type Backoff struct {
	delay int
	count int
	limit int
}

// NewBackoff creates a Backoff starting at initialDelay seconds, exhausted
// after limit calls.
func NewBackoff(initialDelay, limit int) *Backoff {
	return &Backoff{delay: initialDelay, limit: limit}
}

// Next returns the delay (seconds) to sleep before the next connection
// attempt. ok is false once the retry limit has been reached; the caller
// must then exit with a non-zero status (spec.md §7 BackoffExhausted)
// instead of sleeping again.
func (b *Backoff) Next() (delaySeconds int, ok bool) {
	if b.count >= b.limit {
		return 0, false
	}
	delaySeconds = b.delay
	b.delay += 2
	b.count++
	return delaySeconds, true
}
