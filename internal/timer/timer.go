package timer

import "time"

// Clock returns the current instant. Tests swap it for a fake.
type Clock func() time.Time

// Timer measures the wall-clock duration of one operation.
// It is not safe for concurrent use; create one per logical operation.
type Timer struct {
	now     Clock
	started time.Time
	stopped time.Time
}

func New() *Timer {
	return &Timer{now: time.Now}
}

// NewWithClock is like New but reads instants from c.
func NewWithClock(c Clock) *Timer {
	if c == nil {
		c = time.Now
	}
	return &Timer{now: c}
}

func (t *Timer) Start() { t.started = t.now() }

func (t *Timer) Stop() { t.stopped = t.now() }

// Duration is zero until both Start and Stop have been called.
func (t *Timer) Duration() time.Duration {
	if t.started.IsZero() || t.stopped.IsZero() {
		return 0
	}
	return t.stopped.Sub(t.started)
}

func (t *Timer) DurationMs() float64 {
	return float64(t.Duration()) / float64(time.Millisecond)
}

// Measure runs fn between Start and Stop. Stop runs even if fn panics.
func Measure(fn func() error) (*Timer, error) {
	return measure(New(), fn)
}

func measure(t *Timer, fn func() error) (*Timer, error) {
	t.Start()
	defer t.Stop()
	return t, fn()
}

// MeasureValue is Measure for operations that produce a value.
func MeasureValue[T any](fn func() (T, error)) (T, *Timer, error) {
	var v T
	t, err := Measure(func() error {
		var err error
		v, err = fn()
		return err
	})
	return v, t, err
}
