package timer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeClock(instants ...time.Time) Clock {
	i := 0
	return func() time.Time {
		t := instants[i]
		if i < len(instants)-1 {
			i++
		}
		return t
	}
}

func TestTimer_DurationMs(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tm := NewWithClock(fakeClock(base, base.Add(1500*time.Microsecond)))

	tm.Start()
	tm.Stop()

	require.Equal(t, 1500*time.Microsecond, tm.Duration())
	require.InDelta(t, 1.5, tm.DurationMs(), 1e-9)
}

func TestTimer_ZeroUntilStopped(t *testing.T) {
	tm := New()
	require.Zero(t, tm.DurationMs())

	tm.Start()
	require.Zero(t, tm.DurationMs(), "stop not called yet")
}

func TestMeasure_StopsOnError(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	tm, err := measure(NewWithClock(fakeClock(base, base.Add(time.Second))), func() error {
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, time.Second, tm.Duration())
}

func TestMeasure_StopsOnPanic(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tm := NewWithClock(fakeClock(base, base.Add(2*time.Second)))

	func() {
		defer func() { _ = recover() }()
		_, _ = measure(tm, func() error { panic("boom") })
	}()

	require.Equal(t, 2*time.Second, tm.Duration())
}

func TestMeasureValue(t *testing.T) {
	v, tm, err := MeasureValue(func() (string, error) {
		time.Sleep(2 * time.Millisecond)
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Greater(t, tm.DurationMs(), 0.0)
}
