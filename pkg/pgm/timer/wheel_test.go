package timer

import (
	"testing"
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/definition"
)

func TestScheduleFiresOnlyAtOrAfterDueTime(t *testing.T) {
	w := New(definition.NewLogger("test"))
	base := time.Now()
	fired := 0
	w.Schedule("once", base.Add(time.Second), func(time.Time) { fired++ })

	w.Tick(base)
	if fired != 0 {
		t.Fatalf("timer fired before its due time")
	}
	w.Tick(base.Add(2 * time.Second))
	if fired != 1 {
		t.Fatalf("expected timer to fire once, fired %d times", fired)
	}
	if w.Len() != 0 {
		t.Fatalf("expected one-shot timer removed after firing, len %d", w.Len())
	}
}

func TestScheduleRepeatingReArms(t *testing.T) {
	w := New(definition.NewLogger("test"))
	base := time.Now()
	fired := 0
	w.ScheduleRepeating("heartbeat", base, time.Second, func(time.Time) { fired++ })

	w.Tick(base)
	w.Tick(base.Add(time.Second))
	w.Tick(base.Add(2 * time.Second))
	if fired != 3 {
		t.Fatalf("expected 3 firings of repeating timer, got %d", fired)
	}
	if w.Len() != 1 {
		t.Fatalf("expected repeating timer to remain registered, len %d", w.Len())
	}
}

func TestCancelPreventsFutureFiring(t *testing.T) {
	w := New(definition.NewLogger("test"))
	base := time.Now()
	fired := 0
	w.Schedule("nak-5", base.Add(time.Second), func(time.Time) { fired++ })
	w.Cancel("nak-5")
	w.Tick(base.Add(2 * time.Second))
	if fired != 0 {
		t.Fatalf("expected cancelled timer to not fire")
	}
}

func TestRescheduleMovesNextFireTime(t *testing.T) {
	w := New(definition.NewLogger("test"))
	base := time.Now()
	fired := 0
	w.Schedule("retry", base.Add(time.Second), func(time.Time) { fired++ })
	w.Reschedule("retry", base.Add(5*time.Second))

	w.Tick(base.Add(2 * time.Second))
	if fired != 0 {
		t.Fatalf("expected rescheduled timer to not fire at its old due time")
	}
	w.Tick(base.Add(6 * time.Second))
	if fired != 1 {
		t.Fatalf("expected rescheduled timer to fire at its new due time")
	}
}

func TestNextDueReturnsMinimumAcrossTimers(t *testing.T) {
	w := New(definition.NewLogger("test"))
	base := time.Now()
	if _, ok := w.NextDue(); ok {
		t.Fatalf("expected no next-due time on an empty wheel")
	}
	w.Schedule("far", base.Add(10*time.Second), func(time.Time) {})
	w.Schedule("near", base.Add(1*time.Second), func(time.Time) {})

	due, ok := w.NextDue()
	if !ok {
		t.Fatalf("expected a next-due time")
	}
	if !due.Equal(base.Add(1 * time.Second)) {
		t.Fatalf("expected nearest due time, got %v", due)
	}
}
