package clock

import (
	"testing"
	"time"
)

func TestFakeEveryFiresInOrder(t *testing.T) {
	start := time.UnixMilli(0)
	f := NewFake(start)

	var fired []string
	f.Every(5*time.Second, func() { fired = append(fired, "hb") })
	f.AfterFunc(7*time.Second, func() { fired = append(fired, "once") })

	f.Advance(11 * time.Second)

	want := []string{"hb", "once", "hb"}
	if len(fired) != len(want) {
		t.Fatalf("expected %v, got %v", want, fired)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, fired)
		}
	}
	if got := f.Now().Sub(start); got != 11*time.Second {
		t.Fatalf("expected clock at +11s, got %s", got)
	}
}

func TestFakeStopCancels(t *testing.T) {
	f := NewFake(time.UnixMilli(0))
	calls := 0
	tm := f.Every(time.Second, func() { calls++ })
	f.Advance(2 * time.Second)
	if !tm.Stop() {
		t.Fatalf("expected first stop to report true")
	}
	if tm.Stop() {
		t.Fatalf("expected second stop to report false")
	}
	f.Advance(5 * time.Second)
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if f.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", f.Pending())
	}
}

func TestFakeCallbackCanSchedule(t *testing.T) {
	f := NewFake(time.UnixMilli(0))
	hit := false
	f.AfterFunc(time.Second, func() {
		f.AfterFunc(time.Second, func() { hit = true })
	})
	f.Advance(3 * time.Second)
	if !hit {
		t.Fatalf("expected nested timer to fire within the same advance")
	}
}
