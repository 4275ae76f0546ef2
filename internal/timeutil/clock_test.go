package timeutil

import (
	"testing"
	"time"
)

func TestMockClockNowAndAdvance(t *testing.T) {
	start := time.Date(2014, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since(start) = %v, want 90s", got)
	}
}

func TestMockClockSleepRecords(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	c.Sleep(100 * time.Millisecond)
	c.Sleep(200 * time.Millisecond)

	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 100*time.Millisecond || sleeps[1] != 200*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockTickerFiresOnAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewMockClock(start)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		t.Fatal("ticker fired before advance")
	default:
	}

	c.Advance(time.Minute)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after advance")
	}
}

func TestMockTickerStopped(t *testing.T) {
	c := NewMockClock(time.Unix(1000, 0))
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestRealClockBasics(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	if c.Now().Before(before) {
		t.Error("RealClock.Now() went backwards")
	}
	if c.Since(before) < 0 {
		t.Error("RealClock.Since() negative")
	}
}
