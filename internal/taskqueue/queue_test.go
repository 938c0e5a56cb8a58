package taskqueue

import (
	"testing"
	"time"
)

func TestBackoffDelayDoublesUntilCap(t *testing.T) {
	base := time.Second
	cap := 30 * time.Second

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}

	for _, c := range cases {
		got := backoffDelay(c.attempts, base, cap)
		if got != c.want {
			t.Fatalf("backoffDelay(%d): got %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestBackoffDelayZeroAttemptsReturnsBase(t *testing.T) {
	if got := backoffDelay(0, time.Second, time.Minute); got != time.Second {
		t.Fatalf("expected base delay for zero attempts, got %v", got)
	}
}
