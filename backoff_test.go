package actionqueue

import (
	"testing"
	"time"
)

func TestExponentialBackoffDelay(t *testing.T) {
	backoff := NewExponentialBackoff(time.Second, 30*time.Second)

	cases := []struct {
		retries int
		want    time.Duration
	}{
		{retries: -1, want: 0},
		{retries: 0, want: 0},
		{retries: 1, want: 2 * time.Second},
		{retries: 2, want: 4 * time.Second},
		{retries: 3, want: 8 * time.Second},
		{retries: 4, want: 16 * time.Second},
		{retries: 5, want: 30 * time.Second},
		{retries: 200, want: 30 * time.Second},
	}
	for _, tc := range cases {
		if got := backoff.Delay(tc.retries); got != tc.want {
			t.Fatalf("retries %d: expected %v, got %v", tc.retries, tc.want, got)
		}
	}
}

func TestExponentialBackoffWithoutCap(t *testing.T) {
	backoff := NewExponentialBackoff(time.Millisecond, 0)
	if got := backoff.Delay(10); got != 1024*time.Millisecond {
		t.Fatalf("expected 1.024s, got %v", got)
	}
	if got := backoff.Delay(1000); got <= 0 {
		t.Fatalf("expected overflow guard to keep a positive delay, got %v", got)
	}
}
