package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestDispatchInterval(t *testing.T) {
	tests := []struct {
		transports int
		want       time.Duration
	}{
		{1, 61 * time.Second},
		{2, 31 * time.Second},
		{3, 21 * time.Second},
		{6, 11 * time.Second},
	}
	for _, tt := range tests {
		if got := DispatchInterval(tt.transports); got != tt.want {
			t.Errorf("DispatchInterval(%d) = %v, want %v", tt.transports, got, tt.want)
		}
	}
}

func TestPacerFirstDispatchImmediate(t *testing.T) {
	p := newPacer(time.Second)

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first Wait blocked %v, want immediate", elapsed)
	}
}

func TestPacerEnforcesInterval(t *testing.T) {
	p := newPacer(150 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("three dispatches in %v, want at least 300ms", elapsed)
	}
}

func TestPacerContextCancellation(t *testing.T) {
	p := newPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := p.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("Wait after cancellation returned nil")
	}
}
