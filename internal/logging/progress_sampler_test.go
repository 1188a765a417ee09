package logging

import "testing"

func TestNewProgressSamplerDefaultsBucket(t *testing.T) {
	for _, size := range []float64{0, -3} {
		s := NewProgressSampler(size)
		if s.bucketSize != 5 {
			t.Fatalf("bucketSize for %v = %v, want 5", size, s.bucketSize)
		}
	}
	if s := NewProgressSampler(10); s.bucketSize != 10 {
		t.Fatalf("bucketSize = %v, want 10", s.bucketSize)
	}
}

func TestProgressSamplerNilAlwaysLogs(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "Sampling") {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerBucketsAndPhases(t *testing.T) {
	s := NewProgressSampler(5)
	steps := []struct {
		percent float64
		phase   string
		want    bool
	}{
		{0, "Sampling", true},
		{3, "Sampling", false},
		{5, "Sampling", true},
		{7, " Sampling ", false},
		{50, "Sampling", true},
		{0, "Decoding", true},
		{10, "Decoding", true},
		{-1, "Decoding", false},
		{100, "Decoding", true},
		{105, "Decoding", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.phase); got != step.want {
			t.Fatalf("step %d (%v%% %q): ShouldLog = %v, want %v", i, step.percent, step.phase, got, step.want)
		}
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(5)
	s.ShouldLog(50, "Sampling")
	s.Reset()
	if s.lastPhase != "" || s.lastBucket != -1 {
		t.Fatalf("unexpected state after reset: %+v", s)
	}
	if !s.ShouldLog(50, "Sampling") {
		t.Fatal("should log after reset")
	}
}
