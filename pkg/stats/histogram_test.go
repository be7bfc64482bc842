package stats

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram()
	if _, err := h.Min(); !errors.Is(err, ErrEmptyHistogram) {
		t.Errorf("Min on empty: got %v, want ErrEmptyHistogram", err)
	}
	if _, err := h.Max(); !errors.Is(err, ErrEmptyHistogram) {
		t.Errorf("Max on empty: got %v, want ErrEmptyHistogram", err)
	}
	if _, err := h.Percentile(0.5); !errors.Is(err, ErrEmptyHistogram) {
		t.Errorf("Percentile on empty: got %v, want ErrEmptyHistogram", err)
	}
}

func TestHistogramPercentileBounds(t *testing.T) {
	h := NewHistogram()
	h.Add(1)
	if _, err := h.Percentile(-0.1); !errors.Is(err, ErrInvalidPercentile) {
		t.Errorf("Percentile(-0.1): got %v, want ErrInvalidPercentile", err)
	}
	if _, err := h.Percentile(1.1); !errors.Is(err, ErrInvalidPercentile) {
		t.Errorf("Percentile(1.1): got %v, want ErrInvalidPercentile", err)
	}
}

func TestHistogramExtremaAndPercentileEndpoints(t *testing.T) {
	h := NewHistogram()
	for _, v := range []int64{50, 10, 30, 10, 90} {
		h.Add(v)
	}
	if min, _ := h.Min(); min != 10 {
		t.Errorf("Min: got %d, want 10", min)
	}
	if max, _ := h.Max(); max != 90 {
		t.Errorf("Max: got %d, want 90", max)
	}
	if p0, _ := h.Percentile(0); p0 != 10 {
		t.Errorf("Percentile(0): got %d, want 10", p0)
	}
	if p1, _ := h.Percentile(1); p1 != 90 {
		t.Errorf("Percentile(1): got %d, want 90", p1)
	}
	if med, _ := h.Percentile(0.5); med != 30 {
		t.Errorf("Percentile(0.5): got %d, want 30", med)
	}
}

func TestHistogramPercentileMonotonic(t *testing.T) {
	h := NewHistogram()
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		h.Add(r.Int63n(10000))
	}
	prev := int64(math.MinInt64)
	for p := 0.0; p <= 1.0; p += 0.01 {
		v, err := h.Percentile(p)
		if err != nil {
			t.Fatalf("Percentile(%f): %v", p, err)
		}
		if v < prev {
			t.Fatalf("Percentile(%f) = %d < previous %d", p, v, prev)
		}
		prev = v
	}
}

func TestHistogramMergeIdentity(t *testing.T) {
	h := NewHistogram()
	h.Add(5)
	h.Add(7)
	h.Add(5)

	h.Merge(NewHistogram())
	if h.Samples() != 3 {
		t.Errorf("merge with empty changed sample count: %d", h.Samples())
	}
	if med, _ := h.Percentile(0.5); med != 5 {
		t.Errorf("merge with empty changed median: %d", med)
	}
}

func TestHistogramMergeCommutes(t *testing.T) {
	build := func(vals ...int64) *Histogram {
		h := NewHistogram()
		for _, v := range vals {
			h.Add(v)
		}
		return h
	}
	a1, b1 := build(1, 2, 3), build(3, 4)
	a2, b2 := build(1, 2, 3), build(3, 4)
	a1.Merge(b1)
	b2.Merge(a2)

	if a1.Samples() != b2.Samples() {
		t.Fatalf("samples differ: %d vs %d", a1.Samples(), b2.Samples())
	}
	for p := 0.0; p <= 1.0; p += 0.125 {
		v1, _ := a1.Percentile(p)
		v2, _ := b2.Percentile(p)
		if v1 != v2 {
			t.Errorf("Percentile(%f) differs after merge order swap: %d vs %d", p, v1, v2)
		}
	}
}

func TestHistogramMeanStdDev(t *testing.T) {
	h := NewHistogram()
	vals := []int64{2, 4, 4, 4, 5, 5, 7, 9}
	for _, v := range vals {
		h.Add(v)
	}
	mean, err := h.Mean()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mean-5.0) > 1e-9 {
		t.Errorf("Mean: got %f, want 5.0", mean)
	}
	sd, err := h.StdDev()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(sd-2.0) > 1e-9 {
		t.Errorf("StdDev: got %f, want 2.0", sd)
	}
}
