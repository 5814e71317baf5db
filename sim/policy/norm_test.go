package policy

import (
	"math"
	"math/rand"
	"testing"
)

func TestRunningNorm_MatchesTwoPassStatistics(t *testing.T) {
	const (
		dim = 3
		n   = 50
	)
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, n)
	for i := range data {
		row := make([]float64, dim)
		for d := range row {
			row[d] = rng.NormFloat64()*float64(d+1) + float64(d)
		}
		data[i] = row
	}

	r := NewRunningNorm(dim)
	for _, row := range data {
		r.Update(row)
	}

	for d := 0; d < dim; d++ {
		var mean float64
		for _, row := range data {
			mean += row[d]
		}
		mean /= n
		var m2 float64
		for _, row := range data {
			diff := row[d] - mean
			m2 += diff * diff
		}

		if math.Abs(r.Mean[d]-mean) > 1e-9 {
			t.Errorf("dim %d: mean %g, two-pass %g", d, r.Mean[d], mean)
		}
		if math.Abs(r.M2[d]-m2) > 1e-9 {
			t.Errorf("dim %d: M2 %g, two-pass %g", d, r.M2[d], m2)
		}
	}

	s := r.Stats()
	if s.Count != n {
		t.Errorf("Stats count = %g, want %d", s.Count, n)
	}
}

func TestRunningNorm_PassThroughBelowTwoSamples(t *testing.T) {
	r := NewRunningNorm(2)
	x := []float64{3, -7}
	out := make([]float64, 2)

	r.Normalize(x, out)
	if out[0] != 3 || out[1] != -7 {
		t.Errorf("empty stats: out = %v, want input unchanged", out)
	}

	r.Update([]float64{1, 1})
	r.Normalize(x, out)
	if out[0] != 3 || out[1] != -7 {
		t.Errorf("one sample: out = %v, want input unchanged", out)
	}
}

func TestRunningNorm_NormalizeStandardizes(t *testing.T) {
	r := NewRunningNorm(1)
	r.Update([]float64{1})
	r.Update([]float64{3})

	out := make([]float64, 1)
	r.Normalize([]float64{3}, out)
	// mean 2, population sd 1
	if math.Abs(out[0]-1) > 1e-6 {
		t.Errorf("normalized = %g, want ~1", out[0])
	}
	r.Normalize([]float64{2}, out)
	if math.Abs(out[0]) > 1e-6 {
		t.Errorf("mean input normalized to %g, want ~0", out[0])
	}
}

func TestRunningNorm_ClipsExtremes(t *testing.T) {
	r := NewRunningNorm(1)
	r.Update([]float64{0})
	r.Update([]float64{1})

	out := make([]float64, 1)
	r.Normalize([]float64{1e9}, out)
	if out[0] != 10 {
		t.Errorf("out = %g, want clip at 10", out[0])
	}
	r.Normalize([]float64{-1e9}, out)
	if out[0] != -10 {
		t.Errorf("out = %g, want clip at -10", out[0])
	}
}

func TestRunningNorm_StatsRestoreRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	r := NewRunningNorm(4)
	for i := 0; i < 30; i++ {
		row := make([]float64, 4)
		for d := range row {
			row[d] = rng.NormFloat64()
		}
		r.Update(row)
	}
	snap := r.Stats()

	restored := NewRunningNorm(4)
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	x := []float64{0.5, -1, 2, 0}
	a := make([]float64, 4)
	b := make([]float64, 4)
	r.Normalize(x, a)
	restored.Normalize(x, b)
	for d := range a {
		if math.Abs(a[d]-b[d]) > 1e-12 {
			t.Errorf("dim %d: %g vs %g after round-trip", d, a[d], b[d])
		}
	}
	if restored.Count != r.Count {
		t.Errorf("count %g, want %g", restored.Count, r.Count)
	}
}

func TestRunningNorm_RestoreRejectsBadStats(t *testing.T) {
	r := NewRunningNorm(2)
	if err := r.Restore(NormStats{Count: 3, Mean: []float64{0}, Var: []float64{1}}); err == nil {
		t.Error("dim mismatch accepted")
	}
	if err := r.Restore(NormStats{Count: 3, Mean: []float64{0, 0}, Var: []float64{1, -1}}); err == nil {
		t.Error("negative variance accepted")
	}
	bad := NormStats{Count: 3, Mean: []float64{0, 0}, Var: []float64{1, math.NaN()}}
	if err := r.Restore(bad); err == nil {
		t.Error("NaN variance accepted")
	}
}

func TestNormStats_NormalizeMatchesRunning(t *testing.T) {
	r := NewRunningNorm(2)
	for _, v := range []float64{1, 4, -2, 7, 0.5} {
		r.Update([]float64{v, -v})
	}
	snap := r.Stats()

	x := []float64{3, 3}
	a := make([]float64, 2)
	b := make([]float64, 2)
	r.Normalize(x, a)
	snap.Normalize(x, b)
	for d := range a {
		if a[d] != b[d] {
			t.Errorf("dim %d: frozen %g, live %g", d, b[d], a[d])
		}
	}
}

func TestNormStats_RunningRebuild(t *testing.T) {
	snap := NormStats{Count: 10, Mean: []float64{1, 2}, Var: []float64{4, 9}}
	r := snap.Running()
	if r.Count != 10 || r.Dim() != 2 {
		t.Fatalf("rebuilt count/dim = %g/%d", r.Count, r.Dim())
	}

	out := make([]float64, 2)
	r.Normalize([]float64{3, 5}, out)
	// (3-1)/2 = 1, (5-2)/3 = 1
	if math.Abs(out[0]-1) > 1e-6 || math.Abs(out[1]-1) > 1e-6 {
		t.Errorf("out = %v, want [1 1]", out)
	}
}

func TestRunningNorm_CloneIsIndependent(t *testing.T) {
	r := NewRunningNorm(1)
	r.Update([]float64{2})
	c := r.Clone()
	c.Update([]float64{100})
	if r.Count != 1 || r.Mean[0] != 2 {
		t.Error("updating the clone changed the original")
	}
}
