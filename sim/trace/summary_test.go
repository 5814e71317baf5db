package trace

import "testing"

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN no records
	summary := Summarize(nil)

	// THEN all fields are zero
	if summary.Iterations != 0 || summary.TotalEpisodes != 0 || summary.TotalFaults != 0 {
		t.Errorf("expected zero counts, got %+v", summary)
	}
	if summary.BestMeanReturn != 0 || summary.FinalMeanReturn != 0 {
		t.Errorf("expected zero returns, got %+v", summary)
	}
}

func TestSummarize_PopulatedTrace_CorrectAggregates(t *testing.T) {
	// GIVEN three iterations with a peak in the middle
	records := []IterationRecord{
		{Iteration: 0, Episodes: 4, MeanReturn: 10, Entropy: 3.0, Faults: 1},
		{Iteration: 1, Episodes: 6, MeanReturn: 25, Entropy: 2.0},
		{Iteration: 2, Episodes: 5, MeanReturn: 20, Entropy: 1.0, Faults: 2},
	}

	// WHEN summarized
	summary := Summarize(records)

	// THEN aggregates match
	if summary.Iterations != 3 {
		t.Errorf("expected 3 iterations, got %d", summary.Iterations)
	}
	if summary.TotalEpisodes != 15 {
		t.Errorf("expected 15 episodes, got %d", summary.TotalEpisodes)
	}
	if summary.TotalFaults != 3 {
		t.Errorf("expected 3 faults, got %d", summary.TotalFaults)
	}
	if summary.BestMeanReturn != 25 || summary.BestIteration != 1 {
		t.Errorf("expected best 25 at iteration 1, got %g at %d", summary.BestMeanReturn, summary.BestIteration)
	}
	if summary.FinalMeanReturn != 20 {
		t.Errorf("expected final return 20, got %g", summary.FinalMeanReturn)
	}
	if summary.MeanEntropy != 2.0 {
		t.Errorf("expected mean entropy 2.0, got %g", summary.MeanEntropy)
	}
}

func TestSummarize_SingleRecord_BestEqualsFinal(t *testing.T) {
	records := []IterationRecord{{Iteration: 0, Episodes: 2, MeanReturn: 7.5, Entropy: 1.5}}

	summary := Summarize(records)

	if summary.BestMeanReturn != 7.5 || summary.FinalMeanReturn != 7.5 {
		t.Errorf("expected best == final == 7.5, got %+v", summary)
	}
	if summary.BestIteration != 0 {
		t.Errorf("expected best iteration 0, got %d", summary.BestIteration)
	}
}
