package trace

// Summary aggregates statistics across a training trace.
type Summary struct {
	Iterations      int
	TotalEpisodes   int
	TotalFaults     int64
	FinalMeanReturn float64
	BestMeanReturn  float64
	BestIteration   int
	MeanEntropy     float64
}

// Summarize computes aggregate statistics from loaded records.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(records []IterationRecord) *Summary {
	summary := &Summary{}
	if len(records) == 0 {
		return summary
	}

	summary.Iterations = len(records)
	summary.BestMeanReturn = records[0].MeanReturn
	summary.BestIteration = records[0].Iteration

	var entropySum float64
	for _, r := range records {
		summary.TotalEpisodes += r.Episodes
		summary.TotalFaults += r.Faults
		entropySum += r.Entropy
		if r.MeanReturn > summary.BestMeanReturn {
			summary.BestMeanReturn = r.MeanReturn
			summary.BestIteration = r.Iteration
		}
	}
	summary.FinalMeanReturn = records[len(records)-1].MeanReturn
	summary.MeanEntropy = entropySum / float64(len(records))
	return summary
}
