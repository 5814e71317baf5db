// Package trace records per-iteration training progress to a YAML header +
// CSV data file pair. It stores pure data types and has no dependency on
// sim/ so analysis tooling can load traces standalone.
package trace

// IterationRecord is one row of the training trace: the collect metrics and
// the optimizer statistics of a single iteration.
type IterationRecord struct {
	Iteration     int
	ParamsVersion int
	Episodes      int
	MeanReturn    float64
	P50Return     float64
	MeanLength    float64
	PolicyLoss    float64
	ValueLoss     float64
	Entropy       float64
	KL            float64
	ClipFrac      float64
	GradNorm      float64
	Faults        int64
}
