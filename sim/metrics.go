// Tracks training-wide episode statistics such as returns, lengths and
// per-component reward contributions.

package sim

import "fmt"

// Meter accumulates completed-episode statistics during collection. Reset
// it per reporting window to get per-iteration numbers.
type Meter struct {
	Returns []float64
	Lengths []int
}

// Record adds one completed episode.
func (m *Meter) Record(ret float64, length int) {
	m.Returns = append(m.Returns, ret)
	m.Lengths = append(m.Lengths, length)
}

// Episodes returns the number of recorded episodes.
func (m *Meter) Episodes() int { return len(m.Returns) }

// Reset clears the meter for the next window.
func (m *Meter) Reset() {
	m.Returns = m.Returns[:0]
	m.Lengths = m.Lengths[:0]
}

// MeterSummary are the aggregates reported per iteration and at the end of
// a run.
type MeterSummary struct {
	Episodes   int
	MeanReturn float64
	P50Return  float64
	P90Return  float64
	P99Return  float64
	MeanLength float64
}

// Summary computes the aggregates over the recorded episodes.
func (m *Meter) Summary() MeterSummary {
	return MeterSummary{
		Episodes:   len(m.Returns),
		MeanReturn: CalculateMean(m.Returns),
		P50Return:  CalculatePercentile(m.Returns, 50),
		P90Return:  CalculatePercentile(m.Returns, 90),
		P99Return:  CalculatePercentile(m.Returns, 99),
		MeanLength: CalculateMean(m.Lengths),
	}
}

// Print displays the aggregates at the end of a run.
func (s MeterSummary) Print() {
	fmt.Println("=== Episode Metrics ===")
	fmt.Printf("Episodes          : %d\n", s.Episodes)
	if s.Episodes > 0 {
		fmt.Printf("Mean Return       : %.4f\n", s.MeanReturn)
		fmt.Printf("P50 Return        : %.4f\n", s.P50Return)
		fmt.Printf("P90 Return        : %.4f\n", s.P90Return)
		fmt.Printf("P99 Return        : %.4f\n", s.P99Return)
		fmt.Printf("Mean Length       : %.1f steps\n", s.MeanLength)
	}
}

// ComponentMeter averages named per-step values, one slot per reward
// component.
type ComponentMeter struct {
	names []string
	sums  []float64
	steps int
}

// NewComponentMeter creates a meter over the given component names.
func NewComponentMeter(names []string) *ComponentMeter {
	return &ComponentMeter{
		names: append([]string(nil), names...),
		sums:  make([]float64, len(names)),
	}
}

// Names returns the component names in recording order.
func (c *ComponentMeter) Names() []string { return c.names }

// Add accumulates one step's component values; vals must match Names.
func (c *ComponentMeter) Add(vals []float64) {
	for i, v := range vals {
		c.sums[i] += v
	}
	c.steps++
}

// Means returns the per-component means over the window, in Names order.
func (c *ComponentMeter) Means() []float64 {
	out := make([]float64, len(c.sums))
	if c.steps == 0 {
		return out
	}
	for i, s := range c.sums {
		out[i] = s / float64(c.steps)
	}
	return out
}

// Reset clears the window.
func (c *ComponentMeter) Reset() {
	for i := range c.sums {
		c.sums[i] = 0
	}
	c.steps = 0
}
