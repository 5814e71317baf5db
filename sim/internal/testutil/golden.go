// Package testutil provides shared test infrastructure for loco-sim. It
// consolidates the golden scenario types and assertion helpers used across
// sim/ and sim/train/ test packages.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GoldenScenarios represents the structure of testdata/goldenscenarios.json.
type GoldenScenarios struct {
	Scenarios []GoldenScenario `json:"scenarios"`
}

// GoldenScenario pins one fixed-seed training run. Everything listed under
// Expect is exactly reproducible: dimensions follow from the task definition
// and the version counter advances once per iteration.
type GoldenScenario struct {
	Name       string `json:"name"`
	Task       string `json:"task"`
	Robot      string `json:"robot"`
	Instances  int    `json:"instances"`
	Horizon    int    `json:"horizon"`
	Iterations int    `json:"iterations"`
	Seed       int64  `json:"seed"`

	Expect GoldenExpectations `json:"expect"`
}

// GoldenExpectations are the deterministic outcomes of a scenario.
type GoldenExpectations struct {
	ObsDim        int `json:"obs_dim"`
	ActDim        int `json:"act_dim"`
	BatchRows     int `json:"batch_rows"`
	ParamsVersion int `json:"params_version"`
}

// LoadGoldenScenarios loads the golden scenarios from the testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func LoadGoldenScenarios(t *testing.T) *GoldenScenarios {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	// Navigate from sim/internal/testutil/ to repo root testdata/
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "goldenscenarios.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden scenarios: %v", err)
	}

	var scenarios GoldenScenarios
	if err := json.Unmarshal(data, &scenarios); err != nil {
		t.Fatalf("Failed to parse golden scenarios: %v", err)
	}

	return &scenarios
}

// AssertAllFinite fails if any value in vs is NaN or infinite.
func AssertAllFinite(t *testing.T, name string, vs []float64) {
	t.Helper()
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("%s[%d] is not finite: %v", name, i, v)
		}
	}
}
