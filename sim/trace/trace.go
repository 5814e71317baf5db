package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Header captures run metadata for a training trace file pair.
type Header struct {
	Version   int    `yaml:"trace_version"`
	CreatedAt string `yaml:"created_at,omitempty"`
	Task      string `yaml:"task"`
	Robot     string `yaml:"robot"`
	Seed      int64  `yaml:"seed"`
	Instances int    `yaml:"instances"`
	Horizon   int    `yaml:"horizon"`
}

// CSV column headers for trace files.
var traceColumns = []string{
	"iteration", "params_version", "episodes",
	"mean_return", "p50_return", "mean_length",
	"policy_loss", "value_loss", "entropy", "kl", "clip_frac", "grad_norm",
	"faults",
}

// Writer streams iteration records to disk as they happen: the YAML header
// is written up front, each record is flushed immediately, so an aborted run
// still leaves a readable trace.
type Writer struct {
	file *os.File
	csv  *csv.Writer
}

// NewWriter writes the header file and opens the data file for streaming.
func NewWriter(header *Header, headerPath, dataPath string) (*Writer, error) {
	headerData, err := yaml.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling trace header: %w", err)
	}
	if err := os.WriteFile(headerPath, headerData, 0644); err != nil {
		return nil, fmt.Errorf("writing trace header: %w", err)
	}

	file, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("creating trace data file: %w", err)
	}
	w := &Writer{file: file, csv: csv.NewWriter(file)}
	if err := w.csv.Write(traceColumns); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	w.csv.Flush()
	return w, nil
}

// Record appends one row and flushes it.
func (w *Writer) Record(r IterationRecord) error {
	row := []string{
		strconv.Itoa(r.Iteration),
		strconv.Itoa(r.ParamsVersion),
		strconv.Itoa(r.Episodes),
		strconv.FormatFloat(r.MeanReturn, 'f', -1, 64),
		strconv.FormatFloat(r.P50Return, 'f', -1, 64),
		strconv.FormatFloat(r.MeanLength, 'f', -1, 64),
		strconv.FormatFloat(r.PolicyLoss, 'f', -1, 64),
		strconv.FormatFloat(r.ValueLoss, 'f', -1, 64),
		strconv.FormatFloat(r.Entropy, 'f', -1, 64),
		strconv.FormatFloat(r.KL, 'f', -1, 64),
		strconv.FormatFloat(r.ClipFrac, 'f', -1, 64),
		strconv.FormatFloat(r.GradNorm, 'f', -1, 64),
		strconv.FormatInt(r.Faults, 10),
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("writing trace row %d: %w", r.Iteration, err)
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes and closes the data file.
func (w *Writer) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

// Trace combines header and records for a loaded trace.
type Trace struct {
	Header  Header
	Records []IterationRecord
}

// Load reads a trace header (YAML) and data (CSV) pair.
func Load(headerPath, dataPath string) (*Trace, error) {
	headerData, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, fmt.Errorf("reading trace header: %w", err)
	}
	var header Header
	if err := yaml.Unmarshal(headerData, &header); err != nil {
		return nil, fmt.Errorf("parsing trace header: %w", err)
	}

	file, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("opening trace data: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	var records []IterationRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		if len(row) < len(traceColumns) {
			return nil, fmt.Errorf("CSV row has %d columns, expected %d", len(row), len(traceColumns))
		}
		records = append(records, parseRecord(row))
	}
	return &Trace{Header: header, Records: records}, nil
}

func parseRecord(row []string) IterationRecord {
	iteration, _ := strconv.Atoi(row[0])
	paramsVersion, _ := strconv.Atoi(row[1])
	episodes, _ := strconv.Atoi(row[2])
	meanReturn, _ := strconv.ParseFloat(row[3], 64)
	p50Return, _ := strconv.ParseFloat(row[4], 64)
	meanLength, _ := strconv.ParseFloat(row[5], 64)
	policyLoss, _ := strconv.ParseFloat(row[6], 64)
	valueLoss, _ := strconv.ParseFloat(row[7], 64)
	entropy, _ := strconv.ParseFloat(row[8], 64)
	kl, _ := strconv.ParseFloat(row[9], 64)
	clipFrac, _ := strconv.ParseFloat(row[10], 64)
	gradNorm, _ := strconv.ParseFloat(row[11], 64)
	faults, _ := strconv.ParseInt(row[12], 10, 64)

	return IterationRecord{
		Iteration:     iteration,
		ParamsVersion: paramsVersion,
		Episodes:      episodes,
		MeanReturn:    meanReturn,
		P50Return:     p50Return,
		MeanLength:    meanLength,
		PolicyLoss:    policyLoss,
		ValueLoss:     valueLoss,
		Entropy:       entropy,
		KL:            kl,
		ClipFrac:      clipFrac,
		GradNorm:      gradNorm,
		Faults:        faults,
	}
}
