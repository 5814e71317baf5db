package train

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/loco-sim/loco-sim/sim/internal/blob"
	"github.com/loco-sim/loco-sim/sim/policy"
)

const (
	checkpointMagic         = "LSCK"
	checkpointFormatVersion = 1
)

// CheckpointMeta is the YAML sidecar next to each checkpoint blob. The blob
// holds only float sections; the sidecar defines their interpretation:
// parameter tensors in policy.Params.Tensors order, then the optimizer's
// first moments, then its second moments. The full run config rides along,
// so a checkpoint alone is enough to resume.
type CheckpointMeta struct {
	FormatVersion int `yaml:"format_version"`
	Iteration     int `yaml:"iteration"` // completed iterations
	ParamsVersion int `yaml:"params_version"`
	AdamStep      int `yaml:"adam_step"`
	ObsDim        int `yaml:"obs_dim"`
	ActDim        int `yaml:"act_dim"`

	Run  Config           `yaml:"run"`
	Norm policy.NormStats `yaml:"norm"`
}

// Checkpoint is a loaded training snapshot: everything needed to resume the
// run exactly where it stopped.
type Checkpoint struct {
	Meta   CheckpointMeta
	Params *policy.Params
	Norm   *policy.RunningNorm
	AdamM  [][]float64
	AdamV  [][]float64
}

// SaveCheckpoint writes a blob + sidecar pair under dir and returns the base
// path (without extension). The blob is written before the sidecar, so a
// checkpoint with a readable sidecar is always complete.
func SaveCheckpoint(dir string, iteration int, cfg Config, p *policy.Params, opt *Adam, norm *policy.RunningNorm) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating checkpoint dir: %w", err)
	}
	base := filepath.Join(dir, fmt.Sprintf("ckpt_%06d", iteration))

	w, err := blob.NewWriter(checkpointMagic, checkpointFormatVersion)
	if err != nil {
		return "", err
	}
	for _, t := range p.Tensors() {
		w.Section(t)
	}
	m, v := opt.Moments()
	for _, t := range m {
		w.Section(t)
	}
	for _, t := range v {
		w.Section(t)
	}
	if err := os.WriteFile(base+".bin", w.Finish(), 0644); err != nil {
		return "", fmt.Errorf("writing checkpoint blob: %w", err)
	}

	meta := CheckpointMeta{
		FormatVersion: checkpointFormatVersion,
		Iteration:     iteration,
		ParamsVersion: p.Version,
		AdamStep:      opt.StepCount(),
		ObsDim:        p.ObsDim,
		ActDim:        p.ActDim,
		Run:           cfg,
		Norm:          norm.Stats(),
	}
	metaData, err := yaml.Marshal(&meta)
	if err != nil {
		return "", fmt.Errorf("marshaling checkpoint meta: %w", err)
	}
	if err := os.WriteFile(base+".yaml", metaData, 0644); err != nil {
		return "", fmt.Errorf("writing checkpoint meta: %w", err)
	}
	return base, nil
}

// LoadCheckpointMeta reads only the YAML sidecar, for callers that need the
// run description without the tensors.
func LoadCheckpointMeta(base string) (*CheckpointMeta, error) {
	base = trimCheckpointExt(base)
	metaData, err := os.ReadFile(base + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint meta: %w", err)
	}
	var meta CheckpointMeta
	if err := yaml.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("parsing checkpoint meta: %w", err)
	}
	if meta.FormatVersion != checkpointFormatVersion {
		return nil, fmt.Errorf("checkpoint format version %d, want %d", meta.FormatVersion, checkpointFormatVersion)
	}
	if err := meta.Run.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint %s run config: %w", base, err)
	}
	if err := meta.Norm.Validate(meta.ObsDim); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", base, err)
	}
	return &meta, nil
}

func trimCheckpointExt(base string) string {
	if ext := filepath.Ext(base); ext == ".yaml" || ext == ".bin" {
		return base[:len(base)-len(ext)]
	}
	return base
}

// LoadCheckpoint reads a checkpoint pair by its base path, with or without
// an extension.
func LoadCheckpoint(base string) (*Checkpoint, error) {
	base = trimCheckpointExt(base)
	metaPtr, err := LoadCheckpointMeta(base)
	if err != nil {
		return nil, err
	}
	meta := *metaPtr

	blobData, err := os.ReadFile(base + ".bin")
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint blob: %w", err)
	}
	sections, err := blob.Parse(blobData, checkpointMagic, checkpointFormatVersion)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", base, err)
	}

	// The init stream is immediately overwritten by the stored tensors.
	params, err := policy.NewParams(meta.Run.Policy, meta.ObsDim, meta.ActDim, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", base, err)
	}
	params.Version = meta.ParamsVersion
	tensors := params.Tensors()
	if len(sections) != 3*len(tensors) {
		return nil, fmt.Errorf("checkpoint %s holds %d sections, want %d", base, len(sections), 3*len(tensors))
	}
	for i, t := range tensors {
		if len(sections[i]) != len(t) {
			return nil, fmt.Errorf("checkpoint tensor %d holds %d values, want %d", i, len(sections[i]), len(t))
		}
		copy(t, sections[i])
	}
	adamM := sections[len(tensors) : 2*len(tensors)]
	adamV := sections[2*len(tensors):]
	for i, t := range tensors {
		if len(adamM[i]) != len(t) || len(adamV[i]) != len(t) {
			return nil, fmt.Errorf("checkpoint moment tensor %d has %d/%d values, want %d",
				i, len(adamM[i]), len(adamV[i]), len(t))
		}
	}

	return &Checkpoint{
		Meta:   meta,
		Params: params,
		Norm:   meta.Norm.Running(),
		AdamM:  adamM,
		AdamV:  adamV,
	}, nil
}
