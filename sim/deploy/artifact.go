package deploy

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	"gopkg.in/yaml.v3"

	"github.com/loco-sim/loco-sim/sim/internal/blob"
	"github.com/loco-sim/loco-sim/sim/policy"
)

const (
	artifactMagic         = "LSPA"
	artifactFormatVersion = 1
)

// ArtifactMeta is the YAML half of a deployment artifact. The blob half
// holds the parameter tensors in policy.Params.Tensors order. The value head
// ships too: it adds little weight and lets the artifact replay the exact
// training-time computation.
type ArtifactMeta struct {
	FormatVersion int              `yaml:"format_version"`
	Interface     RobotInterface   `yaml:"interface"`
	Policy        policy.Config    `yaml:"policy"`
	ParamsVersion int              `yaml:"params_version"`
	Norm          policy.NormStats `yaml:"norm"`
	ConfigDigest  string           `yaml:"config_digest,omitempty"`
}

// Export validates everything, then writes <base>.yaml and <base>.bin. No
// file is touched until the interface, the parameters and the normalization
// statistics have all passed. sourceDigest identifies the run config that
// produced the parameters and may be empty.
func Export(base string, iface *RobotInterface, p *policy.Params, stats policy.NormStats, sourceDigest string) error {
	if err := iface.Validate(); err != nil {
		return err
	}
	if iface.Obs.Dim() != p.ObsDim {
		return fmt.Errorf("%w: policy observes %d dims but interface %q declares %d", ErrMismatch, p.ObsDim, iface.Robot, iface.Obs.Dim())
	}
	if iface.Act.Dim() != p.ActDim {
		return fmt.Errorf("%w: policy outputs %d actions but interface %q declares %d", ErrMismatch, p.ActDim, iface.Robot, iface.Act.Dim())
	}
	if err := p.CheckFinite(); err != nil {
		return fmt.Errorf("refusing to export: %w", err)
	}
	if err := stats.Validate(p.ObsDim); err != nil {
		return fmt.Errorf("refusing to export: %w", err)
	}

	if dir := filepath.Dir(base); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating artifact dir: %w", err)
		}
	}
	w, err := blob.NewWriter(artifactMagic, artifactFormatVersion)
	if err != nil {
		return err
	}
	for _, t := range p.Tensors() {
		w.Section(t)
	}
	if err := os.WriteFile(base+".bin", w.Finish(), 0644); err != nil {
		return fmt.Errorf("writing artifact blob: %w", err)
	}

	meta := ArtifactMeta{
		FormatVersion: artifactFormatVersion,
		Interface:     *iface,
		Policy:        p.Cfg,
		ParamsVersion: p.Version,
		Norm:          stats,
		ConfigDigest:  sourceDigest,
	}
	metaData, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshaling artifact meta: %w", err)
	}
	if err := os.WriteFile(base+".yaml", metaData, 0644); err != nil {
		return fmt.Errorf("writing artifact meta: %w", err)
	}
	return nil
}

// Artifact is a loaded deployment artifact, ready to produce actions.
type Artifact struct {
	Meta   ArtifactMeta
	params *policy.Params

	normed []float64
}

// Load memory-maps an artifact blob, verifies it against its sidecar and
// rebuilds the policy. The map is released before returning; the artifact
// owns plain copies of the tensors.
func Load(base string) (*Artifact, error) {
	if ext := filepath.Ext(base); ext == ".yaml" || ext == ".bin" {
		base = base[:len(base)-len(ext)]
	}
	metaData, err := os.ReadFile(base + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("reading artifact meta: %w", err)
	}
	var meta ArtifactMeta
	if err := yaml.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("parsing artifact meta: %w", err)
	}
	if meta.FormatVersion != artifactFormatVersion {
		return nil, fmt.Errorf("artifact format version %d, want %d", meta.FormatVersion, artifactFormatVersion)
	}
	if err := meta.Interface.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", base, err)
	}
	obsDim := meta.Interface.Obs.Dim()
	actDim := meta.Interface.Act.Dim()
	if err := meta.Norm.Validate(obsDim); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", base, err)
	}

	f, err := os.Open(base + ".bin")
	if err != nil {
		return nil, fmt.Errorf("opening artifact blob: %w", err)
	}
	defer func() { _ = f.Close() }()
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mapping artifact blob: %w", err)
	}
	defer func() { _ = data.Unmap() }()
	sections, err := blob.Parse(data, artifactMagic, artifactFormatVersion)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", base, err)
	}

	// The init stream is immediately overwritten by the stored tensors.
	params, err := policy.NewParams(meta.Policy, obsDim, actDim, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", base, err)
	}
	params.Version = meta.ParamsVersion
	tensors := params.Tensors()
	if len(sections) != len(tensors) {
		return nil, fmt.Errorf("artifact %s holds %d sections, want %d", base, len(sections), len(tensors))
	}
	for i, t := range tensors {
		if len(sections[i]) != len(t) {
			return nil, fmt.Errorf("artifact tensor %d holds %d values, want %d", i, len(sections[i]), len(t))
		}
		copy(t, sections[i])
	}
	if err := params.CheckFinite(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", base, err)
	}

	return &Artifact{
		Meta:   meta,
		params: params,
		normed: make([]float64, obsDim),
	}, nil
}

// Params returns the rebuilt policy parameters.
func (a *Artifact) Params() *policy.Params { return a.params }

// Distribution returns the action distribution for one raw observation,
// reproducing the training-time computation: frozen normalization, then the
// actor heads.
func (a *Artifact) Distribution(obs []float64) (mean, std []float64, err error) {
	if len(obs) != a.params.ObsDim {
		return nil, nil, fmt.Errorf("observation has %d dims, artifact expects %d", len(obs), a.params.ObsDim)
	}
	a.Meta.Norm.Normalize(obs, a.normed)
	dist := a.params.Dist(policy.RowDense(a.normed))
	mean = make([]float64, a.params.ActDim)
	std = make([]float64, a.params.ActDim)
	for d := 0; d < a.params.ActDim; d++ {
		mean[d] = dist.Means.At(0, d)
		std[d] = dist.Stds.At(0, d)
	}
	return mean, std, nil
}

// Act writes the greedy action for one raw observation into out.
func (a *Artifact) Act(obs, out []float64) error {
	if len(out) != a.params.ActDim {
		return fmt.Errorf("action buffer has %d dims, artifact produces %d", len(out), a.params.ActDim)
	}
	mean, _, err := a.Distribution(obs)
	if err != nil {
		return err
	}
	copy(out, mean)
	return nil
}
