// Package checkpoint persists versioned training snapshots. Writes are
// atomic (temp file then rename) so a crash can never leave a partial
// checkpoint that a resume would load.
package checkpoint

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/mdobak/go-xerrors"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/nn"
)

const Version = "tvsr.v1"

// Var is one saved variable: name, shape and flat values.
type Var struct {
	Name  string
	Shape []int
	Data  []float64
}

// OptState captures one Adam optimizer's internals.
type OptState struct {
	Step int
	M    []Var
	V    []Var
}

// Snapshot is the full checkpoint payload. Generator and flow params
// load independently of the discriminator and optimizer state, so an
// inference run never needs the rest.
type Snapshot struct {
	Version   string
	RunID     string
	Iteration int

	Generator     []Var
	Flow          []Var
	Discriminator []Var

	GenOpt  OptState
	DiscOpt OptState
}

// Capture converts a parameter set into saved variables.
func Capture(params []*nn.Param) []Var {
	out := make([]Var, len(params))
	for i, p := range params {
		out[i] = Var{
			Name:  p.Name,
			Shape: append([]int{}, p.Value.Shape...),
			Data:  append([]float64{}, p.Value.Data...),
		}
	}
	return out
}

// Apply restores saved variables into a parameter set. Name or shape
// drift means the checkpoint does not belong to this model.
func Apply(vars []Var, params []*nn.Param) error {
	if len(vars) != len(params) {
		return xerrors.New(model.ErrCheckpointCorrupt, "variable count mismatch")
	}
	for i, p := range params {
		v := vars[i]
		if v.Name != p.Name {
			return xerrors.New(model.ErrCheckpointCorrupt, "variable name mismatch: "+v.Name+" vs "+p.Name)
		}
		if len(v.Data) != p.Value.Len() {
			return xerrors.New(model.ErrCheckpointCorrupt, "variable size mismatch: "+v.Name)
		}
		if !sameShape(v.Shape, p.Value.Shape) {
			return xerrors.New(model.ErrCheckpointCorrupt, "variable shape mismatch: "+v.Name)
		}
		copy(p.Value.Data, v.Data)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CaptureOpt snapshots an optimizer aligned with its parameter set.
func CaptureOpt(a *nn.Adam, params []*nn.Param) OptState {
	step, m, v := a.State()
	out := OptState{Step: step}
	for i := range m {
		out.M = append(out.M, Var{Name: params[i].Name, Shape: append([]int{}, m[i].Shape...), Data: append([]float64{}, m[i].Data...)})
		out.V = append(out.V, Var{Name: params[i].Name, Shape: append([]int{}, v[i].Shape...), Data: append([]float64{}, v[i].Data...)})
	}
	return out
}

// ApplyOpt restores optimizer internals.
func ApplyOpt(s OptState, a *nn.Adam, params []*nn.Param) error {
	if s.Step == 0 && len(s.M) == 0 {
		return nil // fresh optimizer saved before its first step
	}
	if len(s.M) != len(params) || len(s.V) != len(params) {
		return xerrors.New(model.ErrCheckpointCorrupt, "optimizer state mismatch")
	}
	m := make([]*nn.Tensor, len(params))
	v := make([]*nn.Tensor, len(params))
	for i := range params {
		if len(s.M[i].Data) != params[i].Value.Len() {
			return xerrors.New(model.ErrCheckpointCorrupt, "optimizer moment size mismatch: "+s.M[i].Name)
		}
		m[i] = &nn.Tensor{Shape: append([]int{}, s.M[i].Shape...), Data: append([]float64{}, s.M[i].Data...)}
		v[i] = &nn.Tensor{Shape: append([]int{}, s.V[i].Shape...), Data: append([]float64{}, s.V[i].Data...)}
	}
	a.Restore(s.Step, m, v)
	return nil
}

// Save writes the snapshot atomically.
func Save(path string, snap Snapshot) error {
	snap.Version = Version

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.New(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return xerrors.New(err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return xerrors.New(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return xerrors.New(err)
	}
	if err := tmp.Close(); err != nil {
		return xerrors.New(err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads and validates a snapshot. Any decode or version failure
// is fatal by contract.
func Load(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, xerrors.New(model.ErrCheckpointCorrupt, err)
	}
	defer f.Close()

	var snap Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return Snapshot{}, xerrors.New(model.ErrCheckpointCorrupt, err)
	}
	if snap.Version != Version {
		return Snapshot{}, xerrors.New(model.ErrCheckpointCorrupt, "unsupported checkpoint version: "+snap.Version)
	}
	return snap, nil
}
