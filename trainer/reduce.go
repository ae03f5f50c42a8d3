package trainer

import (
	"github.com/mdobak/go-xerrors"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/nn"
)

// Reducer is the collective that merges per-device gradients into the
// master parameter set. One call per iteration is the only
// synchronization barrier; swapping in a multi-host runtime means
// swapping this interface's implementation, nothing else.
type Reducer interface {
	AllReduce(replicas [][]*nn.Param, master []*nn.Param, scale float64) error
}

// localReducer sums replica gradients on the local host and scales
// them (typically by 1/batch).
type localReducer struct {
}

func NewLocalReducer() Reducer {
	return &localReducer{}
}

func (r *localReducer) AllReduce(replicas [][]*nn.Param, master []*nn.Param, scale float64) error {
	for _, rep := range replicas {
		if len(rep) != len(master) {
			return xerrors.New(model.ErrDeviceMismatch, "replica parameter count mismatch")
		}
	}
	for i, p := range master {
		p.Grad.Zero()
		for _, rep := range replicas {
			p.Grad.AddScaled(rep[i].Grad, scale)
		}
	}
	return nil
}
