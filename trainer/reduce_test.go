package trainer

import (
	"errors"
	"testing"

	"github.com/khaledhikmat/tvsr-go/model"
	"github.com/khaledhikmat/tvsr-go/nn"
)

func TestLocalReducerSumsAndScales(t *testing.T) {
	master := []*nn.Param{nn.NewParam("w", nn.NewTensor(3))}
	master[0].Grad.Data[0] = 99 // stale, must be overwritten

	repA := []*nn.Param{nn.NewParam("w", nn.NewTensor(3))}
	repB := []*nn.Param{nn.NewParam("w", nn.NewTensor(3))}
	copy(repA[0].Grad.Data, []float64{1, 2, 3})
	copy(repB[0].Grad.Data, []float64{3, 2, 1})

	r := NewLocalReducer()
	if err := r.AllReduce([][]*nn.Param{repA, repB}, master, 0.25); err != nil {
		t.Fatalf("all reduce: %v", err)
	}

	want := []float64{1, 1, 1}
	for i := range want {
		if master[0].Grad.Data[i] != want[i] {
			t.Errorf("grad[%d]: got %v want %v", i, master[0].Grad.Data[i], want[i])
		}
	}
}

func TestLocalReducerParamMismatch(t *testing.T) {
	master := []*nn.Param{nn.NewParam("w", nn.NewTensor(3))}
	rep := []*nn.Param{
		nn.NewParam("w", nn.NewTensor(3)),
		nn.NewParam("b", nn.NewTensor(1)),
	}

	r := NewLocalReducer()
	err := r.AllReduce([][]*nn.Param{rep}, master, 1)
	if !errors.Is(err, model.ErrDeviceMismatch) {
		t.Errorf("expected ErrDeviceMismatch, got %v", err)
	}
}
