package model

import (
	"errors"
	"testing"

	"github.com/mdobak/go-xerrors"
)

func TestSequenceKeyRoundTrip(t *testing.T) {
	tests := []SequenceKey{
		{Video: "calendar", Frames: 120, Height: 576, Width: 720, Index: 0},
		{Video: "walk", Frames: 47, Height: 480, Width: 640, Index: 46},
		{Video: "city_train_01", Frames: 9999, Height: 1080, Width: 1920, Index: 1234},
	}

	for _, want := range tests {
		got, err := ParseSequenceKey(want.String())
		if err != nil {
			t.Fatalf("parse %q: %v", want.String(), err)
		}
		if got != want {
			t.Errorf("round trip %q: got %+v want %+v", want.String(), got, want)
		}
	}
}

func TestSequenceKeyFormat(t *testing.T) {
	k := SequenceKey{Video: "calendar", Frames: 120, Height: 576, Width: 720, Index: 3}
	want := "calendar_120x576x720_0003"
	if got := k.String(); got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestParseSequenceKeyRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "calendar", "calendar_120x576_0003", "calendar_axbxc_0003"} {
		if _, err := ParseSequenceKey(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestLossWeightsValidate(t *testing.T) {
	ok := LossWeights{Pixel: 1, Warping: 1, PingPong: 0.5}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid weights rejected: %v", err)
	}

	if err := (LossWeights{Pixel: 0}).Validate(); err == nil {
		t.Error("expected error for zero pixel weight")
	}
	if err := (LossWeights{Pixel: 1, Adversarial: -0.1}).Validate(); err == nil {
		t.Error("expected error for negative weight")
	}
}

func TestFrameClone(t *testing.T) {
	f := Frame{Video: "v", Index: 1, Height: 2, Width: 2, Pix: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}
	c := f.Clone()
	c.Pix[0] = 99
	if f.Pix[0] != 1 {
		t.Error("clone shares pixel storage with original")
	}
}

func TestGenErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := GenError("test", inner, map[string]interface{}{}, "wrapped %s", "thing")
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to reach the inner error")
	}
}

func TestErrorKindsMatchWhenWrapped(t *testing.T) {
	kinds := []error{
		ErrDataUnavailable,
		ErrWindowTooShort,
		ErrNumericInstability,
		ErrCheckpointCorrupt,
		ErrDeviceMismatch,
	}
	for i, kind := range kinds {
		wrapped := xerrors.New(kind, "context")
		if !errors.Is(wrapped, kind) {
			t.Errorf("kind %d lost through wrapping", i)
		}
		for j, other := range kinds {
			if i != j && errors.Is(wrapped, other) {
				t.Errorf("kind %d matches unrelated kind %d", i, j)
			}
		}
	}
}
