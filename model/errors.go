package model

import (
	"strconv"
	"strings"

	"github.com/mdobak/go-xerrors"
)

// Error taxonomy. Recoverable kinds (DataUnavailable, WindowTooShort,
// NumericInstability) never terminate a run; fatal kinds do.
var (
	ErrDataUnavailable    = xerrors.Message("data unavailable")
	ErrWindowTooShort     = xerrors.Message("video shorter than window")
	ErrNumericInstability = xerrors.Message("numeric instability")
	ErrCheckpointCorrupt  = xerrors.Message("checkpoint corrupt")
	ErrDeviceMismatch     = xerrors.Message("device mismatch")
)

// ParseSequenceKey decodes <video>_<n>x<h>x<w>_<idx>. The video id may
// itself contain underscores, so the size and index fields are taken
// from the tail.
func ParseSequenceKey(key string) (SequenceKey, error) {
	parts := strings.Split(key, "_")
	if len(parts) < 3 {
		return SequenceKey{}, xerrors.New(ErrDataUnavailable, "malformed key: "+key)
	}

	idx, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return SequenceKey{}, xerrors.New(ErrDataUnavailable, "malformed frame index in key: "+key)
	}

	dims := strings.Split(parts[len(parts)-2], "x")
	if len(dims) != 3 {
		return SequenceKey{}, xerrors.New(ErrDataUnavailable, "malformed size in key: "+key)
	}
	n, err1 := strconv.Atoi(dims[0])
	h, err2 := strconv.Atoi(dims[1])
	w, err3 := strconv.Atoi(dims[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return SequenceKey{}, xerrors.New(ErrDataUnavailable, "malformed size in key: "+key)
	}

	return SequenceKey{
		Video:  strings.Join(parts[:len(parts)-2], "_"),
		Frames: n,
		Height: h,
		Width:  w,
		Index:  idx,
	}, nil
}
