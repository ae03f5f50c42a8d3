package archive

import (
	"bytes"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/khaledhikmat/tvsr-go/model"
)

func testFrame(rng *rand.Rand, video string, index, h, w int) model.Frame {
	pix := make([]byte, h*w*model.FrameChannels)
	rng.Read(pix)
	return model.Frame{Video: video, Index: index, Height: h, Width: w, Pix: pix}
}

func TestBoltRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gt.db")
	rng := rand.New(rand.NewSource(1))

	w, err := NewBolt(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	frames := make([]model.Frame, 3)
	for i := range frames {
		frames[i] = testFrame(rng, "calendar", i, 16, 24)
		if err := w.WriteFrame(frames[i], len(frames)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen and read back through the persisted index.
	r, err := NewBolt(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	videos := r.Videos()
	if len(videos) != 1 {
		t.Fatalf("videos: got %d want 1", len(videos))
	}
	info := videos[0]
	if info.ID != "calendar" || info.Frames != 3 || info.Height != 16 || info.Width != 24 {
		t.Fatalf("video info: %+v", info)
	}

	for i, want := range frames {
		got, err := r.ReadFrame(model.SequenceKey{
			Video:  "calendar",
			Frames: 3,
			Height: 16,
			Width:  24,
			Index:  i,
		})
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !bytes.Equal(got.Pix, want.Pix) {
			t.Errorf("frame %d differs after round trip", i)
		}
	}

	keys := r.Keys()
	if len(keys) != 3 {
		t.Fatalf("keys: got %d want 3", len(keys))
	}
	for i, k := range keys {
		if k.Video != "calendar" || k.Index != i {
			t.Errorf("key %d: %+v", i, k)
		}
	}

	seq, err := r.ReadSequence("calendar", 1, 2)
	if err != nil {
		t.Fatalf("read sequence: %v", err)
	}
	if len(seq) != 2 || seq[0].Index != 1 || seq[1].Index != 2 {
		t.Fatalf("sequence window: %+v", seq)
	}
	if !bytes.Equal(seq[0].Pix, frames[1].Pix) {
		t.Errorf("sequence frame differs from direct read")
	}

	if _, err := r.ReadSequence("calendar", 2, 2); !errors.Is(err, model.ErrDataUnavailable) {
		t.Errorf("out of range window: expected ErrDataUnavailable, got %v", err)
	}
}

func TestBoltMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gt.db")
	svc, err := NewBolt(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer svc.Close()

	_, err = svc.ReadFrame(model.SequenceKey{Video: "nope", Frames: 1, Height: 8, Width: 8})
	if !errors.Is(err, model.ErrDataUnavailable) {
		t.Errorf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestBoltRejectsMismatchedBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gt.db")
	svc, err := NewBolt(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer svc.Close()

	bad := model.Frame{Video: "v", Height: 8, Width: 8, Pix: []byte{1, 2, 3}}
	if err := svc.WriteFrame(bad, 1); !errors.Is(err, model.ErrDataUnavailable) {
		t.Errorf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestImportCopiesStore(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(5))

	src, err := NewBolt(filepath.Join(dir, "src.db"))
	if err != nil {
		t.Fatalf("open src: %v", err)
	}
	frames := make([]model.Frame, 4)
	for i := range frames {
		frames[i] = testFrame(rng, "walk", i, 8, 12)
		if err := src.WriteFrame(frames[i], len(frames)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := src.Flush(); err != nil {
		t.Fatalf("flush src: %v", err)
	}
	defer src.Close()

	dst, err := NewBolt(filepath.Join(dir, "dst.db"))
	if err != nil {
		t.Fatalf("open dst: %v", err)
	}
	defer dst.Close()

	if err := Import(src, dst); err != nil {
		t.Fatalf("import: %v", err)
	}

	got, err := dst.ReadSequence("walk", 0, len(frames))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	for i := range frames {
		if !bytes.Equal(got[i].Pix, frames[i].Pix) {
			t.Errorf("frame %d differs after import", i)
		}
	}
}
