package archive

import (
	"log/slog"

	"github.com/khaledhikmat/tvsr-go/service/lgr"
)

// Import copies every frame from a readable store into a writable one
// and persists the destination's key index. The typical use is loading
// a directory tree of PNG frames into a bbolt archive before training.
func Import(src IService, dst IWriter) error {
	for _, v := range src.Videos() {
		frames, err := src.ReadSequence(v.ID, 0, v.Frames)
		if err != nil {
			return err
		}
		for _, f := range frames {
			if err := dst.WriteFrame(f, v.Frames); err != nil {
				return err
			}
		}
		lgr.Logger.Info(
			"imported video",
			slog.String("video", v.ID),
			slog.Int("frames", v.Frames),
		)
	}
	return dst.Flush()
}

// ImportFolder loads a PNG directory tree, <root>/<video>/*.png, into
// the destination archive.
func ImportFolder(root string, dst IWriter) error {
	src, err := NewFolder(root)
	if err != nil {
		return err
	}
	defer src.Close()
	return Import(src, dst)
}
