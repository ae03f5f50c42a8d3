package archive

import (
	"fmt"

	"github.com/mdobak/go-xerrors"

	"github.com/khaledhikmat/tvsr-go/model"
)

// VideoInfo summarizes one episode in the archive.
type VideoInfo struct {
	ID     string
	Frames int
	Height int
	Width  int
}

// IService is the read side of the frame store. Implementations load
// their full key index into memory at open time; ReadFrame never scans.
type IService interface {
	Keys() []model.SequenceKey
	Videos() []VideoInfo
	ReadFrame(key model.SequenceKey) (model.Frame, error)
	ReadSequence(video string, start, n int) ([]model.Frame, error)
	Close() error
}

// IWriter extends the store with ingestion, used by the import tooling
// and tests. Flush persists the key index.
type IWriter interface {
	IService
	WriteFrame(frame model.Frame, totalFrames int) error
	Flush() error
}

// readWindow reads a contiguous frame window through ReadFrame. Both
// store implementations share it; ok reports whether the video exists.
func readWindow(svc IService, info VideoInfo, ok bool, video string, start, n int) ([]model.Frame, error) {
	if !ok || start < 0 || n <= 0 || start+n > info.Frames {
		return nil, xerrors.New(model.ErrDataUnavailable,
			fmt.Sprintf("bad window %s[%d:%d]", video, start, start+n))
	}
	out := make([]model.Frame, 0, n)
	for idx := start; idx < start+n; idx++ {
		f, err := svc.ReadFrame(model.SequenceKey{
			Video:  video,
			Frames: info.Frames,
			Height: info.Height,
			Width:  info.Width,
			Index:  idx,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
