package archive

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/mdobak/go-xerrors"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/tvsr-go/model"
)

// folderService reads a directory tree of precomputed frames,
// <root>/<video>/*.png, as produced by external resizing tools for the
// BI policy. Frame order follows the sorted file names.
type folderService struct {
	root   string
	videos map[string]VideoInfo
	files  map[string][]string
}

func NewFolder(root string) (IService, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, xerrors.New(model.ErrDataUnavailable, err)
	}

	svc := &folderService{
		root:   root,
		videos: map[string]VideoInfo{},
		files:  map[string][]string{},
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		vid := e.Name()
		frames, err := filepath.Glob(filepath.Join(root, vid, "*.png"))
		if err != nil || len(frames) == 0 {
			continue
		}
		sort.Strings(frames)

		// Dimensions come from the first frame; the rest must match.
		mat := gocv.IMRead(frames[0], gocv.IMReadColor)
		if mat.Empty() {
			return nil, xerrors.New(model.ErrDataUnavailable, "unreadable frame: "+frames[0])
		}
		h, w := mat.Rows(), mat.Cols()
		mat.Close()

		svc.videos[vid] = VideoInfo{ID: vid, Frames: len(frames), Height: h, Width: w}
		svc.files[vid] = frames
	}

	if len(svc.videos) == 0 {
		return nil, xerrors.New(model.ErrDataUnavailable, "no videos under "+root)
	}
	return svc, nil
}

func (svc *folderService) Keys() []model.SequenceKey {
	var out []model.SequenceKey
	for _, v := range svc.Videos() {
		for idx := 0; idx < v.Frames; idx++ {
			out = append(out, model.SequenceKey{
				Video:  v.ID,
				Frames: v.Frames,
				Height: v.Height,
				Width:  v.Width,
				Index:  idx,
			})
		}
	}
	return out
}

func (svc *folderService) ReadSequence(video string, start, n int) ([]model.Frame, error) {
	info, ok := svc.videos[video]
	return readWindow(svc, info, ok, video, start, n)
}

func (svc *folderService) Videos() []VideoInfo {
	out := make([]VideoInfo, 0, len(svc.videos))
	for _, v := range svc.videos {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (svc *folderService) ReadFrame(key model.SequenceKey) (model.Frame, error) {
	files, ok := svc.files[key.Video]
	if !ok || key.Index < 0 || key.Index >= len(files) {
		return model.Frame{}, xerrors.New(model.ErrDataUnavailable, "missing frame: "+key.String())
	}

	mat := gocv.IMRead(files[key.Index], gocv.IMReadColor)
	if mat.Empty() {
		return model.Frame{}, xerrors.New(model.ErrDataUnavailable, "corrupt frame: "+files[key.Index])
	}
	defer mat.Close()

	// OpenCV decodes BGR; the archive contract is RGB.
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)

	pix := rgb.ToBytes()
	frame := model.Frame{
		Video:  key.Video,
		Index:  key.Index,
		Height: rgb.Rows(),
		Width:  rgb.Cols(),
		Pix:    make([]byte, len(pix)),
	}
	copy(frame.Pix, pix)

	if frame.Height != svc.videos[key.Video].Height || frame.Width != svc.videos[key.Video].Width {
		return model.Frame{}, xerrors.New(model.ErrDataUnavailable, "frame size drift in video "+key.Video)
	}
	return frame, nil
}

func (svc *folderService) Close() error {
	return nil
}
