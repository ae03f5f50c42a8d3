package archive

import (
	"sort"
	"strings"

	"github.com/mdobak/go-xerrors"
	bolt "go.etcd.io/bbolt"

	"github.com/khaledhikmat/tvsr-go/model"
)

var (
	framesBucket = []byte("frames")
	metaBucket   = []byte("meta")
	keysKey      = []byte("keys")
)

// boltService stores raw HWC/RGB frames in a single-file bbolt archive,
// one record per frame, keyed <video>_<n>x<h>x<w>_<idx>. The key index
// is written to a meta bucket on Flush and loaded entirely into memory
// at open, mirroring the original dataset's sidecar index.
type boltService struct {
	db     *bolt.DB
	keys   map[string]struct{}
	videos map[string]VideoInfo
	dirty  []string
}

func NewBolt(path string) (IWriter, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, xerrors.New(model.ErrDataUnavailable, err)
	}

	svc := &boltService{
		db:     db,
		keys:   map[string]struct{}{},
		videos: map[string]VideoInfo{},
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(framesBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, xerrors.New(model.ErrDataUnavailable, err)
	}

	if err := svc.loadIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return svc, nil
}

func (svc *boltService) loadIndex() error {
	return svc.db.View(func(tx *bolt.Tx) error {
		var keys []string
		if raw := tx.Bucket(metaBucket).Get(keysKey); raw != nil {
			keys = strings.Split(strings.TrimSpace(string(raw)), "\n")
		} else {
			// No persisted index yet (fresh or partially built archive):
			// fall back to a one-time key scan.
			c := tx.Bucket(framesBucket).Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				keys = append(keys, string(k))
			}
		}

		for _, key := range keys {
			if key == "" {
				continue
			}
			sk, err := model.ParseSequenceKey(key)
			if err != nil {
				return err
			}
			svc.keys[key] = struct{}{}
			svc.videos[sk.Video] = VideoInfo{
				ID:     sk.Video,
				Frames: sk.Frames,
				Height: sk.Height,
				Width:  sk.Width,
			}
		}
		return nil
	})
}

func (svc *boltService) Keys() []model.SequenceKey {
	out := make([]model.SequenceKey, 0, len(svc.keys))
	for key := range svc.keys {
		sk, err := model.ParseSequenceKey(key)
		if err != nil {
			// Index entries are validated at open; an unparsable key
			// here means in-memory corruption, skip it.
			continue
		}
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Video != out[j].Video {
			return out[i].Video < out[j].Video
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func (svc *boltService) ReadSequence(video string, start, n int) ([]model.Frame, error) {
	info, ok := svc.videos[video]
	return readWindow(svc, info, ok, video, start, n)
}

func (svc *boltService) Videos() []VideoInfo {
	out := make([]VideoInfo, 0, len(svc.videos))
	for _, v := range svc.videos {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (svc *boltService) ReadFrame(key model.SequenceKey) (model.Frame, error) {
	ks := key.String()
	if _, ok := svc.keys[ks]; !ok {
		return model.Frame{}, xerrors.New(model.ErrDataUnavailable, "missing key: "+ks)
	}

	var pix []byte
	err := svc.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(framesBucket).Get([]byte(ks))
		if raw == nil {
			return xerrors.New(model.ErrDataUnavailable, "indexed key has no record: "+ks)
		}
		pix = make([]byte, len(raw))
		copy(pix, raw)
		return nil
	})
	if err != nil {
		return model.Frame{}, err
	}

	frame := model.Frame{
		Video:  key.Video,
		Index:  key.Index,
		Height: key.Height,
		Width:  key.Width,
		Pix:    pix,
	}
	if len(pix) != frame.Bytes() {
		return model.Frame{}, xerrors.New(model.ErrDataUnavailable,
			"corrupt record: "+ks)
	}
	return frame, nil
}

func (svc *boltService) WriteFrame(frame model.Frame, totalFrames int) error {
	if len(frame.Pix) != frame.Bytes() {
		return xerrors.New(model.ErrDataUnavailable, "frame pixel buffer does not match dimensions")
	}

	key := model.SequenceKey{
		Video:  frame.Video,
		Frames: totalFrames,
		Height: frame.Height,
		Width:  frame.Width,
		Index:  frame.Index,
	}
	ks := key.String()

	err := svc.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(framesBucket).Put([]byte(ks), frame.Pix)
	})
	if err != nil {
		return xerrors.New(model.ErrDataUnavailable, err)
	}

	svc.keys[ks] = struct{}{}
	svc.videos[frame.Video] = VideoInfo{
		ID:     frame.Video,
		Frames: totalFrames,
		Height: frame.Height,
		Width:  frame.Width,
	}
	svc.dirty = append(svc.dirty, ks)
	return nil
}

func (svc *boltService) Flush() error {
	keys := make([]string, 0, len(svc.keys))
	for k := range svc.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	err := svc.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(keysKey, []byte(strings.Join(keys, "\n")))
	})
	if err != nil {
		return xerrors.New(model.ErrDataUnavailable, err)
	}
	svc.dirty = nil
	return nil
}

func (svc *boltService) Close() error {
	if len(svc.dirty) > 0 {
		if err := svc.Flush(); err != nil {
			return err
		}
	}
	return svc.db.Close()
}
