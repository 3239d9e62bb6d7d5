package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Frame is one captured screen image.
type Frame struct {
	Data   []byte
	Width  int
	Height int
}

// Source produces screen images on demand.
type Source interface {
	Capture(ctx context.Context) (Frame, error)
}

// DirSource replays the images of a directory in name order, looping at the
// end. It stands in for a real screen grabber.
type DirSource struct {
	mu     sync.Mutex
	frames []Frame
	next   int
}

func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no jpeg or png images in %s", dir)
	}

	frames := make([]Frame, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		frame := Frame{Data: data}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			frame.Width, frame.Height = cfg.Width, cfg.Height
		}
		frames = append(frames, frame)
	}
	return &DirSource{frames: frames}, nil
}

func (s *DirSource) Capture(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	return frame, nil
}
