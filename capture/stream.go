package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/0xsequence/identity-flow/proto"
	_ "golang.org/x/image/webp"
)

type FacingMode string

const (
	FacingMode_User        FacingMode = "user"
	FacingMode_Environment FacingMode = "environment"
)

// Constraints is the capture configuration requested from the media device.
type Constraints struct {
	Width      int
	Height     int
	FacingMode FacingMode
	Audio      bool
}

var DefaultConstraints = Constraints{
	Width:      600,
	Height:     600,
	FacingMode: FacingMode_Environment,
}

// Stream is a live video source. Size reports the negotiated resolution, which may
// differ from the requested one and is zero until the stream is ready.
type Stream interface {
	ID() string
	Size() (width, height int)
	Frame() (image.Image, error)
}

// Acquirer yields a live stream for the given constraints. Failures wrap
// proto.ErrMediaAcquisition.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// StillStream serves a single decoded image as a stream.
type StillStream struct {
	id  string
	img image.Image
}

var _ Stream = (*StillStream)(nil)

func NewStillStream(id string, img image.Image) *StillStream {
	return &StillStream{id: id, img: img}
}

func (s *StillStream) ID() string {
	return s.id
}

func (s *StillStream) Size() (int, int) {
	if s.img == nil {
		return 0, 0
	}
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *StillStream) Frame() (image.Image, error) {
	if s.img == nil {
		return nil, proto.ErrMediaAcquisition.WithCausef("stream %s has no frame", s.id)
	}
	return s.img, nil
}

// FileAcquirer reads a still image from disk and presents it as a stream. JPEG, PNG
// and WebP inputs are supported.
type FileAcquirer struct {
	Path string
}

var _ Acquirer = (*FileAcquirer)(nil)

func (a *FileAcquirer) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, proto.ErrMediaAcquisition.WithCause(err)
	}
	if c.Audio {
		return nil, proto.ErrMediaAcquisition.WithCausef("audio is not supported by a still image")
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return nil, proto.ErrMediaAcquisition.WithCausef("open %s: %w", a.Path, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, proto.ErrMediaAcquisition.WithCausef("decode %s: %w", a.Path, err)
	}
	return NewStillStream(fmt.Sprintf("file:%s:%s", format, a.Path), img), nil
}
