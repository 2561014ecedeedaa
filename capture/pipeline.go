// Package capture turns a live video stream of arbitrary resolution into a square,
// cover-cropped still image for the biometric stages.
package capture

import (
	"sync"
	"time"

	"github.com/0xsequence/identity-flow/proto"
	"github.com/rs/zerolog"
)

const DefaultFlashDuration = 750 * time.Millisecond

// Observer receives one result label per capture attempt: "ok", "rejected" or "error".
type Observer interface {
	ObserveCapture(result string)
}

type Option func(*Pipeline)

// WithAspectRatio sets the container aspect ratio (width/height). Default is square.
func WithAspectRatio(aspect float64) Option {
	return func(p *Pipeline) { p.aspect = aspect }
}

func WithFlashDuration(d time.Duration) Option {
	return func(p *Pipeline) { p.flashDuration = d }
}

// WithOnClear registers a callback run after a successful Clear, outside the lock.
func WithOnClear(fn func()) Option {
	return func(p *Pipeline) { p.onClear = fn }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = log }
}

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// Pipeline owns the attached stream, the destination surface and the captured frame.
type Pipeline struct {
	log           zerolog.Logger
	surface       Surface
	aspect        float64
	flashDuration time.Duration
	onClear       func()
	observer      Observer
	flashes       chan bool

	mu              sync.Mutex
	stream          Stream
	containerWidth  int
	containerHeight int
	geometry        Geometry
	artifact        []byte
	flashing        bool
	flashTimer      *time.Timer
}

func NewPipeline(surface Surface, opts ...Option) *Pipeline {
	p := &Pipeline{
		log:           zerolog.Nop(),
		surface:       surface,
		aspect:        1,
		flashDuration: DefaultFlashDuration,
		flashes:       make(chan bool, 4),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AttachStream binds a live source. Attaching the stream that is already attached is
// a no-op, as is attaching nil.
func (p *Pipeline) AttachStream(s Stream) {
	if s == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream != nil && p.stream.ID() == s.ID() {
		return
	}
	p.stream = s
	p.recompute()
	p.log.Debug().
		Str("op", "attach").
		Str("stream", s.ID()).
		Int("source_width", p.geometry.SourceWidth).
		Int("source_height", p.geometry.SourceHeight).
		Msg("capture: stream attached")
}

// Resize sets the container width after a viewport change and returns the new
// geometry. The height follows from the aspect ratio.
func (p *Pipeline) Resize(width int) Geometry {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.containerWidth, p.containerHeight = ContainerSize(width, p.aspect)
	p.recompute()
	return p.geometry
}

func (p *Pipeline) Geometry() Geometry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.geometry
}

func (p *Pipeline) IsEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.artifact == nil
}

// Artifact returns a copy of the captured image, nil while the frame is empty.
func (p *Pipeline) Artifact() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.artifact == nil {
		return nil
	}
	return append([]byte(nil), p.artifact...)
}

// Capture composites the current frame onto the surface and returns the encoded
// image. The caller owns the returned bytes. It fails with proto.ErrCaptureState
// when the geometry is invalid or a frame is already captured.
func (p *Pipeline) Capture() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		p.observe("rejected")
		return nil, proto.ErrCaptureState.WithCausef("no stream attached")
	}
	// the negotiated resolution may have changed since attach
	p.recompute()

	g := p.geometry
	if !g.Valid {
		p.observe("rejected")
		return nil, proto.ErrCaptureState.WithCausef("invalid geometry source=%dx%d container=%dx%d",
			g.SourceWidth, g.SourceHeight, g.ContainerWidth, g.ContainerHeight)
	}
	if p.artifact != nil {
		p.observe("rejected")
		return nil, proto.ErrCaptureState.WithCausef("frame already captured")
	}

	frame, err := p.stream.Frame()
	if err != nil {
		p.observe("error")
		return nil, proto.ErrMediaAcquisition.WithCause(err)
	}
	if err := p.surface.DrawCroppedFrame(frame, g.SourceRect(), g.DestRect()); err != nil {
		p.observe("error")
		return nil, err
	}
	data, err := p.surface.ExportImage()
	if err != nil {
		p.observe("error")
		return nil, err
	}

	p.artifact = data
	p.observe("ok")
	p.startFlash()

	p.log.Info().
		Str("op", "capture").
		Str("stream", p.stream.ID()).
		Float64("offset_x", g.OffsetX).
		Float64("offset_y", g.OffsetY).
		Int("bytes", len(data)).
		Msg("capture: frame captured")

	return append([]byte(nil), data...), nil
}

// Clear erases the surface so the live preview resumes and a new capture is allowed.
func (p *Pipeline) Clear() error {
	p.mu.Lock()
	if p.artifact == nil {
		p.mu.Unlock()
		return proto.ErrCaptureState.WithCausef("no frame to clear")
	}
	p.surface.Clear()
	p.artifact = nil
	p.mu.Unlock()

	p.log.Debug().Str("op", "clear").Msg("capture: frame cleared")
	if p.onClear != nil {
		p.onClear()
	}
	return nil
}

// Flashes delivers true when the capture acknowledgment starts and false when it
// reverts. Events are dropped when the channel is not drained.
func (p *Pipeline) Flashes() <-chan bool {
	return p.flashes
}

func (p *Pipeline) Flashing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flashing
}

func (p *Pipeline) startFlash() {
	if p.flashDuration <= 0 {
		return
	}
	if p.flashTimer != nil {
		p.flashTimer.Stop()
	}
	p.flashing = true
	p.signal(true)

	var timer *time.Timer
	timer = time.AfterFunc(p.flashDuration, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.flashTimer != timer {
			return
		}
		p.flashing = false
		p.flashTimer = nil
		p.signal(false)
	})
	p.flashTimer = timer
}

func (p *Pipeline) signal(on bool) {
	select {
	case p.flashes <- on:
	default:
	}
}

func (p *Pipeline) recompute() {
	var sw, sh int
	if p.stream != nil {
		sw, sh = p.stream.Size()
	}
	p.geometry = ComputeOffsets(sw, sh, p.containerWidth, p.containerHeight)
}

func (p *Pipeline) observe(result string) {
	if p.observer != nil {
		p.observer.ObserveCapture(result)
	}
}
