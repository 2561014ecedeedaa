package capture_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/0xsequence/identity-flow/capture"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveStream is a stream whose negotiated size can change, like a camera that
// settles on a different resolution than requested.
type liveStream struct {
	mu   sync.Mutex
	id   string
	w, h int
}

func (s *liveStream) ID() string { return s.id }

func (s *liveStream) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.h
}

func (s *liveStream) setSize(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w, s.h = w, h
}

func (s *liveStream) Frame() (image.Image, error) {
	w, h := s.Size()
	return stripes(w, h), nil
}

// stripes is red on the left third, green in the middle and blue on the right.
func stripes(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		c := color.RGBA{B: 255, A: 255}
		switch {
		case x < w/3:
			c = color.RGBA{R: 255, A: 255}
		case x < 2*w/3:
			c = color.RGBA{G: 255, A: 255}
		}
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	return img
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) ObserveCapture(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string]int)
	}
	o.results[result]++
}

func TestPipeline_CaptureClearCapture(t *testing.T) {
	surface := capture.NewImageSurface()
	obs := &countingObserver{}
	cleared := 0
	p := capture.NewPipeline(surface,
		capture.WithObserver(obs),
		capture.WithOnClear(func() { cleared++ }),
		capture.WithFlashDuration(0),
	)

	_, err := p.Capture()
	assert.ErrorIs(t, err, proto.ErrCaptureState)

	p.AttachStream(&liveStream{id: "cam", w: 1280, h: 720})
	_, err = p.Capture()
	assert.ErrorIs(t, err, proto.ErrCaptureState, "container not sized yet")

	g := p.Resize(600)
	require.True(t, g.Valid)
	assert.True(t, p.IsEmpty())

	artifact, err := p.Capture()
	require.NoError(t, err)
	assert.False(t, p.IsEmpty())
	assert.Equal(t, artifact, p.Artifact())

	img, err := jpeg.Decode(bytes.NewReader(artifact))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 600, 600), img.Bounds())

	// centered crop: the edges of the square come from the outer stripes
	r, _, _, _ := img.At(5, 300).RGBA()
	assert.Greater(t, r, uint32(0xc000))
	_, gr, _, _ := img.At(300, 300).RGBA()
	assert.Greater(t, gr, uint32(0xc000))

	_, err = p.Capture()
	assert.ErrorIs(t, err, proto.ErrCaptureState, "frame already captured")

	require.NoError(t, p.Clear())
	assert.True(t, p.IsEmpty())
	assert.Nil(t, p.Artifact())
	assert.Equal(t, 1, cleared)
	assert.ErrorIs(t, p.Clear(), proto.ErrCaptureState)

	_, err = p.Capture()
	require.NoError(t, err)

	assert.Equal(t, 2, obs.results["ok"])
	assert.Equal(t, 3, obs.results["rejected"])
}

func TestPipeline_AttachIdempotent(t *testing.T) {
	p := capture.NewPipeline(capture.NewImageSurface())
	p.Resize(600)

	s := &liveStream{id: "cam", w: 1280, h: 720}
	p.AttachStream(s)
	first := p.Geometry()
	p.AttachStream(s)
	p.AttachStream(nil)
	assert.Equal(t, first, p.Geometry())
}

func TestPipeline_RecomputesOnNegotiatedSize(t *testing.T) {
	p := capture.NewPipeline(capture.NewImageSurface(), capture.WithFlashDuration(0))
	s := &liveStream{id: "cam"}
	p.AttachStream(s)
	p.Resize(600)
	assert.False(t, p.Geometry().Valid)

	s.setSize(1920, 1080)
	artifact, err := p.Capture()
	require.NoError(t, err)
	assert.NotEmpty(t, artifact)

	g := p.Geometry()
	assert.True(t, g.Valid)
	assert.Equal(t, 1920, g.SourceWidth)
	assert.InDelta(t, (1920*600.0/1080-600)/2, g.OffsetX, 1e-9)
}

func TestPipeline_ArtifactIsCopy(t *testing.T) {
	p := capture.NewPipeline(capture.NewImageSurface(), capture.WithFlashDuration(0))
	p.AttachStream(&liveStream{id: "cam", w: 600, h: 600})
	p.Resize(300)

	artifact, err := p.Capture()
	require.NoError(t, err)
	artifact[0] = 0
	assert.NotEqual(t, artifact[0], p.Artifact()[0])
}

func TestPipeline_Flash(t *testing.T) {
	p := capture.NewPipeline(capture.NewImageSurface(), capture.WithFlashDuration(200*time.Millisecond))
	p.AttachStream(&liveStream{id: "cam", w: 640, h: 480})
	p.Resize(200)

	_, err := p.Capture()
	require.NoError(t, err)
	assert.True(t, p.Flashing())

	select {
	case on := <-p.Flashes():
		assert.True(t, on)
	case <-time.After(time.Second):
		t.Fatal("no flash start")
	}
	select {
	case on := <-p.Flashes():
		assert.False(t, on)
	case <-time.After(time.Second):
		t.Fatal("flash did not revert")
	}
	assert.False(t, p.Flashing())
}

func TestFileAcquirer(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "face.png")
	f, err := os.Create(fileName)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, stripes(800, 600)))
	require.NoError(t, f.Close())

	acq := &capture.FileAcquirer{Path: fileName}
	stream, err := acq.Acquire(context.Background(), capture.DefaultConstraints)
	require.NoError(t, err)
	w, h := stream.Size()
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)

	p := capture.NewPipeline(capture.NewImageSurface(), capture.WithFlashDuration(0))
	p.AttachStream(stream)
	p.Resize(capture.DefaultConstraints.Width)
	_, err = p.Capture()
	require.NoError(t, err)

	_, err = (&capture.FileAcquirer{Path: filepath.Join(dir, "missing.png")}).Acquire(context.Background(), capture.DefaultConstraints)
	assert.ErrorIs(t, err, proto.ErrMediaAcquisition)

	withAudio := capture.DefaultConstraints
	withAudio.Audio = true
	_, err = acq.Acquire(context.Background(), withAudio)
	assert.ErrorIs(t, err, proto.ErrMediaAcquisition)
}
