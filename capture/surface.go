package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Surface is the destination the pipeline composites frames onto.
type Surface interface {
	DrawCroppedFrame(src image.Image, srcRect, dstRect image.Rectangle) error
	Clear()
	ExportImage() ([]byte, error)
}

// ImageSurface is an in-memory RGBA canvas that exports JPEG at maximum quality.
type ImageSurface struct {
	canvas *image.RGBA
	scaler draw.Scaler
}

var _ Surface = (*ImageSurface)(nil)

func NewImageSurface() *ImageSurface {
	return &ImageSurface{scaler: draw.CatmullRom}
}

// DrawCroppedFrame scales srcRect of src into dstRect. The canvas is resized to
// cover dstRect when needed.
func (s *ImageSurface) DrawCroppedFrame(src image.Image, srcRect, dstRect image.Rectangle) error {
	if src == nil {
		return fmt.Errorf("capture: nil source frame")
	}
	if srcRect.Empty() || dstRect.Empty() {
		return fmt.Errorf("capture: empty rectangle src=%v dst=%v", srcRect, dstRect)
	}
	srcRect = srcRect.Add(src.Bounds().Min)
	if !srcRect.In(src.Bounds()) {
		return fmt.Errorf("capture: crop %v outside frame %v", srcRect, src.Bounds())
	}

	bounds := image.Rect(0, 0, dstRect.Max.X, dstRect.Max.Y)
	if s.canvas == nil || s.canvas.Bounds() != bounds {
		s.canvas = image.NewRGBA(bounds)
	}
	s.scaler.Scale(s.canvas, dstRect, src, srcRect, draw.Src, nil)
	return nil
}

func (s *ImageSurface) Clear() {
	if s.canvas == nil {
		return
	}
	draw.Draw(s.canvas, s.canvas.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

func (s *ImageSurface) ExportImage() ([]byte, error) {
	if s.canvas == nil {
		return nil, fmt.Errorf("capture: surface is empty")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.canvas, &jpeg.Options{Quality: 100}); err != nil {
		return nil, fmt.Errorf("capture: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Image returns the current canvas, nil before the first draw.
func (s *ImageSurface) Image() *image.RGBA {
	return s.canvas
}
