package capture

import (
	"image"
	"math"
)

// Geometry is the cover-fill placement of a source frame inside a container.
//
// The source is scaled by Scale so it covers the container on both axes. OffsetX and
// OffsetY are the overflow on each axis split evenly; they translate the presented
// frame so it appears centered and they are the origin of the crop copied into the
// destination surface.
type Geometry struct {
	SourceWidth     int
	SourceHeight    int
	ContainerWidth  int
	ContainerHeight int

	Scale   float64
	OffsetX float64
	OffsetY float64

	// Valid is false while any dimension is not positive. Capture is refused until
	// it becomes true.
	Valid bool
}

// ComputeOffsets returns the cover-fill geometry for the given source and container
// sizes. It is pure and returns zero offsets with Valid unset when any dimension is
// not positive, e.g. a stream that has not negotiated its resolution yet.
func ComputeOffsets(sourceWidth, sourceHeight, containerWidth, containerHeight int) Geometry {
	g := Geometry{
		SourceWidth:     sourceWidth,
		SourceHeight:    sourceHeight,
		ContainerWidth:  containerWidth,
		ContainerHeight: containerHeight,
	}
	if sourceWidth <= 0 || sourceHeight <= 0 || containerWidth <= 0 || containerHeight <= 0 {
		return g
	}

	sw, sh := float64(sourceWidth), float64(sourceHeight)
	cw, ch := float64(containerWidth), float64(containerHeight)

	g.Scale = math.Max(cw/sw, ch/sh)
	g.OffsetX = math.Max(0, (sw*g.Scale-cw)/2)
	g.OffsetY = math.Max(0, (sh*g.Scale-ch)/2)
	g.Valid = true
	return g
}

// PresentedSize is the size of the scaled source as it is shown behind the container.
func (g Geometry) PresentedSize() (width, height float64) {
	return float64(g.SourceWidth) * g.Scale, float64(g.SourceHeight) * g.Scale
}

// Crop is the visible container rectangle in presented coordinates: the offsets as
// origin and the container as size.
func (g Geometry) Crop() image.Rectangle {
	if !g.Valid {
		return image.Rectangle{}
	}
	x, y := int(math.Round(g.OffsetX)), int(math.Round(g.OffsetY))
	return image.Rect(x, y, x+g.ContainerWidth, y+g.ContainerHeight)
}

// SourceRect maps Crop back into source pixels, clamped to the source bounds.
func (g Geometry) SourceRect() image.Rectangle {
	if !g.Valid {
		return image.Rectangle{}
	}
	x0 := g.OffsetX / g.Scale
	y0 := g.OffsetY / g.Scale
	x1 := x0 + float64(g.ContainerWidth)/g.Scale
	y1 := y0 + float64(g.ContainerHeight)/g.Scale

	r := image.Rect(
		int(math.Round(x0)), int(math.Round(y0)),
		int(math.Round(x1)), int(math.Round(y1)),
	)
	return r.Intersect(image.Rect(0, 0, g.SourceWidth, g.SourceHeight))
}

// DestRect is the destination surface rectangle, the same size as the container.
func (g Geometry) DestRect() image.Rectangle {
	if !g.Valid {
		return image.Rectangle{}
	}
	return image.Rect(0, 0, g.ContainerWidth, g.ContainerHeight)
}

// ContainerSize derives the container height from its width and aspect ratio
// (width/height). A non-positive aspect falls back to a square.
func ContainerSize(width int, aspect float64) (int, int) {
	if width <= 0 {
		return 0, 0
	}
	if aspect <= 0 {
		aspect = 1
	}
	return width, int(math.Round(float64(width) / aspect))
}
