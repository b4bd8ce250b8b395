package recorder

import (
	"image"

	"golang.org/x/image/draw"
)

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio (letterboxed).
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleModeFit:
		return "fit"
	case ScaleModeFill:
		return "fill"
	case ScaleModeStretch:
		return "stretch"
	default:
		return "unknown"
	}
}

// FrameScaler scales RGBA images to a fixed output size. A scaler is
// owned by one worker at a time; it reuses its output buffer.
type FrameScaler struct {
	dstWidth, dstHeight int
	mode                ScaleMode
	out                 *image.RGBA
}

// NewFrameScaler creates a scaler producing dstWidth x dstHeight images.
func NewFrameScaler(dstWidth, dstHeight int, mode ScaleMode) *FrameScaler {
	return &FrameScaler{
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		mode:      mode,
		out:       image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight)),
	}
}

// Scale returns src unchanged when it already has the target size.
// Otherwise the returned image is valid until the next Scale call.
func (s *FrameScaler) Scale(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	if b.Dx() == s.dstWidth && b.Dy() == s.dstHeight {
		return src
	}

	// Destination window; Fit letterboxes into a centered sub-rectangle.
	dstRect := s.out.Bounds()
	if s.mode == ScaleModeFit {
		dw, dh := CalculateScaledSize(b.Dx(), b.Dy(), s.dstWidth, s.dstHeight, ScaleModeFit)
		dx, dy := (s.dstWidth-dw)/2, (s.dstHeight-dh)/2
		dstRect = image.Rect(dx, dy, dx+dw, dy+dh)
		draw.Draw(s.out, s.out.Bounds(), image.Black, image.Point{}, draw.Src)
	}

	sx, sy, sw, sh := s.calculateSourceRegion(b.Dx(), b.Dy())
	srcRect := image.Rect(b.Min.X+sx, b.Min.Y+sy, b.Min.X+sx+sw, b.Min.Y+sy+sh)
	draw.ApproxBiLinear.Scale(s.out, dstRect, src, srcRect, draw.Src, nil)
	return s.out
}

// calculateSourceRegion determines what region of the source to use based on scale mode.
func (s *FrameScaler) calculateSourceRegion(srcW, srcH int) (x, y, w, h int) {
	if s.mode != ScaleModeFill {
		return 0, 0, srcW, srcH
	}

	// Crop source to match target aspect ratio
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(s.dstWidth) / float64(s.dstHeight)

	if srcAspect > dstAspect {
		newW := int(float64(srcH) * dstAspect)
		return (srcW - newW) / 2, 0, newW, srcH
	} else if srcAspect < dstAspect {
		newH := int(float64(srcW) / dstAspect)
		return 0, (srcH - newH) / 2, srcW, newH
	}
	return 0, 0, srcW, srcH
}

// CalculateScaledSize returns the output dimensions when scaling with a given mode.
// Results are rounded up to even sizes so they stay valid for I420.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	if mode != ScaleModeFit {
		return maxW, maxH
	}

	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(maxW) / float64(maxH)

	if srcAspect > dstAspect {
		w = maxW
		h = int(float64(maxW) / srcAspect)
	} else {
		h = maxH
		w = int(float64(maxH) * srcAspect)
	}
	w = (w + 1) &^ 1
	h = (h + 1) &^ 1
	if w > maxW {
		w = maxW
	}
	if h > maxH {
		h = maxH
	}
	return w, h
}
