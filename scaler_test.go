package recorder

import (
	"image"
	"image/color"
	"testing"
)

func createGradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := byte(x * 255 / width)
			o := img.PixOffset(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = v, v, v, 255
		}
	}
	return img
}

func TestFrameScaler_NoScaling(t *testing.T) {
	img := createGradientImage(640, 480)
	scaler := NewFrameScaler(640, 480, ScaleModeStretch)

	if out := scaler.Scale(img); out != img {
		t.Error("Expected same image when no scaling needed")
	}
}

func TestFrameScaler_Downscale(t *testing.T) {
	srcW, srcH := 1280, 720
	dstW, dstH := 640, 360

	scaler := NewFrameScaler(dstW, dstH, ScaleModeStretch)
	out := scaler.Scale(createGradientImage(srcW, srcH))

	if out.Bounds().Dx() != dstW || out.Bounds().Dy() != dstH {
		t.Errorf("Expected %dx%d, got %v", dstW, dstH, out.Bounds())
	}
	if len(out.Pix) != dstW*dstH*4 {
		t.Errorf("pixel buffer size mismatch: expected %d, got %d", dstW*dstH*4, len(out.Pix))
	}

	// Gradient must stay monotonic left to right.
	prev := -1
	for x := 0; x < dstW; x++ {
		v := int(out.Pix[out.PixOffset(x, dstH/2)])
		if v < prev {
			t.Fatalf("gradient not monotonic at x=%d: %d < %d", x, v, prev)
		}
		prev = v
	}
}

func TestFrameScaler_Upscale(t *testing.T) {
	scaler := NewFrameScaler(640, 480, ScaleModeStretch)
	out := scaler.Scale(createGradientImage(320, 240))

	if out.Bounds().Dx() != 640 || out.Bounds().Dy() != 480 {
		t.Errorf("Expected 640x480, got %v", out.Bounds())
	}
}

func TestFrameScaler_FitLetterbox(t *testing.T) {
	// 16:9 source into 4:3 target: bars above and below.
	scaler := NewFrameScaler(640, 480, ScaleModeFit)
	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	out := scaler.Scale(src)

	top := out.RGBAAt(320, 10)
	if top.R != 0 || top.A != 255 {
		t.Errorf("expected black letterbox at top, got %v", top)
	}
	mid := out.RGBAAt(320, 240)
	if mid.R != 255 {
		t.Errorf("expected image content in the middle, got %v", mid)
	}
}

func TestFrameScaler_SolidColorSurvives(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 300, 200))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 200, 100, 50, 255
	}

	for _, mode := range []ScaleMode{ScaleModeStretch, ScaleModeFill} {
		out := NewFrameScaler(64, 48, mode).Scale(src)
		for _, p := range []image.Point{{0, 0}, {32, 24}, {63, 47}} {
			got := out.RGBAAt(p.X, p.Y)
			if got.R != 200 || got.G != 100 || got.B != 50 || got.A != 255 {
				t.Errorf("%s: pixel %v = %v, want {200 100 50 255}", mode, p, got)
			}
		}
	}
}

func TestFrameScaler_SubImageSource(t *testing.T) {
	// Only the right half of the parent is white.
	parent := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 100; x < 200; x++ {
			parent.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	half := parent.SubImage(image.Rect(100, 0, 200, 100)).(*image.RGBA)

	out := NewFrameScaler(50, 50, ScaleModeStretch).Scale(half)
	if got := out.RGBAAt(0, 25); got.R != 255 {
		t.Errorf("left edge sampled outside the sub-image: %v", got)
	}
}

func TestFrameScaler_Fill(t *testing.T) {
	scaler := NewFrameScaler(640, 480, ScaleModeFill)
	out := scaler.Scale(createGradientImage(1920, 1080))

	if out.Bounds().Dx() != 640 || out.Bounds().Dy() != 480 {
		t.Errorf("Expected 640x480, got %v", out.Bounds())
	}
	// Cropping the sides means the left edge is no longer black.
	if out.Pix[out.PixOffset(0, 0)] == 0 {
		t.Error("expected cropped source region on the left edge")
	}
}

func TestCalculateScaledSize(t *testing.T) {
	tests := []struct {
		name             string
		srcW, srcH       int
		maxW, maxH       int
		mode             ScaleMode
		expectW, expectH int
	}{
		{"16:9 to 4:3 fit", 1920, 1080, 640, 480, ScaleModeFit, 640, 360},
		{"4:3 to 16:9 fit", 640, 480, 1280, 720, ScaleModeFit, 960, 720},
		{"same aspect", 1280, 720, 640, 360, ScaleModeFit, 640, 360},
		{"fill mode", 1920, 1080, 640, 480, ScaleModeFill, 640, 480},
		{"stretch mode", 1920, 1080, 640, 480, ScaleModeStretch, 640, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := CalculateScaledSize(tt.srcW, tt.srcH, tt.maxW, tt.maxH, tt.mode)
			if w != tt.expectW || h != tt.expectH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.expectW, tt.expectH, w, h)
			}
		})
	}
}

func BenchmarkFrameScaler_720pTo480p(b *testing.B) {
	img := createGradientImage(1280, 720)
	scaler := NewFrameScaler(640, 480, ScaleModeFill)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		scaler.Scale(img)
	}
}
