package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Decode errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrFrameTooSmall     = errors.New("frame buffer too small")
)

// DecodeToRGBA converts a captured frame in its device-native format to
// RGBA. RGBA32 input is wrapped without copying, so the result must be
// treated as read-only.
func DecodeToRGBA(f *CapturedFrame) (*image.RGBA, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrFrameTooSmall)
	}
	if f.Format == PixelFormatMJPEG {
		return decodeMJPEG(f.Data)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}

	need, err := minFrameSize(f)
	if err != nil {
		return nil, err
	}
	if len(f.Data) < need {
		return nil, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d",
			ErrFrameTooSmall, f.Format, f.Width, f.Height, need, len(f.Data))
	}

	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Format {
	case PixelFormatRGBA32:
		return &image.RGBA{Pix: f.Data, Stride: f.RowStride(), Rect: rect}, nil

	case PixelFormatBGRA32:
		dst := image.NewRGBA(rect)
		stride := f.RowStride()
		for y := 0; y < f.Height; y++ {
			src := f.Data[y*stride:]
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < f.Width*4; x += 4 {
				row[x], row[x+1], row[x+2], row[x+3] = src[x+2], src[x+1], src[x], src[x+3]
			}
		}
		return dst, nil

	case PixelFormatRGB24:
		dst := image.NewRGBA(rect)
		stride := f.RowStride()
		for y := 0; y < f.Height; y++ {
			src := f.Data[y*stride:]
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < f.Width; x++ {
				row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = src[x*3], src[x*3+1], src[x*3+2], 255
			}
		}
		return dst, nil

	case PixelFormatGray:
		gray := &image.Gray{Pix: f.Data, Stride: f.RowStride(), Rect: rect}
		return toRGBA(gray), nil

	case PixelFormatYUYV:
		return toRGBA(yuyvToYCbCr(f)), nil

	case PixelFormatNV12:
		return toRGBA(nv12ToYCbCr(f)), nil

	case PixelFormatI420:
		w, h := f.Width, f.Height
		ySize := w * h
		cSize := (w / 2) * (h / 2)
		ycc := &image.YCbCr{
			Y:              f.Data[:ySize],
			Cb:             f.Data[ySize : ySize+cSize],
			Cr:             f.Data[ySize+cSize : ySize+2*cSize],
			YStride:        w,
			CStride:        w / 2,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}
		return toRGBA(ycc), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
}

func minFrameSize(f *CapturedFrame) (int, error) {
	w, h := f.Width, f.Height
	switch f.Format {
	case PixelFormatRGBA32, PixelFormatBGRA32, PixelFormatRGB24, PixelFormatGray, PixelFormatYUYV:
		return f.RowStride()*(h-1) + w*f.Format.BytesPerPixel(), nil
	case PixelFormatNV12:
		return w*h + w*(h/2), nil
	case PixelFormatI420:
		return I420Size(w, h), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}
}

func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func decodeMJPEG(data []byte) (*image.RGBA, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mjpeg: %w", err)
	}
	return toRGBA(img), nil
}

// yuyvToYCbCr unpacks Y0 U Y1 V macropixels into 4:2:2 planes.
func yuyvToYCbCr(f *CapturedFrame) *image.YCbCr {
	w, h := f.Width, f.Height
	ycc := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	stride := f.RowStride()
	for y := 0; y < h; y++ {
		src := f.Data[y*stride:]
		for x := 0; x+1 < w; x += 2 {
			o := x * 2
			ycc.Y[y*ycc.YStride+x] = src[o]
			ycc.Y[y*ycc.YStride+x+1] = src[o+2]
			ci := y*ycc.CStride + x/2
			ycc.Cb[ci] = src[o+1]
			ycc.Cr[ci] = src[o+3]
		}
	}
	return ycc
}

// nv12ToYCbCr splits the interleaved UV plane into 4:2:0 planes.
func nv12ToYCbCr(f *CapturedFrame) *image.YCbCr {
	w, h := f.Width, f.Height
	ycc := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(ycc.Y, f.Data[:w*h])
	uv := f.Data[w*h:]
	for y := 0; y < h/2; y++ {
		for x := 0; x < w/2; x++ {
			ycc.Cb[y*ycc.CStride+x] = uv[y*w+x*2]
			ycc.Cr[y*ycc.CStride+x] = uv[y*w+x*2+1]
		}
	}
	return ycc
}
