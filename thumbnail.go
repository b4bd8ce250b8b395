package recorder

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// Thumbnail dimensions.
const (
	ThumbnailWidth  = 320
	ThumbnailHeight = 180
)

// ThumbnailPath returns where the thumbnail for a recording lives:
// <dir>/thumbnails/<name>.png next to the video.
func ThumbnailPath(videoPath string) string {
	dir, file := filepath.Split(videoPath)
	name := strings.TrimSuffix(file, filepath.Ext(file))
	return filepath.Join(dir, "thumbnails", name+".png")
}

// WriteThumbnail resizes img to 320x180 and writes it as PNG to path,
// through a temp file so a failed write leaves nothing behind.
func WriteThumbnail(path string, img image.Image) error {
	thumb := image.NewRGBA(image.Rect(0, 0, ThumbnailWidth, ThumbnailHeight))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Src, nil)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".thumb.*.tmp")
	if err != nil {
		return fmt.Errorf("create thumbnail: %w", err)
	}

	err = png.Encode(tmp, thumb)
	if cerr := tmp.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write thumbnail: %w", err)
	}
	return nil
}
