package recorder

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThumbnailPath(t *testing.T) {
	assert.Equal(t, filepath.Join("videos", "thumbnails", "clip.png"), ThumbnailPath(filepath.Join("videos", "clip.mp4")))
	assert.Equal(t, filepath.Join("thumbnails", "a.b.png"), ThumbnailPath("a.b.mp4"))
}

func TestWriteThumbnail(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 640, 360))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 200, 40, 40, 255
	}

	path := ThumbnailPath(filepath.Join(t.TempDir(), "clip.mp4"))
	require.NoError(t, WriteThumbnail(path, src))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, ThumbnailWidth, ThumbnailHeight), img.Bounds())
	c := color.RGBAModel.Convert(img.At(160, 90)).(color.RGBA)
	assert.InDelta(t, 200, int(c.R), 1)
	assert.InDelta(t, 40, int(c.G), 1)
	assert.InDelta(t, 40, int(c.B), 1)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteThumbnail_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "thumbnails")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := WriteThumbnail(filepath.Join(blocker, "clip.png"), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	assert.Error(t, err)
}
