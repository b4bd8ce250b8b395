package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func audioSeconds(t *testing.T, d time.Duration) *AudioBuffer {
	t.Helper()
	buf := NewAudioBuffer(48000, 2, AudioFormatS16)
	require.NoError(t, buf.Append(pcmSeconds(d)))
	return buf
}

func TestMuxMP4_VideoAndAudio(t *testing.T) {
	dir := t.TempDir()
	res, err := MuxMP4(MuxConfig{
		Path:      filepath.Join(dir, "clip"),
		FrameRate: 24,
		Width:     64,
		Height:    48,
	}, testStream(64, 48, 48, 12), audioSeconds(t, 2*time.Second))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "clip.mp4"), res.Path)
	assert.Equal(t, 48, res.VideoFrames)
	assert.Equal(t, 4, res.Keyframes)
	assert.Equal(t, 2*time.Second, res.VideoDuration)
	assert.Equal(t, 2*time.Second, res.AudioDuration)

	fi, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), res.Size)

	video, audio := probeMP4(t, res.Path)
	require.NotNil(t, video)
	require.NotNil(t, audio)
	assert.Equal(t, 48, video.samples)
	assert.Equal(t, 2*time.Second, video.duration)
	assert.Equal(t, 2*time.Second, audio.duration)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestMuxMP4_VideoOnly(t *testing.T) {
	res, err := MuxMP4(MuxConfig{
		Path:      filepath.Join(t.TempDir(), "video.h264"),
		FrameRate: 30,
	}, testStream(64, 48, 30, 30), nil)
	require.NoError(t, err)
	assert.Equal(t, ".mp4", filepath.Ext(res.Path))
	assert.Zero(t, res.AudioDuration)

	video, audio := probeMP4(t, res.Path)
	require.NotNil(t, video)
	assert.Nil(t, audio)
	assert.Equal(t, time.Second, video.duration)
}

func TestMuxMP4_FractionalFrameRate(t *testing.T) {
	res, err := MuxMP4(MuxConfig{
		Path:      filepath.Join(t.TempDir(), "ntsc"),
		FrameRate: 29.97,
	}, testStream(64, 48, 30, 15), nil)
	require.NoError(t, err)
	assert.Equal(t, 1001*time.Millisecond, res.VideoDuration)

	video, _ := probeMP4(t, res.Path)
	assert.Equal(t, res.VideoDuration, video.duration)
}

func TestMuxMP4_CroppedDimensions(t *testing.T) {
	res, err := MuxMP4(MuxConfig{
		Path:      filepath.Join(t.TempDir(), "odd"),
		FrameRate: 30,
	}, testStream(100, 60, 3, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Width)
	assert.Equal(t, 60, res.Height)
}

func TestMuxMP4_DimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	_, err := MuxMP4(MuxConfig{
		Path:      filepath.Join(dir, "clip"),
		FrameRate: 30,
		Width:     1280,
		Height:    720,
	}, testStream(64, 48, 3, 3), nil)
	require.ErrorIs(t, err, ErrInvalidResolution)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMuxMP4_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip")

	_, err := MuxMP4(MuxConfig{Path: path, FrameRate: 30}, annexB(testSlice(true, 0)), nil)
	assert.ErrorIs(t, err, ErrNoVideo)

	_, err = MuxMP4(MuxConfig{Path: path, FrameRate: 30}, nil, nil)
	assert.ErrorIs(t, err, ErrNoVideo)

	_, err = MuxMP4(MuxConfig{Path: path, FrameRate: 30}, annexB(testSPS(64, 48), testPPS), nil)
	assert.ErrorIs(t, err, ErrNoVideo)

	_, err = MuxMP4(MuxConfig{Path: path, FrameRate: 0}, testStream(64, 48, 1, 1), nil)
	assert.Error(t, err)

	_, err = MuxMP4(MuxConfig{FrameRate: 30}, testStream(64, 48, 1, 1), nil)
	assert.Error(t, err)

	_, err = os.Stat(path + ".mp4")
	assert.True(t, os.IsNotExist(err))
}

func TestMuxMP4_UnwritableDestination(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := MuxMP4(MuxConfig{
		Path:      filepath.Join(blocker, "clip"),
		FrameRate: 30,
	}, testStream(64, 48, 3, 3), nil)
	assert.Error(t, err)
}

func TestNormalizeMP4Path(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"clip", "clip.mp4"},
		{"clip.mp4", "clip.mp4"},
		{"clip.MOV", "clip.mp4"},
		{"dir/clip.h264", "dir/clip.mp4"},
		{"clip.264", "clip.mp4"},
		{"clip.m4v", "clip.mp4"},
		{"my.clip", "my.clip.mp4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMP4Path(tt.in), tt.in)
	}
}
