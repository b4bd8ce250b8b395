package recorder

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/pmp4"
)

// ErrNoVideo is returned when the elementary stream holds nothing to mux.
var ErrNoVideo = errors.New("no video in stream")

const (
	videoTimeScale     = 90000
	audioSamplesPerBox = 1024
)

// MuxConfig describes the container to write.
type MuxConfig struct {
	Path      string  // Destination; the extension is forced to .mp4
	FrameRate float64 // Video frame rate written to the container
	Width     int     // Expected width (0 = take it from the SPS)
	Height    int     // Expected height (0 = take it from the SPS)
}

// MuxResult describes a written MP4 file.
type MuxResult struct {
	Path          string
	Width         int
	Height        int
	VideoFrames   int
	Keyframes     int
	VideoDuration time.Duration
	AudioDuration time.Duration
	Size          int64
}

// NormalizeMP4Path forces a .mp4 extension, replacing a media extension
// if present.
func NormalizeMP4Path(path string) string {
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".mp4", ".m4v", ".mov", ".h264", ".264":
		return strings.TrimSuffix(path, ext) + ".mp4"
	}
	return path + ".mp4"
}

// MuxMP4 packages an Annex-B H.264 stream and an optional PCM buffer into
// an MP4 file. The file appears at its final path only if the whole write
// succeeded.
func MuxMP4(cfg MuxConfig, stream []byte, audio *AudioBuffer) (*MuxResult, error) {
	if cfg.FrameRate <= 0 || math.IsInf(cfg.FrameRate, 0) || math.IsNaN(cfg.FrameRate) {
		return nil, fmt.Errorf("invalid frame rate %v", cfg.FrameRate)
	}
	if cfg.Path == "" {
		return nil, errors.New("mux: empty output path")
	}

	if len(stream) == 0 {
		return nil, fmt.Errorf("%w: empty stream", ErrNoVideo)
	}
	nalus, err := splitAnnexB(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoVideo, err)
	}
	sps, pps := findParamSets(nalus)
	if sps == nil || pps == nil {
		return nil, fmt.Errorf("%w: missing SPS/PPS", ErrNoVideo)
	}
	units := splitAccessUnits(nalus)
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: no access units", ErrNoVideo)
	}

	var info h264.SPS
	if err := info.Unmarshal(sps); err != nil {
		return nil, fmt.Errorf("parse SPS: %w", err)
	}
	width, height := info.Width(), info.Height()
	if (cfg.Width != 0 && cfg.Width != width) || (cfg.Height != 0 && cfg.Height != height) {
		return nil, fmt.Errorf("%w: stream is %dx%d, expected %dx%d",
			ErrInvalidResolution, width, height, cfg.Width, cfg.Height)
	}

	res := &MuxResult{
		Path:   NormalizeMP4Path(cfg.Path),
		Width:  width,
		Height: height,
	}

	videoTrack := &pmp4.Track{
		ID:        1,
		TimeScale: videoTimeScale,
		Codec:     &mp4.CodecH264{SPS: sps, PPS: pps},
	}
	dts := func(i int) uint64 {
		return uint64(math.Round(float64(i) * videoTimeScale / cfg.FrameRate))
	}
	for i, au := range units {
		payload, err := marshalAVCC(au.nalus)
		if err != nil {
			return nil, fmt.Errorf("access unit %d: %w", i, err)
		}
		videoTrack.Samples = append(videoTrack.Samples, &pmp4.Sample{
			Duration:        uint32(dts(i+1) - dts(i)),
			IsNonSyncSample: !au.idr,
			PayloadSize:     uint32(len(payload)),
			GetPayload:      func() ([]byte, error) { return payload, nil },
		})
		if au.idr {
			res.Keyframes++
		}
	}
	res.VideoFrames = len(units)
	res.VideoDuration = time.Duration(dts(len(units))) * time.Second / videoTimeScale

	pres := &pmp4.Presentation{Tracks: []*pmp4.Track{videoTrack}}
	if audio != nil && audio.Frames() > 0 {
		track, frames := audioTrack(audio)
		pres.Tracks = append(pres.Tracks, track)
		res.AudioDuration = time.Duration(frames) * time.Second / time.Duration(audio.SampleRate)
	}

	size, err := writeAtomic(res.Path, pres)
	if err != nil {
		return nil, err
	}
	res.Size = size
	return res, nil
}

// audioTrack builds an LPCM s16le track with one sample per 1024 frames.
func audioTrack(audio *AudioBuffer) (*pmp4.Track, int) {
	pcm := audio.S16LE()
	frameBytes := audio.Channels * 2
	chunk := audioSamplesPerBox * frameBytes

	track := &pmp4.Track{
		ID:        2,
		TimeScale: uint32(audio.SampleRate),
		Codec: &mp4.CodecLPCM{
			LittleEndian: true,
			BitDepth:     16,
			SampleRate:   audio.SampleRate,
			ChannelCount: audio.Channels,
		},
	}

	frames := 0
	for off := 0; off < len(pcm); off += chunk {
		payload := pcm[off:min(off+chunk, len(pcm))]
		n := len(payload) / frameBytes
		if n == 0 {
			break
		}
		frames += n
		track.Samples = append(track.Samples, &pmp4.Sample{
			Duration:    uint32(n),
			PayloadSize: uint32(len(payload)),
			GetPayload:  func() ([]byte, error) { return payload, nil },
		})
	}
	return track, frames
}

func findParamSets(nalus [][]byte) (sps, pps []byte) {
	for _, nalu := range nalus {
		switch naluType(nalu) {
		case h264.NALUTypeSPS:
			if sps == nil {
				sps = nalu
			}
		case h264.NALUTypePPS:
			if pps == nil {
				pps = nalu
			}
		}
		if sps != nil && pps != nil {
			break
		}
	}
	return sps, pps
}

// writeAtomic marshals pres next to path and renames it into place.
func writeAtomic(path string, pres *pmp4.Presentation) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	err = pres.Marshal(tmp)
	if err != nil {
		err = fmt.Errorf("write mp4: %w", err)
	}
	var size int64
	if err == nil {
		var fi os.FileInfo
		if fi, err = tmp.Stat(); err == nil {
			size = fi.Size()
		}
	}
	if cerr := tmp.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close mp4: %w", cerr)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	return size, nil
}
