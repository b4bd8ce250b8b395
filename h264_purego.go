//go:build (darwin || linux) && !noh264

// H.264 encoding via libmedia_h264 loaded at runtime with purego.

package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	mediaH264Once    sync.Once
	mediaH264Handle  uintptr
	mediaH264InitErr error
)

// libmedia_h264 function pointers
var (
	mediaH264EncoderCreate        func(width, height, fps, bitrateKbps, profile, threads int32) uint64
	mediaH264EncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType, outPts, outDts uintptr) int32
	mediaH264EncoderMaxOutputSize func(encoder uint64) int32
	mediaH264EncoderRequestKF     func(encoder uint64)
	mediaH264EncoderGetSPSPPS     func(encoder uint64, spsOut uintptr, spsCapacity int32, spsLen uintptr, ppsOut uintptr, ppsCapacity int32, ppsLen uintptr) int32
	mediaH264EncoderDestroy       func(encoder uint64)

	mediaH264GetError         func() uintptr
	mediaH264EncoderAvailable func() int32
)

// Constants from media_h264.h
const (
	mediaH264FrameI   = 0
	mediaH264FrameIDR = 3
)

// mediaH264EncodeOut holds output parameters of an encode call. It lives
// on the heap so the C side never writes into a Go stack that may move.
type mediaH264EncodeOut struct {
	FrameType int32
	PTS       int64
	DTS       int64
}

func loadMediaH264() error {
	mediaH264Once.Do(func() {
		mediaH264InitErr = loadMediaH264Lib()
	})
	return mediaH264InitErr
}

func loadMediaH264Lib() error {
	var lastErr error
	for _, path := range getMediaH264LibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		mediaH264Handle = handle
		loadMediaH264Symbols()
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_h264: %w", lastErr)
	}
	return errors.New("libmedia_h264 not found in any standard location")
}

func getMediaH264LibPaths() []string {
	var paths []string

	libName := "libmedia_h264.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_h264.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("MEDIA_H264_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("MEDIA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	for _, root := range []string{findSourceRoot(), findModuleRoot()} {
		if root != "" {
			paths = append(paths, filepath.Join(root, "build", libName))
		}
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}

	return paths
}

func loadMediaH264Symbols() {
	purego.RegisterLibFunc(&mediaH264EncoderCreate, mediaH264Handle, "media_h264_encoder_create")
	purego.RegisterLibFunc(&mediaH264EncoderEncode, mediaH264Handle, "media_h264_encoder_encode")
	purego.RegisterLibFunc(&mediaH264EncoderMaxOutputSize, mediaH264Handle, "media_h264_encoder_max_output_size")
	purego.RegisterLibFunc(&mediaH264EncoderRequestKF, mediaH264Handle, "media_h264_encoder_request_keyframe")
	purego.RegisterLibFunc(&mediaH264EncoderGetSPSPPS, mediaH264Handle, "media_h264_encoder_get_sps_pps")
	purego.RegisterLibFunc(&mediaH264EncoderDestroy, mediaH264Handle, "media_h264_encoder_destroy")
	purego.RegisterLibFunc(&mediaH264GetError, mediaH264Handle, "media_h264_get_error")
	purego.RegisterLibFunc(&mediaH264EncoderAvailable, mediaH264Handle, "media_h264_encoder_available")
}

// IsH264EncoderAvailable checks if the native H.264 encoder can be used.
func IsH264EncoderAvailable() bool {
	if err := loadMediaH264(); err != nil {
		return false
	}
	return mediaH264EncoderAvailable() != 0
}

func getH264Error() string {
	ptr := mediaH264GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// H264Encoder implements VideoEncoder on top of libmedia_h264 (x264).
type H264Encoder struct {
	config VideoEncoderConfig

	handle    uint64
	outputBuf []byte
	out       *mediaH264EncodeOut

	stats   EncoderStats
	statsMu sync.Mutex

	keyframeReq atomic.Bool
	mu          sync.Mutex

	// Parameter sets in Annex-B form, prepended to keyframes that lack them.
	paramSets []byte
}

// NewH264Encoder creates a new native H.264 encoder.
func NewH264Encoder(config VideoEncoderConfig) (*H264Encoder, error) {
	if err := loadMediaH264(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderNotFound, err)
	}
	if mediaH264EncoderAvailable() == 0 {
		return nil, fmt.Errorf("%w: x264 not compiled into libmedia_h264", ErrProviderNotFound)
	}

	threads := config.Threads
	if threads <= 0 {
		threads = 4
	}
	bitrateKbps := config.BitrateBps / 1000
	if bitrateKbps <= 0 {
		bitrateKbps = 1000
	}

	handle := mediaH264EncoderCreate(
		int32(config.Width),
		int32(config.Height),
		int32(config.FPS),
		int32(bitrateKbps),
		int32(config.H264Profile.ProfileIDC()),
		int32(threads),
	)
	if handle == 0 {
		return nil, fmt.Errorf("failed to create H.264 encoder: %s", getH264Error())
	}

	maxOutput := mediaH264EncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(config.Width * config.Height * 3 / 2)
	}

	enc := &H264Encoder{
		config:    config,
		handle:    handle,
		outputBuf: make([]byte, maxOutput),
		out:       &mediaH264EncodeOut{},
	}
	enc.keyframeReq.Store(true)
	enc.extractParamSets()

	return enc, nil
}

func (e *H264Encoder) extractParamSets() {
	spsOut := make([]byte, 256)
	ppsOut := make([]byte, 256)
	lens := &[2]int32{}

	mediaH264EncoderGetSPSPPS(
		e.handle,
		uintptr(unsafe.Pointer(&spsOut[0])), 256, uintptr(unsafe.Pointer(&lens[0])),
		uintptr(unsafe.Pointer(&ppsOut[0])), 256, uintptr(unsafe.Pointer(&lens[1])),
	)

	e.paramSets = nil
	for i, buf := range [][]byte{spsOut, ppsOut} {
		n := int(lens[i])
		if n <= 0 || n > len(buf) {
			continue
		}
		ps := buf[:n]
		if !hasStartCode(ps) {
			e.paramSets = append(e.paramSets, 0, 0, 0, 1)
		}
		e.paramSets = append(e.paramSets, ps...)
	}
}

func hasStartCode(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0, 0, 1}) || bytes.HasPrefix(b, []byte{0, 0, 0, 1})
}

// Encode implements VideoEncoder.
func (e *H264Encoder) Encode(frame *VideoFrame) (*EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return nil, fmt.Errorf("encoder closed")
	}
	if frame.Width != e.config.Width || frame.Height != e.config.Height {
		return nil, fmt.Errorf("frame %dx%d does not match encoder %dx%d",
			frame.Width, frame.Height, e.config.Width, e.config.Height)
	}

	forceKeyframe := int32(0)
	if e.keyframeReq.Swap(false) {
		forceKeyframe = 1
	}

	result := mediaH264EncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0][0])),
		uintptr(unsafe.Pointer(&frame.Data[1][0])),
		uintptr(unsafe.Pointer(&frame.Data[2][0])),
		int32(frame.Stride[0]),
		int32(frame.Stride[1]),
		forceKeyframe,
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
		uintptr(unsafe.Pointer(&e.out.FrameType)),
		uintptr(unsafe.Pointer(&e.out.PTS)),
		uintptr(unsafe.Pointer(&e.out.DTS)),
	)

	if result < 0 {
		return nil, fmt.Errorf("encode failed: %s", getH264Error())
	}
	if result == 0 {
		return nil, nil
	}

	ft := FrameTypeDelta
	if e.out.FrameType == mediaH264FrameIDR || e.out.FrameType == mediaH264FrameI {
		ft = FrameTypeKey
	}

	payload := e.outputBuf[:result]
	var data []byte
	if ft == FrameTypeKey && !hasParameterSets(payload) {
		data = make([]byte, 0, len(e.paramSets)+len(payload))
		data = append(data, e.paramSets...)
		data = append(data, payload...)
	} else {
		data = make([]byte, len(payload))
		copy(data, payload)
	}

	e.statsMu.Lock()
	e.stats.FramesEncoded++
	if ft == FrameTypeKey {
		e.stats.KeyframesEncoded++
	}
	e.stats.BytesEncoded += uint64(len(data))
	e.statsMu.Unlock()

	return &EncodedFrame{
		Data:      data,
		FrameType: ft,
		Index:     frame.Index,
	}, nil
}

// RequestKeyframe implements VideoEncoder.
func (e *H264Encoder) RequestKeyframe() {
	e.keyframeReq.Store(true)
	e.mu.Lock()
	if e.handle != 0 {
		mediaH264EncoderRequestKF(e.handle)
	}
	e.mu.Unlock()
}

// Provider implements VideoEncoder.
func (e *H264Encoder) Provider() Provider {
	return ProviderX264
}

// Config implements VideoEncoder.
func (e *H264Encoder) Config() VideoEncoderConfig {
	return e.config
}

// Stats implements VideoEncoder.
func (e *H264Encoder) Stats() EncoderStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Flush implements VideoEncoder. The wrapper runs x264 with zero-latency
// tuning, so nothing is held back.
func (e *H264Encoder) Flush() ([]*EncodedFrame, error) {
	return nil, nil
}

// Close implements VideoEncoder.
func (e *H264Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		mediaH264EncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

func init() {
	if IsH264EncoderAvailable() {
		RegisterVideoEncoder(VideoCodecH264, ProviderX264, func(config VideoEncoderConfig) (VideoEncoder, error) {
			return NewH264Encoder(config)
		})
	}
}
