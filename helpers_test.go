package recorder

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"sync"
	"testing"
	"time"

	gomp4 "github.com/abema/go-mp4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var startCode = []byte{0, 0, 0, 1}

// bitWriter writes MSB-first bit fields and exp-Golomb codes.
type bitWriter struct {
	buf []byte
	n   uint
}

func (w *bitWriter) bit(b uint64) {
	if w.n%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b&1 != 0 {
		w.buf[len(w.buf)-1] |= 0x80 >> (w.n % 8)
	}
	w.n++
}

func (w *bitWriter) bits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bit(v >> uint(i))
	}
}

func (w *bitWriter) ue(v uint64) {
	v++
	n := bits.Len64(v)
	w.bits(0, n-1)
	w.bits(v, n)
}

func (w *bitWriter) trailing() {
	w.bit(1)
	for w.n%8 != 0 {
		w.bit(0)
	}
}

// escapeRBSP inserts emulation prevention bytes.
func escapeRBSP(b []byte) []byte {
	out := make([]byte, 0, len(b)+4)
	zeros := 0
	for _, c := range b {
		if zeros >= 2 && c <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, c)
		if c == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// testSPS builds a Baseline SPS for a w x h picture, cropping when the
// size is not a multiple of 16.
func testSPS(w, h int) []byte {
	mbW, mbH := (w+15)/16, (h+15)/16
	var bw bitWriter
	bw.bits(66, 8)   // profile_idc
	bw.bits(0xC0, 8) // constraint_set0/1
	bw.bits(30, 8)   // level_idc
	bw.ue(0)         // seq_parameter_set_id
	bw.ue(0)         // log2_max_frame_num_minus4
	bw.ue(2)         // pic_order_cnt_type
	bw.ue(1)         // max_num_ref_frames
	bw.bit(0)        // gaps_in_frame_num_value_allowed_flag
	bw.ue(uint64(mbW - 1))
	bw.ue(uint64(mbH - 1))
	bw.bit(1) // frame_mbs_only_flag
	bw.bit(1) // direct_8x8_inference_flag
	if mbW*16 != w || mbH*16 != h {
		bw.bit(1)
		bw.ue(0)
		bw.ue(uint64(mbW*16-w) / 2)
		bw.ue(0)
		bw.ue(uint64(mbH*16-h) / 2)
	} else {
		bw.bit(0)
	}
	bw.bit(0) // vui_parameters_present_flag
	bw.trailing()
	return append([]byte{0x67}, escapeRBSP(bw.buf)...)
}

var testPPS = []byte{0x68, 0xCE, 0x38, 0x80}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, startCode...)
		out = append(out, n...)
	}
	return out
}

func mustSplitAnnexB(t testing.TB, stream []byte) [][]byte {
	t.Helper()
	nalus, err := splitAnnexB(stream)
	require.NoError(t, err)
	return nalus
}

// testSlice builds a slice NAL with first_mb_in_slice == 0. Payload bytes
// are never zero so no start code can appear inside.
func testSlice(idr bool, index uint64) []byte {
	hdr := byte(0x41)
	if idr {
		hdr = 0x65
	}
	return []byte{hdr, 0x88, 0x84, byte(index) | 1, byte(index>>8) | 1, 0xFF}
}

// testStream builds an Annex-B stream of n access units with an IDR
// every gop frames.
func testStream(w, h, n, gop int) []byte {
	var out []byte
	sps := testSPS(w, h)
	for i := 0; i < n; i++ {
		if i%gop == 0 {
			out = append(out, annexB(sps, testPPS, testSlice(true, uint64(i)))...)
		} else {
			out = append(out, annexB(testSlice(false, uint64(i)))...)
		}
	}
	return out
}

// fakeH264Encoder emits structurally valid Annex-B access units without
// compressing anything.
type fakeH264Encoder struct {
	cfg      VideoEncoderConfig
	sps      []byte
	keyframe bool
	failAt   int64
	closed   bool
	encoded  []uint64
	stats    EncoderStats
}

func newFakeH264Encoder(cfg VideoEncoderConfig) (VideoEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &fakeH264Encoder{cfg: cfg, sps: testSPS(cfg.Width, cfg.Height), keyframe: true, failAt: -1}, nil
}

func (e *fakeH264Encoder) Encode(f *VideoFrame) (*EncodedFrame, error) {
	if e.closed {
		return nil, errors.New("encoder closed")
	}
	if f.Width != e.cfg.Width || f.Height != e.cfg.Height {
		return nil, fmt.Errorf("frame %dx%d does not match encoder %dx%d", f.Width, f.Height, e.cfg.Width, e.cfg.Height)
	}
	if e.failAt >= 0 && f.Index == uint64(e.failAt) {
		return nil, errors.New("synthetic encoder failure")
	}

	key := e.keyframe
	e.keyframe = false
	out := &EncodedFrame{Index: f.Index, FrameType: FrameTypeDelta}
	if key {
		out.FrameType = FrameTypeKey
		out.Data = annexB(e.sps, testPPS, testSlice(true, f.Index))
		e.stats.KeyframesEncoded++
	} else {
		out.Data = annexB(testSlice(false, f.Index))
	}
	e.stats.FramesEncoded++
	e.stats.BytesEncoded += uint64(len(out.Data))
	e.encoded = append(e.encoded, f.Index)
	return out, nil
}

func (e *fakeH264Encoder) RequestKeyframe()                { e.keyframe = true }
func (e *fakeH264Encoder) Provider() Provider              { return ProviderCustom }
func (e *fakeH264Encoder) Config() VideoEncoderConfig      { return e.cfg }
func (e *fakeH264Encoder) Stats() EncoderStats             { return e.stats }
func (e *fakeH264Encoder) Flush() ([]*EncodedFrame, error) { return nil, nil }

func (e *fakeH264Encoder) Close() error {
	e.closed = true
	return nil
}

// fakeClock is a settable clock for sessions.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// recordingObserver keeps every notification it receives.
type recordingObserver struct {
	mu        sync.Mutex
	recording []bool
	states    []WritingState
	previews  int
}

func (o *recordingObserver) MarkRecordingState(on bool) {
	o.mu.Lock()
	o.recording = append(o.recording, on)
	o.mu.Unlock()
}

func (o *recordingObserver) MarkWritingState(s WritingState) {
	o.mu.Lock()
	o.states = append(o.states, s)
	o.mu.Unlock()
}

func (o *recordingObserver) Preview(*CapturedFrame) {
	o.mu.Lock()
	o.previews++
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() ([]bool, []WritingState, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.recording...), append([]WritingState(nil), o.states...), o.previews
}

func nullLogger() (*logrus.Entry, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(l), hook
}

type trackInfo struct {
	samples  int
	duration time.Duration
}

// probeMP4 returns the video (AVC) and other (audio) track summaries.
func probeMP4(t *testing.T, path string) (video, audio *trackInfo) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	info, err := gomp4.Probe(f)
	require.NoError(t, err)

	for _, tr := range info.Tracks {
		var sum uint64
		for _, s := range tr.Samples {
			sum += uint64(s.TimeDelta)
		}
		ti := &trackInfo{
			samples:  len(tr.Samples),
			duration: time.Duration(sum) * time.Second / time.Duration(tr.Timescale),
		}
		if tr.Codec == gomp4.CodecAVC1 {
			video = ti
		} else {
			audio = ti
		}
	}
	return video, audio
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// pcmSeconds returns d worth of silent stereo 48 kHz S16 samples.
func pcmSeconds(d time.Duration) *AudioSamples {
	frames := int(d * 48000 / time.Second)
	return &AudioSamples{
		Data:        make([]byte, frames*2*2),
		SampleRate:  48000,
		Channels:    2,
		SampleCount: frames,
		Format:      AudioFormatS16,
	}
}
