package recorder

import (
	"io"
	"math/rand/v2"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

const rtpHeaderSize = 12

// RTPTapConfig configures an RTPTap.
type RTPTapConfig struct {
	SSRC        uint32 // 0 = random
	PayloadType uint8  // 0 = 102
	MTU         int    // Max datagram size (default: 1200)
	Logger      *logrus.Entry
}

// RTPTapStats provides preview metrics.
type RTPTapStats struct {
	Frames      uint64
	Packets     uint64
	Bytes       uint64
	WriteErrors uint64
	Malformed   uint64 // Access units that did not parse as Annex-B
}

// RTPTap is an EncodedTap that packetizes every access unit to RTP/H.264
// (RFC 6184 single NAL and FU-A) and writes one datagram per packet to w.
// Write errors are counted and never reach the recording.
type RTPTap struct {
	w           io.Writer
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	log         *logrus.Entry

	mu    sync.Mutex
	stats RTPTapStats
}

// NewRTPTap creates a tap writing datagrams to w, typically a UDP conn.
func NewRTPTap(w io.Writer, cfg RTPTapConfig) *RTPTap {
	if cfg.SSRC == 0 {
		cfg.SSRC = rand.Uint32()
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = VideoCodecH264.DefaultPayloadType()
	}
	if cfg.MTU <= rtpHeaderSize+2 {
		cfg.MTU = 1200
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RTPTap{
		w:           w,
		ssrc:        cfg.SSRC,
		payloadType: cfg.PayloadType,
		mtu:         cfg.MTU,
		sequencer:   rtp.NewRandomSequencer(),
		log:         log.WithField("stage", "preview"),
	}
}

// OnEncoded implements EncodedTap.
func (t *RTPTap) OnEncoded(frame *EncodedFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Frames++
	packets, err := t.packetize(frame)
	if err != nil {
		t.stats.Malformed++
		t.log.WithError(err).WithField("index", frame.Index).Debug("skipping malformed access unit")
		return
	}
	for _, pkt := range packets {
		buf, err := pkt.Marshal()
		if err == nil {
			_, err = t.w.Write(buf)
		}
		if err != nil {
			if t.stats.WriteErrors == 0 {
				t.log.WithError(err).Warn("preview write failed")
			}
			t.stats.WriteErrors++
			continue
		}
		t.stats.Packets++
		t.stats.Bytes += uint64(len(buf))
	}
}

// Stats returns preview statistics.
func (t *RTPTap) Stats() RTPTapStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// packetize splits an Annex-B access unit into RTP packets. The marker
// bit is set on the last packet of the access unit.
func (t *RTPTap) packetize(frame *EncodedFrame) ([]*rtp.Packet, error) {
	var nalus h264.AnnexB
	if err := nalus.Unmarshal(frame.Data); err != nil {
		return nil, err
	}
	maxPayload := t.mtu - rtpHeaderSize

	var packets []*rtp.Packet
	for i, nalu := range nalus {
		last := i == len(nalus)-1
		if len(nalu) <= maxPayload {
			packets = append(packets, t.packet(frame.Timestamp, last, nalu))
			continue
		}

		// FU-A: indicator keeps F and NRI, header carries S/E and the type.
		indicator := nalu[0]&0xE0 | byte(h264.NALUTypeFUA)
		typ := nalu[0] & 0x1F
		body := nalu[1:]
		chunk := maxPayload - 2
		for off := 0; off < len(body); off += chunk {
			end := min(off+chunk, len(body))
			header := typ
			if off == 0 {
				header |= 0x80
			}
			if end == len(body) {
				header |= 0x40
			}
			payload := make([]byte, 0, 2+end-off)
			payload = append(payload, indicator, header)
			payload = append(payload, body[off:end]...)
			packets = append(packets, t.packet(frame.Timestamp, last && end == len(body), payload))
		}
	}
	return packets, nil
}

func (t *RTPTap) packet(ts uint32, marker bool, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    t.payloadType,
			SequenceNumber: t.sequencer.NextSequenceNumber(),
			Timestamp:      ts,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	}
}
