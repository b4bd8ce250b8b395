package recorder

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// annexBChunkSize bounds how much of a stream is handed to the Annex-B
// decoder at once; it refuses buffers over h264.MaxAccessUnitSize.
const annexBChunkSize = 1 << 20

var annexBStartCode = []byte{0, 0, 1}

// splitAnnexB splits an Annex-B elementary stream into NAL units. Long
// streams are cut at start codes into chunks the decoder accepts.
func splitAnnexB(stream []byte) ([][]byte, error) {
	var nalus [][]byte
	for len(stream) > 0 {
		cut := len(stream)
		if cut > annexBChunkSize {
			if i := bytes.Index(stream[annexBChunkSize:], annexBStartCode); i >= 0 {
				cut = annexBChunkSize + i
				if stream[cut-1] == 0 {
					cut-- // four-byte start code
				}
			}
		}

		var au h264.AnnexB
		if err := au.Unmarshal(stream[:cut]); err != nil {
			return nil, err
		}
		nalus = append(nalus, au...)
		stream = stream[cut:]
	}
	return nalus, nil
}

func naluType(nalu []byte) h264.NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return h264.NALUType(nalu[0] & 0x1F)
}

func isVCL(t h264.NALUType) bool {
	return t >= h264.NALUTypeNonIDR && t <= h264.NALUTypeIDR
}

// hasParameterSets reports whether an Annex-B payload carries an SPS.
func hasParameterSets(data []byte) bool {
	var au h264.AnnexB
	if au.Unmarshal(data) != nil {
		return false
	}
	for _, nalu := range au {
		if naluType(nalu) == h264.NALUTypeSPS {
			return true
		}
	}
	return false
}

// accessUnit is one picture worth of NAL units.
type accessUnit struct {
	nalus [][]byte
	idr   bool
}

// splitAccessUnits groups NAL units into access units. A new unit starts
// at an access unit delimiter, at a parameter set or SEI following a
// slice, or at a slice whose first_mb_in_slice is zero (the leading bit
// of its exp-Golomb code is set).
func splitAccessUnits(nalus [][]byte) []accessUnit {
	var units []accessUnit
	var cur accessUnit
	sawSlice := false

	flush := func() {
		if len(cur.nalus) > 0 && sawSlice {
			units = append(units, cur)
		}
		cur = accessUnit{}
		sawSlice = false
	}

	for _, nalu := range nalus {
		t := naluType(nalu)
		switch {
		case t == h264.NALUTypeAccessUnitDelimiter:
			flush()
			continue
		case t == h264.NALUTypeSPS || t == h264.NALUTypePPS || t == h264.NALUTypeSEI:
			if sawSlice {
				flush()
			}
		case isVCL(t):
			firstMB := len(nalu) > 1 && nalu[1]&0x80 != 0
			if sawSlice && firstMB {
				flush()
			}
			sawSlice = true
			if t == h264.NALUTypeIDR {
				cur.idr = true
			}
		}
		cur.nalus = append(cur.nalus, nalu)
	}
	flush()
	return units
}

// marshalAVCC converts an access unit to a length-prefixed sample,
// skipping parameter sets, which live in the sample description instead.
func marshalAVCC(nalus [][]byte) ([]byte, error) {
	sample := make(h264.AVCC, 0, len(nalus))
	for _, nalu := range nalus {
		if t := naluType(nalu); t == h264.NALUTypeSPS || t == h264.NALUTypePPS {
			continue
		}
		sample = append(sample, nalu)
	}
	return sample.Marshal()
}
