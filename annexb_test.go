package recorder

import (
	"encoding/binary"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAnnexB(t *testing.T) {
	data := []byte{
		0, 0, 0, 1, 0x67, 0x42,
		0, 0, 1, 0x68, 0xCE,
		0, 0, 0, 1, 0x65, 0x88, 0x01,
	}
	nalus, err := splitAnnexB(data)
	require.NoError(t, err)
	require.Len(t, nalus, 3)
	assert.Equal(t, []byte{0x67, 0x42}, nalus[0])
	assert.Equal(t, []byte{0x68, 0xCE}, nalus[1])
	assert.Equal(t, []byte{0x65, 0x88, 0x01}, nalus[2])

	nalus, err = splitAnnexB(nil)
	require.NoError(t, err)
	assert.Empty(t, nalus)

	_, err = splitAnnexB([]byte{0x65, 0x88})
	assert.ErrorIs(t, err, h264.ErrAnnexBNoInitialDelimiter)
}

func TestSplitAnnexB_LongStream(t *testing.T) {
	// Slices of ~100 KiB so the stream spans several decoder chunks.
	big := make([]byte, 100<<10)
	for i := range big {
		big[i] = 0xA5
	}
	var stream []byte
	var want [][]byte
	for i := 0; i < 40; i++ {
		nalu := append([]byte{0x41, 0x88, byte(i) | 1}, big...)
		want = append(want, nalu)
		stream = append(stream, annexB(nalu)...)
	}
	require.Greater(t, len(stream), 3*annexBChunkSize)

	nalus, err := splitAnnexB(stream)
	require.NoError(t, err)
	require.Len(t, nalus, len(want))
	for i := range want {
		assert.Equal(t, want[i], nalus[i], "nalu %d", i)
	}
}

func TestHasParameterSets(t *testing.T) {
	assert.True(t, hasParameterSets(annexB(testSPS(64, 48), testPPS, testSlice(true, 0))))
	assert.False(t, hasParameterSets(annexB(testSlice(false, 1))))
}

func TestSplitAccessUnits(t *testing.T) {
	stream := testStream(64, 48, 10, 4)
	units := splitAccessUnits(mustSplitAnnexB(t, stream))
	require.Len(t, units, 10)

	for i, au := range units {
		assert.Equal(t, i%4 == 0, au.idr, "unit %d", i)
	}
	assert.Len(t, units[0].nalus, 3)
	assert.Len(t, units[1].nalus, 1)
}

func TestSplitAccessUnits_MultiSlice(t *testing.T) {
	// Second slice of the same picture: first_mb_in_slice != 0.
	second := []byte{0x65, 0x40, 0x81}
	nalus := [][]byte{
		{byte(h264.NALUTypeAccessUnitDelimiter), 0xF0},
		testSPS(64, 48), testPPS, testSlice(true, 0), second,
		{byte(h264.NALUTypeAccessUnitDelimiter), 0xF0},
		testSlice(false, 1),
	}
	units := splitAccessUnits(nalus)
	require.Len(t, units, 2)
	assert.Len(t, units[0].nalus, 4)
	assert.True(t, units[0].idr)
	assert.False(t, units[1].idr)
}

func TestSplitAccessUnits_DropsUnitsWithoutSlices(t *testing.T) {
	units := splitAccessUnits([][]byte{testSPS(64, 48), testPPS})
	assert.Empty(t, units)
}

func TestMarshalAVCC(t *testing.T) {
	nalus := [][]byte{testSPS(64, 48), testPPS, testSlice(true, 7)}
	out, err := marshalAVCC(nalus)
	require.NoError(t, err)

	slice := testSlice(true, 7)
	require.Len(t, out, 4+len(slice))
	assert.Equal(t, uint32(len(slice)), binary.BigEndian.Uint32(out))
	assert.Equal(t, slice, out[4:])

	var back h264.AVCC
	require.NoError(t, back.Unmarshal(out))
	assert.Equal(t, h264.AVCC{slice}, back)
}

func TestTestSPSDimensions(t *testing.T) {
	for _, tc := range []struct{ w, h int }{{64, 48}, {100, 60}, {1280, 720}, {1920, 1080}} {
		var sps h264.SPS
		require.NoError(t, sps.Unmarshal(testSPS(tc.w, tc.h)))
		assert.Equal(t, tc.w, sps.Width())
		assert.Equal(t, tc.h, sps.Height())
	}
}
