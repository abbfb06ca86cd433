package packetizer

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeState() *State {
	return NewStateWithSSRC(96, 0xAABBCCDD)
}

// annexB builds an access unit from NAL units with 4-byte start codes.
func annexB(nalUnits ...[]byte) []byte {
	var buf bytes.Buffer
	for _, nal := range nalUnits {
		buf.Write(StartCode4)
		buf.Write(nal)
	}
	return buf.Bytes()
}

// reassemble strips FU-A framing and concatenates packet payloads back
// into NAL units, in emission order.
func reassemble(packets []*rtp.Packet) [][]byte {
	var nalUnits [][]byte
	var current []byte

	for _, p := range packets {
		payload := p.Payload
		if len(payload) >= 2 && payload[0]&0x1f == naluTypeFUA {
			fuIndicator, fuHeader := payload[0], payload[1]
			if fuHeader&0x80 != 0 {
				// start fragment: restore the original NAL header byte
				current = []byte{fuIndicator&0xe0 | fuHeader&0x1f}
			}
			current = append(current, payload[2:]...)
			if fuHeader&0x40 != 0 {
				nalUnits = append(nalUnits, current)
				current = nil
			}
		} else {
			nalUnits = append(nalUnits, payload)
		}
	}
	return nalUnits
}

// --- NAL extraction ---

func TestExtractSingleNAL4ByteStartCode(t *testing.T) {
	nals, err := ExtractNALUnits([]byte{0, 0, 0, 1, 0x65, 0xAA, 0xBB})
	require.NoError(t, err)
	require.Len(t, nals, 1)
	assert.Equal(t, []byte{0x65, 0xAA, 0xBB}, nals[0])
}

func TestExtractSingleNAL3ByteStartCode(t *testing.T) {
	nals, err := ExtractNALUnits([]byte{0, 0, 1, 0x67, 0x42, 0x00})
	require.NoError(t, err)
	require.Len(t, nals, 1)
	assert.Equal(t, []byte{0x67, 0x42, 0x00}, nals[0])
}

func TestExtractTwoNALs(t *testing.T) {
	data := annexB([]byte{0x67, 0x42}, []byte{0x68, 0xCE})
	nals, err := ExtractNALUnits(data)
	require.NoError(t, err)
	require.Len(t, nals, 2)
	assert.Equal(t, []byte{0x67, 0x42}, nals[0])
	assert.Equal(t, []byte{0x68, 0xCE}, nals[1])
}

func TestExtractMixedStartCodes(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0x67, 0x42}
	data = append(data, 0, 0, 1, 0x68, 0xCE)
	nals, err := ExtractNALUnits(data)
	require.NoError(t, err)
	require.Len(t, nals, 2)
	assert.Equal(t, []byte{0x67, 0x42}, nals[0])
	assert.Equal(t, []byte{0x68, 0xCE}, nals[1])
}

func TestExtractEmptyInput(t *testing.T) {
	nals, err := ExtractNALUnits(nil)
	assert.NoError(t, err)
	assert.Empty(t, nals)
}

func TestExtractNoStartCode(t *testing.T) {
	_, err := ExtractNALUnits([]byte{0xFF, 0xFE, 0xFD})
	assert.ErrorIs(t, err, ErrNoStartCode)
}

// --- Packetization ---

func TestSmallNALSinglePacket(t *testing.T) {
	state := makeState()
	nal := []byte{0x65, 0xAA, 0xBB, 0xCC}

	packets, err := Packetize(state, annexB(nal), 3000, DefaultMTU)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	assert.Equal(t, nal, packets[0].Payload)
	assert.True(t, packets[0].Marker)
	assert.Equal(t, uint8(96), packets[0].PayloadType)
	assert.Equal(t, uint32(0xAABBCCDD), packets[0].SSRC)
}

func TestThresholdNALUnfragmented(t *testing.T) {
	state := makeState()
	mtu := 100
	nal := append([]byte{0x65}, bytes.Repeat([]byte{0xAA}, mtu-1)...) // exactly mtu bytes

	packets, err := Packetize(state, annexB(nal), 3000, mtu)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, nal, packets[0].Payload)
}

func TestLargeNALFragmented(t *testing.T) {
	state := makeState()
	nal := append([]byte{0x65}, bytes.Repeat([]byte{0xAA}, DefaultMTU+500)...)

	packets, err := Packetize(state, annexB(nal), 3000, DefaultMTU)
	require.NoError(t, err)
	require.Greater(t, len(packets), 1)

	first := packets[0].Payload
	assert.Equal(t, uint8(naluTypeFUA), first[0]&0x1f, "FU indicator type")
	assert.Equal(t, uint8(0x80), first[1]&0x80, "start bit on first fragment")
	assert.Equal(t, uint8(0x05), first[1]&0x1f, "original NAL type preserved")

	last := packets[len(packets)-1].Payload
	assert.Equal(t, uint8(0x40), last[1]&0x40, "end bit on last fragment")

	for i, p := range packets {
		assert.LessOrEqual(t, len(p.Payload), DefaultMTU, "fragment %d exceeds MTU", i)
		if i < len(packets)-1 {
			assert.False(t, p.Marker)
		}
	}
	assert.True(t, packets[len(packets)-1].Marker)
}

func TestReconstructionAcrossSizes(t *testing.T) {
	mtu := 100
	maxFragment := mtu - fuaOverhead

	// Sizes around the fragmentation threshold and exact multiples of the
	// fragment payload size (payload excludes the NAL header byte).
	sizes := []int{1, mtu - 1, mtu, mtu + 1, 1 + maxFragment, 1 + 2*maxFragment, 1 + 2*maxFragment + 1, 5000}

	for _, size := range sizes {
		state := makeState()
		nal := make([]byte, size)
		nal[0] = 0x65
		for i := 1; i < size; i++ {
			nal[i] = byte(i)
		}

		packets, err := Packetize(state, annexB(nal), 3000, mtu)
		require.NoError(t, err, "size %d", size)

		got := reassemble(packets)
		require.Len(t, got, 1, "size %d", size)
		assert.Equal(t, nal, got[0], "reconstruction mismatch at size %d", size)
	}
}

func TestMarkerOnLastPacketOnly(t *testing.T) {
	state := makeState()
	big := append([]byte{0x65}, bytes.Repeat([]byte{0xBB}, 3000)...)
	au := annexB([]byte{0x67, 0x42, 0x00, 0x1e}, []byte{0x68, 0xce, 0x38, 0x80}, big)

	packets, err := Packetize(state, au, 3000, DefaultMTU)
	require.NoError(t, err)

	markers := 0
	for _, p := range packets {
		if p.Marker {
			markers++
		}
	}
	assert.Equal(t, 1, markers, "exactly one marker per access unit")
	assert.True(t, packets[len(packets)-1].Marker, "marker on last packet")
}

func TestSequenceMonotonicAcrossCalls(t *testing.T) {
	state := makeState()
	au := annexB(append([]byte{0x65}, bytes.Repeat([]byte{0xCC}, 4000)...))

	var all []*rtp.Packet
	for i := 0; i < 5; i++ {
		packets, err := Packetize(state, au, 3000, DefaultMTU)
		require.NoError(t, err)
		all = append(all, packets...)
	}

	for i := 1; i < len(all); i++ {
		assert.Equal(t, all[i-1].SequenceNumber+1, all[i].SequenceNumber, "gap or repeat at packet %d", i)
	}
	assert.Equal(t, uint16(len(all)), state.Sequence())
}

func TestSequenceWraps(t *testing.T) {
	state := makeState()
	state.sequence = 0xFFFF

	packets, err := Packetize(state, annexB([]byte{0x65, 0x01}, []byte{0x41, 0x02}), 3000, DefaultMTU)
	require.NoError(t, err)
	require.Len(t, packets, 2)

	assert.Equal(t, uint16(0xFFFF), packets[0].SequenceNumber)
	assert.Equal(t, uint16(0), packets[1].SequenceNumber)
	assert.Equal(t, uint16(1), state.Sequence())
}

func TestTimestampConstantWithinAccessUnit(t *testing.T) {
	state := makeState()
	big := append([]byte{0x65}, bytes.Repeat([]byte{0xDD}, 5000)...)

	first, err := Packetize(state, annexB(big), 3000, DefaultMTU)
	require.NoError(t, err)
	for _, p := range first {
		assert.Equal(t, uint32(0), p.Timestamp)
	}

	second, err := Packetize(state, annexB(big), 3000, DefaultMTU)
	require.NoError(t, err)
	for _, p := range second {
		assert.Equal(t, uint32(3000), p.Timestamp, "accumulator advances once per access unit")
	}
}

func TestEmptyAccessUnitAdvancesState(t *testing.T) {
	state := makeState()

	packets, err := Packetize(state, nil, 3000, DefaultMTU)
	require.NoError(t, err)
	assert.Empty(t, packets)
	assert.Equal(t, uint32(3000), state.Timestamp())
	assert.Equal(t, uint16(0), state.Sequence())
}

func TestSessionIsolation(t *testing.T) {
	a := NewState(96)
	b := NewState(96)
	au := annexB([]byte{0x65, 0x11, 0x22})

	for i := 0; i < 3; i++ {
		pa, err := Packetize(a, au, 3000, DefaultMTU)
		require.NoError(t, err)
		pb, err := Packetize(b, au, 1500, DefaultMTU)
		require.NoError(t, err)

		assert.Equal(t, pa[0].SequenceNumber, pb[0].SequenceNumber, "both start at zero, advance in lockstep")
		assert.NotEqual(t, pa[0].SSRC, pb[0].SSRC, "independent synchronization identifiers")
		assert.Equal(t, uint32(i)*3000, pa[0].Timestamp)
		assert.Equal(t, uint32(i)*1500, pb[0].Timestamp, "timestamps independent per session")
	}
}

func TestNALUnitType(t *testing.T) {
	assert.Equal(t, uint8(NALUnitTypeIDR), NALUnitType([]byte{0x65}))
	assert.Equal(t, uint8(NALUnitTypeSPS), NALUnitType([]byte{0x67}))
	assert.Equal(t, uint8(NALUnitTypePPS), NALUnitType([]byte{0x68}))
	assert.Equal(t, uint8(0), NALUnitType(nil))
}
