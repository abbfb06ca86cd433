package packetizer

import (
	"errors"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// H.264 NAL unit types
const (
	NALUnitTypeNonIDR = 1
	NALUnitTypeIDR    = 5
	NALUnitTypeSPS    = 7
	NALUnitTypePPS    = 8

	// naluTypeFUA is the payload type of a fragmentation unit (RFC 6184 §5.8).
	naluTypeFUA = 28
)

// DefaultMTU is the maximum RTP payload size in bytes. NAL units larger
// than this are fragmented with FU-A.
const DefaultMTU = 1400

// fuaOverhead is the FU indicator + FU header prefixed to every fragment.
const fuaOverhead = 2

// AnnexB start codes
var (
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	StartCode3 = []byte{0x00, 0x00, 0x01}
)

// ErrNoStartCode indicates an access unit with no recognizable Annex-B
// start codes. Empty input is not an error; a non-empty access unit that
// yields no NAL units is malformed and must be surfaced to the producer.
var ErrNoStartCode = errors.New("no start codes found in access unit")

// Packetize converts one H.264 Annex-B access unit into RTP packets
// (RFC 6184) using the session's packetization state.
//
// NAL units that fit within mtu are sent as Single NAL Unit packets
// (RFC 6184 §5.6); larger ones are FU-A fragmented (§5.8). All packets of
// the access unit carry the same timestamp (the accumulator value before
// this call's increment), sequence numbers are contiguous, and the marker
// bit is set only on the last packet of the access unit (§5.1).
//
// An access unit with zero NAL units emits nothing but still advances the
// timestamp accumulator.
func Packetize(state *State, accessUnit []byte, timestampIncrement uint32, mtu int) ([]*rtp.Packet, error) {
	nalUnits, err := ExtractNALUnits(accessUnit)
	if err != nil {
		return nil, err
	}
	return PacketizeNALUnits(state, nalUnits, timestampIncrement, mtu), nil
}

// PacketizeNALUnits packetizes already-extracted NAL units. Broadcast uses
// this so NAL extraction happens once per frame rather than once per session.
func PacketizeNALUnits(state *State, nalUnits [][]byte, timestampIncrement uint32, mtu int) []*rtp.Packet {
	if mtu <= fuaOverhead {
		mtu = DefaultMTU
	}

	var packets []*rtp.Packet
	for i, nal := range nalUnits {
		isLast := i == len(nalUnits)-1
		packets = append(packets, packetizeNAL(state, nal, isLast, mtu)...)
	}

	state.advanceTimestamp(timestampIncrement)

	logrus.WithFields(logrus.Fields{
		"nal_count":   len(nalUnits),
		"rtp_packets": len(packets),
		"next_seq":    state.Sequence(),
		"next_ts":     state.Timestamp(),
	}).Debug("access unit packetized")

	return packets
}

// packetizeNAL emits one NAL unit as a single packet or an FU-A fragment
// train. lastNAL controls marker placement: the marker goes on the final
// packet of the access unit only.
func packetizeNAL(state *State, nal []byte, lastNAL bool, mtu int) []*rtp.Packet {
	if len(nal) == 0 {
		return nil
	}

	if len(nal) <= mtu {
		// Single NAL Unit mode (RFC 6184 §5.6). A NAL exactly at the
		// threshold is sent unfragmented.
		payload := make([]byte, len(nal))
		copy(payload, nal)
		return []*rtp.Packet{state.newPacket(payload, lastNAL)}
	}

	// FU-A fragmentation (RFC 6184 §5.8). The NAL header byte is consumed
	// and its type/NRI are carried in the FU indicator + FU header instead.
	nalHeader := nal[0]
	nalType := nalHeader & 0x1f
	nri := nalHeader & 0x60
	fuIndicator := nri | naluTypeFUA

	payload := nal[1:]
	maxFragment := mtu - fuaOverhead

	var packets []*rtp.Packet
	first := true
	for offset := 0; offset < len(payload); {
		remaining := len(payload) - offset
		lastFragment := remaining <= maxFragment
		chunkSize := maxFragment
		if remaining < chunkSize {
			chunkSize = remaining
		}

		fuHeader := nalType
		if first {
			fuHeader |= 0x80 // S bit
		}
		if lastFragment {
			fuHeader |= 0x40 // E bit
		}

		buf := make([]byte, 0, fuaOverhead+chunkSize)
		buf = append(buf, fuIndicator, fuHeader)
		buf = append(buf, payload[offset:offset+chunkSize]...)

		packets = append(packets, state.newPacket(buf, lastNAL && lastFragment))

		offset += chunkSize
		first = false
	}

	logrus.WithFields(logrus.Fields{
		"nal_type":  nalType,
		"nal_size":  len(nal),
		"fragments": len(packets),
	}).Debug("FU-A fragmented NAL unit")

	return packets
}

// ExtractNALUnits splits an H.264 Annex-B bitstream into NAL units.
//
// Both 4-byte (00 00 00 01) and 3-byte (00 00 01) start codes are
// recognized, and each start code's length is tracked so boundaries between
// adjacent NALs come out right when the two forms are mixed. The returned
// slices alias the input; they are not retained after packetization.
//
// Empty input returns no NAL units and no error. Non-empty input with no
// start code at all returns ErrNoStartCode.
func ExtractNALUnits(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	// (nal data start index, start code length)
	type startEntry struct {
		start int
		scLen int
	}
	var entries []startEntry

	for i := 0; i < len(data); {
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			entries = append(entries, startEntry{start: i + 4, scLen: 4})
			i += 4
		} else if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			entries = append(entries, startEntry{start: i + 3, scLen: 3})
			i += 3
		} else {
			i++
		}
	}

	if len(entries) == 0 {
		return nil, ErrNoStartCode
	}

	var nalUnits [][]byte
	for idx, e := range entries {
		end := len(data)
		if idx+1 < len(entries) {
			next := entries[idx+1]
			end = next.start - next.scLen
		}
		if e.start < end {
			nalUnits = append(nalUnits, data[e.start:end])
		}
	}

	return nalUnits, nil
}

// NALUnitType returns the type field from a NAL unit's header byte.
func NALUnitType(nal []byte) uint8 {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & 0x1f
}
