package packetizer

import (
	"math/rand"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// State holds per-session RTP header state: the sequence number, the
// timestamp accumulator, and the SSRC identifying this session's packet
// stream (RFC 3550 §5.1).
//
// Each session owns exactly one State. It is mutated only while producing
// packets for that session, so two sessions fed the same frames emit fully
// independent sequence/timestamp spaces.
type State struct {
	// PayloadType is the RTP payload type written to every packet (RFC 3551).
	PayloadType uint8
	// SSRC is the synchronization source identifier, fixed for the
	// session's lifetime.
	SSRC uint32

	sequence  uint16
	timestamp uint32
}

// NewState creates packetization state with a random SSRC.
//
// Per RFC 3550 §8.1 the SSRC is chosen randomly to minimize the chance of
// collisions between independent sessions.
func NewState(payloadType uint8) *State {
	return NewStateWithSSRC(payloadType, rand.Uint32())
}

// NewStateWithSSRC creates packetization state with an explicit SSRC.
func NewStateWithSSRC(payloadType uint8, ssrc uint32) *State {
	logrus.WithFields(logrus.Fields{
		"payload_type": payloadType,
		"ssrc":         ssrc,
	}).Debug("packetization state created")

	return &State{
		PayloadType: payloadType,
		SSRC:        ssrc,
	}
}

// Sequence returns the sequence number the next packet will carry.
func (s *State) Sequence() uint16 {
	return s.sequence
}

// Timestamp returns the timestamp the next access unit's packets will carry.
func (s *State) Timestamp() uint32 {
	return s.timestamp
}

// newPacket builds one RTP packet carrying payload and advances the
// sequence number. The timestamp is the current accumulator value; it is
// advanced once per access unit, not per packet.
func (s *State) newPacket(payload []byte, marker bool) *rtp.Packet {
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.PayloadType,
			SequenceNumber: s.sequence,
			Timestamp:      s.timestamp,
			SSRC:           s.SSRC,
		},
		Payload: payload,
	}
	s.sequence++ // wraps mod 2^16
	return p
}

// advanceTimestamp moves the accumulator forward by increment clock ticks,
// wrapping mod 2^32. For video at the 90 kHz clock the per-frame increment
// is 90000/fps (3000 for 30 fps, 3600 for 25 fps).
func (s *State) advanceTimestamp(increment uint32) {
	s.timestamp += increment
}
