package models

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"rapidrtsp/internal/packetizer"
)

// SessionState represents where a session is in its lifecycle.
type SessionState string

const (
	// SessionStateInit - created, transport not yet negotiated.
	SessionStateInit SessionState = "init"
	// SessionStateReady - transport negotiated via SETUP, not receiving data.
	SessionStateReady SessionState = "ready"
	// SessionStatePlaying - actively receiving packetized frames.
	SessionStatePlaying SessionState = "playing"
	// SessionStatePaused - delivery suspended, can resume via PLAY.
	SessionStatePaused SessionState = "paused"
	// SessionStateTornDown - terminal; transport released.
	SessionStateTornDown SessionState = "torn_down"
)

// ErrInvalidTransition is returned when a control request is not legal from
// the session's current state. The session state is left unchanged.
var ErrInvalidTransition = errors.New("invalid state transition")

// DefaultSessionTimeoutSecs is advertised in the Session response header
// (RFC 2326 §12.37). No watchdog enforces it; teardown and connection loss
// are the only terminators.
const DefaultSessionTimeoutSecs = 60

// Session represents one connected playback client, from SETUP through
// TEARDOWN. It owns the client's negotiated transport endpoint and its
// packetization state: sequence numbers and timestamps for different
// sessions never interact.
type Session struct {
	ID          string
	URI         string
	CreatedAt   time.Time
	TimeoutSecs int

	state     SessionState
	transport *Transport
	pkt       *packetizer.State
	mu        sync.RWMutex

	// sendMu makes in-flight packet delivery and teardown mutually
	// exclusive, so a packet is never sent after the transport is released.
	sendMu sync.Mutex
}

// NewSession creates a session in the Init state with its own
// packetization state.
func NewSession(uri string, payloadType uint8) *Session {
	return &Session{
		ID:          uuid.NewString(),
		URI:         uri,
		CreatedAt:   time.Now(),
		TimeoutSecs: DefaultSessionTimeoutSecs,
		state:       SessionStateInit,
		pkt:         packetizer.NewState(payloadType),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsPlaying reports whether the session is actively receiving media.
func (s *Session) IsPlaying() bool {
	return s.State() == SessionStatePlaying
}

// Transport returns the negotiated transport endpoint, or nil before SETUP
// completes or after teardown.
func (s *Session) Transport() *Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

// PacketizerState exposes the session's packetization state for RTP-Info
// headers. Delivery mutates it only through Deliver.
func (s *Session) PacketizerState() *packetizer.State {
	return s.pkt
}

// SetTransport stores the negotiated endpoint and moves Init -> Ready.
func (s *Session) SetTransport(t *Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionStateInit {
		return fmt.Errorf("%w: SETUP requires state %s, session is %s", ErrInvalidTransition, SessionStateInit, s.state)
	}
	s.transport = t
	s.state = SessionStateReady
	return nil
}

// Play moves Ready or Paused -> Playing.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionStateReady && s.state != SessionStatePaused {
		return fmt.Errorf("%w: PLAY requires state %s or %s, session is %s",
			ErrInvalidTransition, SessionStateReady, SessionStatePaused, s.state)
	}
	s.state = SessionStatePlaying
	return nil
}

// Pause moves Playing -> Paused.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionStatePlaying {
		return fmt.Errorf("%w: PAUSE requires state %s, session is %s", ErrInvalidTransition, SessionStatePlaying, s.state)
	}
	s.state = SessionStatePaused
	return nil
}

// TearDown moves any state to TornDown and releases the transport
// endpoint. It waits for an in-flight delivery to finish first, and is
// irreversible: every later transition attempt fails.
func (s *Session) TearDown() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionStateTornDown
	s.transport = nil
}

// Deliver packetizes the access unit's NAL units with this session's state
// and sends each packet through send. Returns the number of packets and
// bytes sent.
//
// Delivery holds sendMu for its duration so a concurrent TearDown cannot
// release the transport mid-send. A session that left Playing between the
// broadcast snapshot and this call delivers nothing.
func (s *Session) Deliver(nalUnits [][]byte, timestampIncrement uint32, mtu int, send func(payload []byte, addr *net.UDPAddr) error) (int, int, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.RLock()
	playing := s.state == SessionStatePlaying
	transport := s.transport
	s.mu.RUnlock()

	if !playing || transport == nil {
		return 0, 0, nil
	}

	packets := packetizer.PacketizeNALUnits(s.pkt, nalUnits, timestampIncrement, mtu)

	sent, bytes := 0, 0
	for _, pkt := range packets {
		payload, err := pkt.Marshal()
		if err != nil {
			return sent, bytes, fmt.Errorf("marshal RTP packet: %w", err)
		}
		if err := send(payload, transport.ClientAddr); err != nil {
			return sent, bytes, fmt.Errorf("send RTP packet to %s: %w", transport.ClientAddr, err)
		}
		sent++
		bytes += len(payload)
	}
	return sent, bytes, nil
}

// HeaderValue formats the Session response header per RFC 2326 §12.37,
// e.g. "d2f7…;timeout=60".
func (s *Session) HeaderValue() string {
	return fmt.Sprintf("%s;timeout=%d", s.ID, s.TimeoutSecs)
}
