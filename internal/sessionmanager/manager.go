package sessionmanager

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"rapidrtsp/pkg/models"
)

const (
	serverPortMin = 5000
	serverPortMax = 65534
)

// Sender delivers one marshaled RTP packet to a client endpoint. The RTSP
// server backs this with its shared outbound UDP socket; tests inject fakes.
type Sender interface {
	Send(payload []byte, addr *net.UDPAddr) error
}

// BroadcastResult is the aggregate outcome of one broadcast call.
type BroadcastResult struct {
	// Delivered counts sessions that received the full packet train.
	Delivered int
	// PacketsSent and BytesSent total across all sessions.
	PacketsSent int
	BytesSent   int
	// Failed lists session IDs removed because their transport send failed.
	Failed []string
}

// Manager is the thread-safe registry of active sessions.
//
// The control plane inserts on SETUP and removes on TEARDOWN or connection
// loss; the data plane reads a snapshot on every broadcast. Reads dominate,
// so the map is guarded by an RWMutex.
type Manager struct {
	sessions map[string]*models.Session
	mu       sync.RWMutex

	nextServerPort atomic.Uint32
}

// New creates an empty session registry.
func New() *Manager {
	m := &Manager{
		sessions: make(map[string]*models.Session),
	}
	m.nextServerPort.Store(serverPortMin)
	return m
}

// Create registers a new session for the given URI in the Init state.
func (m *Manager) Create(uri string, payloadType uint8) *models.Session {
	session := models.NewSession(uri, payloadType)

	m.mu.Lock()
	m.sessions[session.ID] = session
	total := len(m.sessions)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session_id":     session.ID,
		"uri":            uri,
		"total_sessions": total,
	}).Debug("session created")

	return session
}

// Get looks up a session by ID.
func (m *Manager) Get(id string) (*models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Remove tears down and deregisters a session. Returns false if no session
// with that ID exists (e.g. already torn down).
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	total := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}

	// TearDown waits out any in-flight delivery before releasing the
	// transport endpoint.
	session.TearDown()

	logrus.WithFields(logrus.Fields{
		"session_id":     id,
		"total_sessions": total,
	}).Debug("session removed")

	return true
}

// RemoveAll tears down a batch of sessions (connection-loss cleanup).
// Returns how many were actually removed.
func (m *Manager) RemoveAll(ids []string) int {
	removed := 0
	for _, id := range ids {
		if m.Remove(id) {
			removed++
		}
	}
	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": m.Count(),
		}).Debug("batch session cleanup")
	}
	return removed
}

// All returns a snapshot of every registered session.
func (m *Manager) All() []*models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Playing returns a snapshot of sessions currently in the Playing state.
func (m *Manager) Playing() []*models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*models.Session, 0)
	for _, s := range m.sessions {
		if s.IsPlaying() {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AllocateServerPorts hands out an (RTP, RTCP) port pair for the Transport
// response header. Ports come from a monotonic counter starting at 5000;
// RTCP = RTP + 1 per RFC 3550 §11. Wraps back to 5000 when exhausted.
//
// The ports are advertised, not bound: delivery goes out the shared
// ephemeral UDP socket.
func (m *Manager) AllocateServerPorts() (uint16, uint16) {
	rtpPort := m.nextServerPort.Add(2) - 2
	if rtpPort > serverPortMax {
		logrus.WithField("port", rtpPort).Warn("server port range exhausted, wrapping")
		m.nextServerPort.Store(serverPortMin + 2)
		rtpPort = serverPortMin
	}
	return uint16(rtpPort), uint16(rtpPort) + 1
}

// Broadcast hands the same access unit (as extracted NAL units) to every
// Playing session. Each session packetizes independently with its own
// sequence/timestamp/SSRC state and sends over its own endpoint.
//
// A send failure is isolated: the failing session is removed from the
// registry and the remaining sessions still receive the frame. An empty NAL
// list still advances each playing session's timestamp accumulator.
func (m *Manager) Broadcast(sender Sender, nalUnits [][]byte, timestampIncrement uint32, mtu int) BroadcastResult {
	var result BroadcastResult

	for _, session := range m.Playing() {
		sent, bytes, err := session.Deliver(nalUnits, timestampIncrement, mtu, sender.Send)
		result.PacketsSent += sent
		result.BytesSent += bytes

		if err != nil {
			logrus.WithFields(logrus.Fields{
				"session_id": session.ID,
				"error":      err,
			}).Warn("transport send failed, removing session")
			m.Remove(session.ID)
			result.Failed = append(result.Failed, session.ID)
			continue
		}
		result.Delivered++
	}

	return result
}
