package rtsp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"rapidrtsp/internal/metrics"
	"rapidrtsp/internal/packetizer"
	"rapidrtsp/internal/sessionmanager"
)

var (
	// ErrNotStarted is returned by SendFrame before Start has bound the
	// transports.
	ErrNotStarted = errors.New("server not started")
	// ErrAlreadyRunning is returned by Start when the server is running.
	ErrAlreadyRunning = errors.New("server already running")
)

// Options configures protocol and packetization behavior. Zero values get
// sensible defaults from applyDefaults.
type Options struct {
	// PayloadType is the dynamic RTP payload type advertised in the SDP
	// and written to every packet. Default 96.
	PayloadType uint8
	// MTU is the maximum RTP payload size before FU-A fragmentation kicks
	// in. Default packetizer.DefaultMTU.
	MTU int
	// PublicHost overrides the host advertised in SDP origin/connection
	// lines. When empty it is inferred per request.
	PublicHost string
	// SessionName is the SDP s= line. Default "Stream".
	SessionName string
}

func (o *Options) applyDefaults() {
	if o.PayloadType == 0 {
		o.PayloadType = 96
	}
	if o.MTU <= 0 {
		o.MTU = packetizer.DefaultMTU
	}
	if o.SessionName == "" {
		o.SessionName = "Stream"
	}
}

// Server is the composition root: it owns the session registry, the RTSP
// listening endpoint, the shared outbound UDP socket, and the frame
// ingestion API.
type Server struct {
	addr    string
	opts    Options
	manager *sessionmanager.Manager
	metrics *metrics.Metrics
	params  *packetizer.ParameterSets

	listener net.Listener
	udp      *net.UDPConn
	running  atomic.Bool
	mu       sync.Mutex
}

// New creates an RTSP server bound to addr once Start is called.
func New(addr string, manager *sessionmanager.Manager, m *metrics.Metrics, opts Options) *Server {
	opts.applyDefaults()
	return &Server{
		addr:    addr,
		opts:    opts,
		manager: manager,
		metrics: m,
		params:  &packetizer.ParameterSets{},
	}
}

// Start binds the control listener and the outbound UDP socket, then
// accepts connections in the background. Bind failure is the only fatal
// startup error.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return ErrAlreadyRunning
	}

	udp, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("bind UDP socket: %w", err)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		udp.Close()
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}

	s.udp = udp
	s.listener = listener
	s.running.Store(true)

	logrus.WithField("addr", listener.Addr().String()).Info("RTSP server listening")

	go s.acceptLoop(listener)
	return nil
}

// Stop releases the listening endpoint and the UDP socket, and tears down
// all sessions. In-flight connection handlers exit on their next read or
// write.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	var ids []string
	for _, session := range s.manager.All() {
		ids = append(ids, session.ID)
	}
	if removed := s.manager.RemoveAll(ids); removed > 0 {
		s.metrics.RecordSessionsStopped(removed)
	}

	err := s.listener.Close()
	s.udp.Close()

	logrus.Info("RTSP server stopped")
	return err
}

// Addr returns the bound control address, useful when addr was ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Load() {
				logrus.Debug("accept loop exited")
				return
			}
			logrus.WithError(err).Warn("accept error")
			continue
		}
		go s.handleConnection(conn)
	}
}

// SendFrame is the frame ingestion API: it accepts one H.264 Annex-B
// access unit and a timestamp increment (90 kHz clock ticks since the
// previous frame) and broadcasts it to every Playing session.
//
// Safe to call concurrently with session lifecycle changes. Two concurrent
// SendFrame calls are not serialized against each other; the caller is
// expected to be a single logical producer if strict frame ordering
// matters.
//
// Per-session transport failures are isolated (the failing session is
// removed); only malformed input or a stopped server produce an error.
func (s *Server) SendFrame(accessUnit []byte, timestampIncrement uint32) error {
	if !s.running.Load() {
		return ErrNotStarted
	}

	nalUnits, err := packetizer.ExtractNALUnits(accessUnit)
	if err != nil {
		return fmt.Errorf("encoding violation: %w", err)
	}

	s.params.Capture(nalUnits)
	s.metrics.RecordFrameIngested(len(accessUnit))

	result := s.manager.Broadcast(udpSender{conn: s.udp}, nalUnits, timestampIncrement, s.opts.MTU)

	s.metrics.RecordPacketsSent(result.PacketsSent, result.BytesSent)
	if len(result.Failed) > 0 {
		s.metrics.RecordSendErrors(len(result.Failed))
		s.metrics.RecordSessionsStopped(len(result.Failed))
		logrus.WithFields(logrus.Fields{
			"failed":    result.Failed,
			"delivered": result.Delivered,
		}).Warn("frame delivery failed for some sessions")
	}

	return nil
}

// Viewer describes one client in the Playing state.
type Viewer struct {
	SessionID     string
	URI           string
	ClientAddr    string
	ClientRTPPort uint16
}

// Viewers lists the clients currently receiving media.
func (s *Server) Viewers() []Viewer {
	var viewers []Viewer
	for _, session := range s.manager.Playing() {
		t := session.Transport()
		if t == nil {
			continue
		}
		viewers = append(viewers, Viewer{
			SessionID:     session.ID,
			URI:           session.URI,
			ClientAddr:    t.ClientAddr.String(),
			ClientRTPPort: t.ClientRTPPort,
		})
	}
	return viewers
}

// udpSender adapts the shared outbound UDP socket to the registry's Sender.
type udpSender struct {
	conn *net.UDPConn
}

func (u udpSender) Send(payload []byte, addr *net.UDPAddr) error {
	_, err := u.conn.WriteToUDP(payload, addr)
	return err
}
