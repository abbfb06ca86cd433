package rtsp

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
)

// handleConnection runs the request/response loop for one control
// connection. Requests are processed strictly in arrival order; each
// connection has its own goroutine so clients make independent progress.
//
// When the connection drops, every session it created is torn down.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	peerAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return
	}

	log := logrus.WithField("peer", peerAddr.String())
	log.Info("client connected")
	s.metrics.RecordConnection()

	handler := newMethodHandler(s.manager, s.params, s.opts, peerAddr)
	reader := bufio.NewReader(conn)

	reason := s.requestLoop(conn, reader, handler, log)

	// Disconnect cleanup: sessions owned by this connection that were not
	// explicitly torn down are removed now.
	if removed := s.manager.RemoveAll(handler.sessionIDs); removed > 0 {
		s.metrics.RecordSessionsStopped(removed)
		log.WithField("removed", removed).Info("cleaned up sessions on disconnect")
	}

	s.metrics.RecordDisconnect()
	log.WithField("reason", reason).Info("client disconnected")
}

func (s *Server) requestLoop(conn net.Conn, reader *bufio.Reader, handler *methodHandler, log *logrus.Entry) string {
	for s.running.Load() {
		var requestText strings.Builder
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if errors.Is(err, io.EOF) {
					return "connection closed by client"
				}
				return "read error"
			}
			requestText.WriteString(line)
			if line == "\r\n" || line == "\n" {
				break
			}
		}

		if strings.TrimSpace(requestText.String()) == "" {
			continue
		}

		req, err := ParseRequest(requestText.String())
		if err != nil {
			// Malformed request: client error, connection stays open,
			// no session state is touched.
			log.WithError(err).Warn("malformed request")
			resp := NewResponse(StatusBadRequest)
			s.metrics.RecordRTSPRequest("INVALID", resp.StatusCode)
			if _, werr := conn.Write([]byte(resp.Serialize())); werr != nil {
				return "write error"
			}
			continue
		}

		log.WithFields(logrus.Fields{
			"method": req.Method,
			"uri":    req.URI,
			"cseq":   req.CSeq(),
		}).Debug("request")

		sessionsBefore := s.manager.Count()
		resp := handler.handle(req)
		s.recordSessionDelta(req.Method, sessionsBefore)
		s.metrics.RecordRTSPRequest(req.Method, resp.StatusCode)

		log.WithField("status", resp.StatusCode).Debug("response")

		if _, err := conn.Write([]byte(resp.Serialize())); err != nil {
			return "write error"
		}
	}

	return "server shutting down"
}

// recordSessionDelta keeps the session gauges in step with SETUP and
// TEARDOWN outcomes without threading metrics through the handler.
func (s *Server) recordSessionDelta(method string, before int) {
	after := s.manager.Count()
	switch {
	case method == "SETUP" && after > before:
		s.metrics.RecordSessionStarted()
	case method == "TEARDOWN" && after < before:
		s.metrics.RecordSessionsStopped(before - after)
	}
}
