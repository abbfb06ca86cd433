package rtsp

import (
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"rapidrtsp/internal/packetizer"
	"rapidrtsp/internal/sessionmanager"
	"rapidrtsp/pkg/models"
)

// methodHandler drives the session state machine for one control
// connection. It remembers which sessions the connection created so they
// can be torn down when the connection drops.
type methodHandler struct {
	manager    *sessionmanager.Manager
	params     *packetizer.ParameterSets
	opts       Options
	clientAddr *net.TCPAddr

	// sessionIDs created on this connection, for disconnect cleanup.
	sessionIDs []string
}

func newMethodHandler(manager *sessionmanager.Manager, params *packetizer.ParameterSets, opts Options, clientAddr *net.TCPAddr) *methodHandler {
	return &methodHandler{
		manager:    manager,
		params:     params,
		opts:       opts,
		clientAddr: clientAddr,
	}
}

// handle routes one parsed request to its method handler. Every response
// echoes the request's CSeq (RFC 2326 §12.17).
func (h *methodHandler) handle(req *Request) *Response {
	cseq := req.CSeq()
	if cseq == "" {
		cseq = "0"
	}

	switch req.Method {
	case "OPTIONS":
		return h.handleOptions(cseq)
	case "DESCRIBE":
		return h.handleDescribe(cseq, req.URI)
	case "SETUP":
		return h.handleSetup(cseq, req)
	case "PLAY":
		return h.handlePlay(cseq, req)
	case "PAUSE":
		return h.handlePause(cseq, req)
	case "TEARDOWN":
		return h.handleTeardown(cseq, req)
	case "GET_PARAMETER":
		return h.handleGetParameter(cseq, req)
	default:
		logrus.WithFields(logrus.Fields{
			"method": req.Method,
			"cseq":   cseq,
		}).Warn("unsupported RTSP method")
		return NewResponse(StatusNotImplemented).AddHeader("CSeq", cseq)
	}
}

func (h *methodHandler) handleOptions(cseq string) *Response {
	return OK().
		AddHeader("CSeq", cseq).
		AddHeader("Public", "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN, GET_PARAMETER")
}

func (h *methodHandler) handleDescribe(cseq, uri string) *Response {
	host := h.hostFromURIOrClient(uri)

	body, err := GenerateSDP(host, h.opts.SessionName, h.opts.PayloadType, h.params)
	if err != nil {
		logrus.WithError(err).Error("SDP generation failed")
		return NewResponse(StatusInternalServerError).AddHeader("CSeq", cseq)
	}

	return OK().
		AddHeader("CSeq", cseq).
		AddHeader("Content-Type", "application/sdp").
		AddHeader("Content-Base", uri).
		WithBody(body)
}

func (h *methodHandler) handleSetup(cseq string, req *Request) *Response {
	transportHeader, ok := req.Header("Transport")
	if !ok {
		logrus.WithField("cseq", cseq).Warn("SETUP missing Transport header")
		return NewResponse(StatusBadRequest).AddHeader("CSeq", cseq)
	}

	if isInterleaved(transportHeader) {
		logrus.WithFields(logrus.Fields{
			"cseq":      cseq,
			"transport": transportHeader,
		}).Warn("client requested TCP-interleaved transport")
		return NewResponse(StatusUnsupportedTransport).
			AddHeader("CSeq", cseq).
			AddHeader("Unsupported", "RTP/AVP/TCP (interleaved) not supported; use RTP/AVP (UDP)")
	}

	clientTransport, ok := ParseTransportHeader(transportHeader)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"cseq":      cseq,
			"transport": transportHeader,
		}).Warn("SETUP invalid Transport header")
		return NewResponse(StatusBadRequest).AddHeader("CSeq", cseq)
	}

	serverRTPPort, serverRTCPPort := h.manager.AllocateServerPorts()

	session := h.manager.Create(req.URI, h.opts.PayloadType)
	clientRTPAddr := &net.UDPAddr{
		IP:   h.clientAddr.IP,
		Port: int(clientTransport.ClientRTPPort),
	}

	if err := session.SetTransport(&models.Transport{
		ClientRTPPort:  clientTransport.ClientRTPPort,
		ClientRTCPPort: clientTransport.ClientRTCPPort,
		ServerRTPPort:  serverRTPPort,
		ServerRTCPPort: serverRTCPPort,
		ClientAddr:     clientRTPAddr,
	}); err != nil {
		return NewResponse(StatusMethodNotValidInState).AddHeader("CSeq", cseq)
	}

	h.sessionIDs = append(h.sessionIDs, session.ID)

	logrus.WithFields(logrus.Fields{
		"session_id":      session.ID,
		"uri":             req.URI,
		"client_rtp":      clientRTPAddr.String(),
		"server_rtp_port": serverRTPPort,
	}).Info("session created via SETUP")

	transportResponse := fmt.Sprintf(
		"RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d",
		clientTransport.ClientRTPPort, clientTransport.ClientRTCPPort,
		serverRTPPort, serverRTCPPort,
	)

	return OK().
		AddHeader("CSeq", cseq).
		AddHeader("Transport", transportResponse).
		AddHeader("Session", session.HeaderValue())
}

func (h *methodHandler) handlePlay(cseq string, req *Request) *Response {
	session, resp := h.lookupSession(cseq, req, "PLAY")
	if resp != nil {
		return resp
	}

	if err := session.Play(); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": session.ID,
			"error":      err,
		}).Warn("PLAY rejected")
		return NewResponse(StatusMethodNotValidInState).
			AddHeader("CSeq", cseq).
			AddHeader("Allow", "SETUP, TEARDOWN")
	}

	logrus.WithField("session_id", session.ID).Info("session started playing")

	pkt := session.PacketizerState()
	rtpInfo := fmt.Sprintf("url=%s;seq=%d;rtptime=%d", session.URI, pkt.Sequence(), pkt.Timestamp())

	return OK().
		AddHeader("CSeq", cseq).
		AddHeader("Session", session.HeaderValue()).
		AddHeader("Range", "npt=0.000-").
		AddHeader("RTP-Info", rtpInfo)
}

func (h *methodHandler) handlePause(cseq string, req *Request) *Response {
	session, resp := h.lookupSession(cseq, req, "PAUSE")
	if resp != nil {
		return resp
	}

	if err := session.Pause(); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": session.ID,
			"error":      err,
		}).Warn("PAUSE rejected")
		return NewResponse(StatusMethodNotValidInState).
			AddHeader("CSeq", cseq).
			AddHeader("Allow", "PLAY, TEARDOWN")
	}

	logrus.WithField("session_id", session.ID).Info("session paused")

	return OK().
		AddHeader("CSeq", cseq).
		AddHeader("Session", session.HeaderValue())
}

func (h *methodHandler) handleTeardown(cseq string, req *Request) *Response {
	sessionID, ok := req.SessionID()
	if !ok {
		logrus.WithField("cseq", cseq).Warn("TEARDOWN missing Session header")
		return NewResponse(StatusSessionNotFound).AddHeader("CSeq", cseq)
	}

	if !h.manager.Remove(sessionID) {
		logrus.WithField("session_id", sessionID).Warn("TEARDOWN for unknown session")
		return NewResponse(StatusSessionNotFound).AddHeader("CSeq", cseq)
	}

	for i, id := range h.sessionIDs {
		if id == sessionID {
			h.sessionIDs = append(h.sessionIDs[:i], h.sessionIDs[i+1:]...)
			break
		}
	}

	logrus.WithField("session_id", sessionID).Info("session terminated via TEARDOWN")
	return OK().AddHeader("CSeq", cseq)
}

// GET_PARAMETER is used by clients (e.g. VLC) as a keepalive
// (RFC 2326 §10.8).
func (h *methodHandler) handleGetParameter(cseq string, req *Request) *Response {
	resp := OK().AddHeader("CSeq", cseq)
	if id, ok := req.SessionID(); ok {
		if _, exists := h.manager.Get(id); exists {
			resp.AddHeader("Session", id)
		}
	}
	return resp
}

// lookupSession resolves the request's Session header to a registered
// session, or returns the 454 response to send instead.
func (h *methodHandler) lookupSession(cseq string, req *Request, method string) (*models.Session, *Response) {
	sessionID, ok := req.SessionID()
	if !ok {
		logrus.WithFields(logrus.Fields{"cseq": cseq, "method": method}).Warn("missing Session header")
		return nil, NewResponse(StatusSessionNotFound).AddHeader("CSeq", cseq)
	}

	session, exists := h.manager.Get(sessionID)
	if !exists {
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "method": method}).Warn("unknown session")
		return nil, NewResponse(StatusSessionNotFound).AddHeader("CSeq", cseq)
	}

	return session, nil
}

// hostFromURIOrClient picks the host for SDP origin/connection lines:
// configured public host, else the host from the request URI, else the
// client's own IP.
func (h *methodHandler) hostFromURIOrClient(uri string) string {
	if h.opts.PublicHost != "" {
		return h.opts.PublicHost
	}

	if after, ok := strings.CutPrefix(uri, "rtsp://"); ok {
		hostPort, _, _ := strings.Cut(after, "/")
		host, _, _ := strings.Cut(hostPort, ":")
		if host = strings.TrimSpace(host); host != "" {
			return host
		}
	}

	return h.clientAddr.IP.String()
}
