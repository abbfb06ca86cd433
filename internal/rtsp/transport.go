package rtsp

import (
	"strconv"
	"strings"
)

// TransportHeader is the client's side of the Transport negotiation
// (RFC 2326 §12.39): the UDP port pair it wants RTP/RTCP delivered to.
//
//	Client -> Server: Transport: RTP/AVP;unicast;client_port=8000-8001
//	Server -> Client: Transport: RTP/AVP;unicast;client_port=8000-8001;server_port=5000-5001
type TransportHeader struct {
	ClientRTPPort  uint16
	ClientRTCPPort uint16
}

// ParseTransportHeader extracts client_port=RTP-RTCP from a Transport
// header value. Only RTP/AVP unicast over UDP is handled; interleaved TCP
// is rejected earlier with 461.
func ParseTransportHeader(header string) (*TransportHeader, bool) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		ports, ok := strings.CutPrefix(part, "client_port=")
		if !ok {
			continue
		}

		rtpStr, rtcpStr, ok := strings.Cut(ports, "-")
		if !ok {
			return nil, false
		}
		rtpPort, err := strconv.ParseUint(rtpStr, 10, 16)
		if err != nil {
			return nil, false
		}
		rtcpPort, err := strconv.ParseUint(rtcpStr, 10, 16)
		if err != nil {
			return nil, false
		}

		return &TransportHeader{
			ClientRTPPort:  uint16(rtpPort),
			ClientRTCPPort: uint16(rtcpPort),
		}, true
	}
	return nil, false
}

// isInterleaved reports whether the client asked for TCP-interleaved
// transport, which is not supported (RFC 2326 §10.12).
func isInterleaved(header string) bool {
	return strings.Contains(header, "RTP/AVP/TCP") || strings.Contains(header, "interleaved=")
}
