package models

import "net"

// Transport holds the RTP/RTCP endpoint parameters negotiated during SETUP
// (RFC 2326 §12.39). The server sends RTP to ClientAddr; the RTCP ports are
// advertised but RTCP itself is not implemented.
type Transport struct {
	ClientRTPPort  uint16
	ClientRTCPPort uint16
	ServerRTPPort  uint16
	ServerRTCPPort uint16

	// ClientAddr is the full RTP delivery address (client IP + RTP port).
	ClientAddr *net.UDPAddr
}
