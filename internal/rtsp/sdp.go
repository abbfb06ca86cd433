package rtsp

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"

	"rapidrtsp/internal/packetizer"
)

// GenerateSDP builds the session description returned by DESCRIBE
// (RFC 4566, RFC 6184 §8). The media section advertises H.264 at the
// 90 kHz clock with packetization-mode=1; once SPS/PPS have been observed
// in the bitstream, profile-level-id and sprop-parameter-sets are included
// so clients can configure their decoder before playback starts.
//
// Attribute order matters: a=rtpmap defines the payload type and must
// precede the a=fmtp line that references it (RFC 6184 §8.2.1).
func GenerateSDP(host, sessionName string, payloadType uint8, params *packetizer.ParameterSets) (string, error) {
	pt := strconv.Itoa(int(payloadType))

	fmtp := pt + " packetization-mode=1"
	if pl, ok := params.ProfileLevelID(); ok {
		fmtp += ";profile-level-id=" + pl
	}
	if sprop, ok := params.SpropParameterSets(); ok {
		fmtp += ";sprop-parameter-sets=" + sprop
	}

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: sdp.SessionName(sessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("tool", "rapidrtsp"),
			sdp.NewPropertyAttribute("sendonly"),
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "video",
					Port:    sdp.RangedPort{Value: 0},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{pt},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("rtpmap", fmt.Sprintf("%s H264/90000", pt)),
					sdp.NewAttribute("fmtp", fmtp),
					sdp.NewAttribute("control", "track1"),
				},
			},
		},
	}

	raw, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal SDP: %w", err)
	}
	return string(raw), nil
}
