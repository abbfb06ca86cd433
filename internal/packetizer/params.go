package packetizer

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ParameterSets caches the SPS and PPS NAL units observed in the ingested
// bitstream. DESCRIBE responses fold them into the SDP fmtp line
// (profile-level-id and sprop-parameter-sets, RFC 6184 §8.1) so clients can
// configure their decoder before the first keyframe arrives.
//
// The first SPS and PPS seen win; later ones are ignored. Safe for
// concurrent capture and read.
type ParameterSets struct {
	mu  sync.RWMutex
	sps []byte
	pps []byte
}

// Capture scans nalUnits for SPS/PPS and stores copies of the first of
// each. The copies outlive the access unit, which is not retained.
func (p *ParameterSets) Capture(nalUnits [][]byte) {
	p.mu.RLock()
	have := p.sps != nil && p.pps != nil
	p.mu.RUnlock()
	if have {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, nal := range nalUnits {
		switch NALUnitType(nal) {
		case NALUnitTypeSPS:
			if p.sps == nil {
				p.sps = append([]byte(nil), nal...)
				logrus.WithField("bytes", len(nal)).Debug("H.264 SPS captured from bitstream")
			}
		case NALUnitTypePPS:
			if p.pps == nil {
				p.pps = append([]byte(nil), nal...)
				logrus.WithField("bytes", len(nal)).Debug("H.264 PPS captured from bitstream")
			}
		}
	}
}

// SPS returns the cached sequence parameter set, or nil.
func (p *ParameterSets) SPS() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sps
}

// PPS returns the cached picture parameter set, or nil.
func (p *ParameterSets) PPS() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pps
}

// ProfileLevelID derives the hex profile-level-id from SPS bytes 1-3
// (profile_idc, constraint flags, level_idc per RFC 6184 §8.1).
func (p *ParameterSets) ProfileLevelID() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.sps) < 4 {
		return "", false
	}
	return fmt.Sprintf("%02x%02x%02x", p.sps[1], p.sps[2], p.sps[3]), true
}

// SpropParameterSets returns the base64 "SPS,PPS" value for the SDP fmtp
// sprop-parameter-sets attribute.
func (p *ParameterSets) SpropParameterSets() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sps == nil || p.pps == nil {
		return "", false
	}
	return base64.StdEncoding.EncodeToString(p.sps) + "," + base64.StdEncoding.EncodeToString(p.pps), true
}
