package main

import (
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"rapidrtsp/config"
	"rapidrtsp/httpServer"
	"rapidrtsp/internal/metrics"
	"rapidrtsp/internal/packetizer"
	"rapidrtsp/internal/rtsp"
	"rapidrtsp/internal/sessionmanager"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logrus.WithError(err).Fatal("failed to load config")
		}
		cfg = loaded
	} else {
		cfg = config.Load()
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	logrus.Info("Starting RapidRTSP server...")
	logrus.WithFields(logrus.Fields{
		"rtsp_addr": cfg.RTSPAddr,
		"http_addr": cfg.HTTPAddr,
	}).Info("configuration loaded")

	// Initialize metrics
	m := metrics.New()

	// Initialize session registry
	manager := sessionmanager.New()

	// Initialize RTSP server
	rtspSrv := rtsp.New(cfg.RTSPAddr, manager, m, rtsp.Options{
		PayloadType: uint8(cfg.PayloadType),
		MTU:         cfg.MTU,
		PublicHost:  cfg.PublicHost,
		SessionName: cfg.SessionName,
	})
	if err := rtspSrv.Start(); err != nil {
		logrus.WithError(err).Fatal("RTSP server failed to start")
	}

	// Optional demo producer: stream an Annex-B H.264 file on loop
	if cfg.VideoFile != "" {
		go streamFile(rtspSrv, cfg.VideoFile, cfg.FrameRate)
	}

	// Initialize HTTP API server
	httpSrv := httpServer.New(manager, m)
	logrus.Info("---")
	logrus.Info("API Endpoints:")
	logrus.Info("  GET  /api/ping")
	logrus.Info("  GET  /api/v1/sessions")
	logrus.Info("  GET  /api/v1/sessions/:sessionID")
	logrus.Info("  POST /api/v1/sessions/:sessionID/teardown")
	logrus.Info("  GET  /metrics")
	logrus.Info("---")

	// Start HTTP server (blocking)
	if err := httpSrv.Run(cfg.HTTPAddr); err != nil {
		logrus.WithError(err).Fatal("HTTP server failed")
	}
}

// streamFile pushes the file's access units through SendFrame at the
// configured frame rate, looping forever. Non-slice NAL units (SPS, PPS,
// SEI) attach to the access unit of the slice that follows them.
func streamFile(srv *rtsp.Server, path string, frameRate int) {
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.WithError(err).Error("failed to read video file")
		return
	}

	nalUnits, err := packetizer.ExtractNALUnits(data)
	if err != nil {
		logrus.WithError(err).Error("video file is not an Annex-B bitstream")
		return
	}

	accessUnits := groupAccessUnits(nalUnits)
	if len(accessUnits) == 0 {
		logrus.Error("video file contains no slice NAL units")
		return
	}

	increment := uint32(90000 / frameRate)
	interval := time.Second / time.Duration(frameRate)

	logrus.WithFields(logrus.Fields{
		"file":         path,
		"access_units": len(accessUnits),
		"frame_rate":   frameRate,
	}).Info("streaming video file on loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(accessUnits) {
		<-ticker.C
		if err := srv.SendFrame(accessUnits[i], increment); err != nil {
			logrus.WithError(err).Warn("frame ingestion failed")
		}
	}
}

// groupAccessUnits rebuilds Annex-B access units: each slice NAL (types
// 1-5) ends an access unit, with any preceding parameter sets included.
func groupAccessUnits(nalUnits [][]byte) [][]byte {
	var accessUnits [][]byte
	var current []byte

	for _, nal := range nalUnits {
		current = append(current, packetizer.StartCode4...)
		current = append(current, nal...)

		nalType := packetizer.NALUnitType(nal)
		if nalType >= packetizer.NALUnitTypeNonIDR && nalType <= packetizer.NALUnitTypeIDR {
			accessUnits = append(accessUnits, current)
			current = nil
		}
	}

	return accessUnits
}
