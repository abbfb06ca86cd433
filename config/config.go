package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// RTSP control-plane listen address
	RTSPAddr string `yaml:"rtsp_addr"`

	// HTTP API listen address
	HTTPAddr string `yaml:"http_addr"`

	// Host advertised in SDP; inferred per request when empty
	PublicHost string `yaml:"public_host"`

	// SDP session name (s= line)
	SessionName string `yaml:"session_name"`

	// RTP payload type (dynamic range 96-127)
	PayloadType int `yaml:"payload_type"`

	// Maximum RTP payload size before fragmentation
	MTU int `yaml:"mtu"`

	// Demo producer: Annex-B H.264 file streamed on loop (optional)
	VideoFile string `yaml:"video_file"`

	// Demo producer frame rate
	FrameRate int `yaml:"frame_rate"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		RTSPAddr:    getEnv("RTSP_ADDR", ":8554"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		PublicHost:  getEnv("PUBLIC_HOST", ""),
		SessionName: getEnv("SESSION_NAME", "Stream"),
		PayloadType: getIntEnv("PAYLOAD_TYPE", 96),
		MTU:         getIntEnv("RTP_MTU", 1400),
		VideoFile:   getEnv("VIDEO_FILE", ""),
		FrameRate:   getIntEnv("FRAME_RATE", 30),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// LoadFile loads configuration from a YAML file layered over the
// environment defaults
func LoadFile(path string) (*Config, error) {
	cfg := Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration values are usable
func (c *Config) Validate() error {
	if c.RTSPAddr == "" {
		return fmt.Errorf("rtsp_addr must not be empty")
	}
	if c.PayloadType < 96 || c.PayloadType > 127 {
		return fmt.Errorf("payload_type %d outside dynamic range 96-127", c.PayloadType)
	}
	if c.MTU < 64 {
		return fmt.Errorf("mtu %d too small", c.MTU)
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive")
	}
	return nil
}

// Helper functions to get environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
