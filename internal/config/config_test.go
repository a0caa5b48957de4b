package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q, want dev", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want text (dev default)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug (dev default)", cfg.LogLevel)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Errorf("MaxSignalingMessageBytes = %d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.MaxPendingMessages != DefaultMaxPendingMessages {
		t.Errorf("MaxPendingMessages = %d, want %d", cfg.MaxPendingMessages, DefaultMaxPendingMessages)
	}
	if cfg.DetectionConfidence != DefaultDetectionConfidence {
		t.Errorf("DetectionConfidence = %v, want %v", cfg.DetectionConfidence, DefaultDetectionConfidence)
	}
	if cfg.DetectionMaxDetections != DefaultDetectionMaxDetections {
		t.Errorf("DetectionMaxDetections = %d, want %d", cfg.DetectionMaxDetections, DefaultDetectionMaxDetections)
	}
	if len(cfg.ICEServers) != 0 {
		t.Errorf("ICEServers = %v, want empty", cfg.ICEServers)
	}
}

func TestLoad_ProdModeSwitchesLogDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"WEBRTC_VISION_MODE": "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json (prod default)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info (prod default)", cfg.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"WEBRTC_VISION_LISTEN_ADDR":      "0.0.0.0:9000",
		"WEBRTC_VISION_SHUTDOWN_TIMEOUT": "5s",
		"MAX_SIGNALING_MESSAGE_BYTES":    "1048576",
		"MAX_PENDING_MESSAGES":           "0",
		"DETECTION_CONFIDENCE_THRESHOLD": "0.25",
		"DETECTION_MAX_DETECTIONS":       "10",
		"ALLOWED_ORIGINS":                "https://App.example.com, *",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.MaxSignalingMessageBytes != 1<<20 {
		t.Errorf("MaxSignalingMessageBytes = %d", cfg.MaxSignalingMessageBytes)
	}
	if cfg.MaxPendingMessages != 0 {
		t.Errorf("MaxPendingMessages = %d, want 0 (unbounded)", cfg.MaxPendingMessages)
	}
	if cfg.DetectionConfidence != 0.25 {
		t.Errorf("DetectionConfidence = %v", cfg.DetectionConfidence)
	}
	if cfg.DetectionMaxDetections != 10 {
		t.Errorf("DetectionMaxDetections = %d", cfg.DetectionMaxDetections)
	}
	want := []string{"https://app.example.com", "*"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"WEBRTC_VISION_LISTEN_ADDR": "0.0.0.0:9000",
	}), []string{"-listen", "127.0.0.1:7777"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Errorf("ListenAddr = %q, want flag value", cfg.ListenAddr)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"WEBRTC_VISION_MODE": "staging"},
		{"WEBRTC_VISION_LOG_FORMAT": "xml"},
		{"WEBRTC_VISION_LOG_LEVEL": "verbose"},
		{"WEBRTC_VISION_SHUTDOWN_TIMEOUT": "soon"},
		{"MAX_SIGNALING_MESSAGE_BYTES": "-1"},
		{"MAX_PENDING_MESSAGES": "-5"},
		{"DETECTION_MAX_DETECTIONS": "-1"},
		{"ALLOWED_ORIGINS": "ws://nope"},
	}
	for _, env := range tests {
		if _, err := load(lookupFrom(env), nil); err == nil {
			t.Errorf("load(%v): expected error", env)
		}
	}
}
