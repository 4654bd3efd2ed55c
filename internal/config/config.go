// Package config loads the YAML configuration file that wires rig/sdr
// endpoints, sync tuning, the reconnection scheduler, the device
// registry's initial set, and the optional Prometheus/MQTT/websocket
// sinks, mirroring the teacher's struct-of-structs Config and
// tolerant-of-missing-file loader.
package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/makrohard/pansyncer/internal/scheduler"
	"github.com/makrohard/pansyncer/internal/syncengine"
	"github.com/makrohard/pansyncer/internal/telemetry"
)

// Config is the top-level on-disk shape.
type Config struct {
	Rig        RigConfig        `yaml:"rig"`
	SDR        SDRConfig        `yaml:"sdr"`
	Sync       SyncConfig       `yaml:"sync"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Devices    DevicesConfig    `yaml:"devices"`
	Log        LogConfig        `yaml:"log"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
}

// RigConfig is the Rig endpoint and its per-peer tunables.
type RigConfig struct {
	Host                string  `yaml:"host"`
	Port                uint16  `yaml:"port"`
	FreqQueryInterval   float64 `yaml:"freq_query_interval"`
	SocketReconInterval float64 `yaml:"socket_recon_interval"`
	Timeout             float64 `yaml:"timeout"`
}

// SDRConfig is the SDR endpoint and its per-peer tunables.
type SDRConfig struct {
	Host                string  `yaml:"host"`
	Port                uint16  `yaml:"port"`
	FreqQueryInterval   float64 `yaml:"freq_query_interval"`
	SocketReconInterval float64 `yaml:"socket_recon_interval"`
	Timeout             float64 `yaml:"timeout"`
}

// SyncConfig covers the synchronization policy and the frequency log.
type SyncConfig struct {
	IfreqMHz             *float64 `yaml:"ifreq_mhz"`
	DebounceTime         float64  `yaml:"debounce_time"`
	WaitBeforeLogRigFreq float64  `yaml:"wait_before_log_rigfreq"`
	NudgeBuffer          int64    `yaml:"nudge_buffer"`
	ReadBufferSize       int      `yaml:"read_buffer_size"`
	MaxReadBufferBytes   int      `yaml:"max_read_buffer_bytes"`
	FreqLogPath          string   `yaml:"freq_log_path"`
}

// SchedulerConfig tunes the reconnection scheduler.
type SchedulerConfig struct {
	ReconnectInterval float64 `yaml:"reconnect_interval"`
	BackoffCap        float64 `yaml:"backoff_cap"`
	Jitter            float64 `yaml:"jitter"`
	MaxWorkers        int     `yaml:"max_workers"`
	SlowThreshold     float64 `yaml:"slow_threshold"`
}

// DevicesConfig is the device registry's initial enabled set.
type DevicesConfig struct {
	Enabled []string `yaml:"enabled"`
}

// LogConfig controls process-level log verbosity prefixing.
type LogConfig struct {
	Level string `yaml:"level"`
}

// PrometheusConfig controls the /metrics HTTP server.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MQTTConfig is the YAML shape for telemetry.MQTTConfig.
type MQTTConfig struct {
	Enabled  bool                    `yaml:"enabled"`
	Broker   string                  `yaml:"broker"`
	Username string                  `yaml:"username"`
	Password string                  `yaml:"password"`
	Topic    string                  `yaml:"topic"`
	TLS      telemetry.MQTTTLSConfig `yaml:"tls"`
}

// WebSocketConfig controls the status-feed HTTP server.
type WebSocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Default returns the configuration table's defaults (spec §6).
func Default() Config {
	return Config{
		Rig: RigConfig{
			Host: "127.0.0.1", Port: 4532,
			FreqQueryInterval: 0.1, SocketReconInterval: 3.0, Timeout: 2.0,
		},
		SDR: SDRConfig{
			Host: "127.0.0.1", Port: 7356,
			FreqQueryInterval: 0.1, SocketReconInterval: 3.0, Timeout: 2.0,
		},
		Sync: SyncConfig{
			DebounceTime:         3.0,
			WaitBeforeLogRigFreq: 5.0,
			NudgeBuffer:          10,
			ReadBufferSize:       1024,
			MaxReadBufferBytes:   64 * 1024,
		},
		Scheduler: SchedulerConfig{
			ReconnectInterval: 3.0,
			BackoffCap:        60.0,
			Jitter:            0.10,
			MaxWorkers:        4,
			SlowThreshold:     1.0,
		},
		Devices: DevicesConfig{Enabled: []string{"rig", "sdr"}},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads and parses path, overlaying it onto Default(). A missing
// file is a configuration error (taxonomy kind 6 in spec §7): it is
// logged and the defaults are used, the engine still starts.
func Load(path string) Config {
	cfg := Default()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("config: could not read %s: %v; using defaults", path, err)
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("config: could not parse %s: %v; using defaults", path, err)
		return Default()
	}
	return cfg
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// EngineConfig translates the YAML shape into syncengine.Config.
func (c Config) EngineConfig() syncengine.Config {
	return syncengine.Config{
		IfreqMHz:               c.Sync.IfreqMHz,
		RigHost:                c.Rig.Host,
		RigPort:                c.Rig.Port,
		SDRHost:                c.SDR.Host,
		SDRPort:                c.SDR.Port,
		RigFreqQueryInterval:   seconds(c.Rig.FreqQueryInterval),
		SDRFreqQueryInterval:   seconds(c.SDR.FreqQueryInterval),
		RigSocketReconInterval: seconds(c.Rig.SocketReconInterval),
		SDRSocketReconInterval: seconds(c.SDR.SocketReconInterval),
		RigTimeout:             seconds(c.Rig.Timeout),
		SDRTimeout:             seconds(c.SDR.Timeout),
		SyncDebounceTime:       seconds(c.Sync.DebounceTime),
		WaitBeforeLogRigFreq:   seconds(c.Sync.WaitBeforeLogRigFreq),
		NudgeBuffer:            c.Sync.NudgeBuffer,
		ReadBufferSize:         c.Sync.ReadBufferSize,
		MaxReadBufferBytes:     c.Sync.MaxReadBufferBytes,
		FreqLogPath:            c.Sync.FreqLogPath,
	}
}

// SchedulerConfig translates the YAML shape into scheduler.Config.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		ReconnectInterval: seconds(c.Scheduler.ReconnectInterval),
		BackoffCap:        seconds(c.Scheduler.BackoffCap),
		Jitter:            c.Scheduler.Jitter,
		MaxWorkers:        c.Scheduler.MaxWorkers,
		SlowThreshold:     seconds(c.Scheduler.SlowThreshold),
	}
}

// MQTTPublisherConfig translates the YAML shape into telemetry.MQTTConfig.
func (c Config) MQTTPublisherConfig() telemetry.MQTTConfig {
	return telemetry.MQTTConfig{
		Enabled:  c.MQTT.Enabled,
		Broker:   c.MQTT.Broker,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
		Topic:    c.MQTT.Topic,
		TLS:      c.MQTT.TLS,
	}
}
