// Command pansyncer bridges a CAT-protocol rig and an SDR receiver,
// keeping their tuned frequencies in sync.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/makrohard/pansyncer/internal/band"
	"github.com/makrohard/pansyncer/internal/config"
	"github.com/makrohard/pansyncer/internal/healthcheck"
	"github.com/makrohard/pansyncer/internal/inputdevice"
	"github.com/makrohard/pansyncer/internal/orchestrator"
	"github.com/makrohard/pansyncer/internal/registry"
	"github.com/makrohard/pansyncer/internal/renderer"
	"github.com/makrohard/pansyncer/internal/scheduler"
	"github.com/makrohard/pansyncer/internal/step"
	"github.com/makrohard/pansyncer/internal/syncengine"
	"github.com/makrohard/pansyncer/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "pansyncer.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		*debug = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}

	cfg := config.Load(*configPath)
	if cfg.Log.Level == "debug" {
		*debug = true
	}
	if *debug {
		log.Println("DEBUG: debug mode enabled")
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	loadSampler := telemetry.NewLoadSampler(log.Printf)

	mqttPub, err := telemetry.NewPublisher(cfg.MQTTPublisherConfig())
	if err != nil {
		log.Printf("mqtt: disabled: %v", err)
	}
	defer mqttPub.Close()

	wsRenderer := renderer.NewWebSocket()
	logRenderer := renderer.NewLog(log.Printf)
	fanout := multiRenderer{logRenderer, wsRenderer, mqttPub}

	engine := syncengine.New(cfg.EngineConfig(), fanout, metrics)
	defer engine.Shutdown("")

	onSlowProbe := func(tag string, duration time.Duration) {
		metrics.SlowProbe(tag, duration)
		loadSampler.OnSlowProbe(tag, duration)
	}
	sched := scheduler.New(cfg.SchedulerConfig(), log.Printf, onSlowProbe)
	defer sched.Shutdown(true)

	deviceRegistry := registry.New(cfg.Devices.Enabled)
	bandClassifier := band.New(nil, nil)
	stepCycler := step.New(nil)
	dispatcher := inputdevice.NewDispatcher() // hardware adapters wire in via inputdevice.Source

	orch := orchestrator.New(engine, sched, deviceRegistry, bandClassifier, stepCycler, dispatcher, fanout)
	defer orch.Dispatcher.Close()

	rigChecker := healthcheck.New(cfg.Rig.Host, cfg.Rig.Port, "f\n", 2*time.Second, nil)
	sdrChecker := healthcheck.New(cfg.SDR.Host, cfg.SDR.Port, "f\n", 2*time.Second, nil)
	rigProbe := probeWithFailureMetric(rigChecker.Probe, "healthcheck.rig", metrics)
	sdrProbe := probeWithFailureMetric(sdrChecker.Probe, "healthcheck.sdr", metrics)
	// The scheduler keys tasks by code pointer, which both wrapped probes
	// share; a separate func literal per probe keeps them two tasks.
	sched.Register(func() error { return rigProbe() }, "healthcheck.rig", true, true)
	sched.Register(func() error { return sdrProbe() }, "healthcheck.sdr", true, true)

	if cfg.Prometheus.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("prometheus: listening on %s", cfg.Prometheus.Addr)
			if err := http.ListenAndServe(cfg.Prometheus.Addr, mux); err != nil {
				log.Printf("prometheus: server stopped: %v", err)
			}
		}()
	}

	if cfg.WebSocket.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc(cfg.WebSocket.Path, wsRenderer.HandleWebSocket)
		go func() {
			log.Printf("websocket: listening on %s%s", cfg.WebSocket.Addr, cfg.WebSocket.Path)
			if err := http.ListenAndServe(cfg.WebSocket.Addr, mux); err != nil {
				log.Printf("websocket: server stopped: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Println("shutting down")
		cancel()
	}()

	orch.Run(ctx)
}

// probeWithFailureMetric wraps a scheduler.Probe so every failed
// attempt is counted against tag before the error reaches the
// scheduler's own backoff bookkeeping.
func probeWithFailureMetric(probe func() error, tag string, metrics *telemetry.Metrics) func() error {
	return func() error {
		err := probe()
		if err != nil {
			metrics.ProbeFailed(tag)
		}
		return err
	}
}

// multiRenderer fans every Renderer call out to each backing sink, so
// the log and websocket renderers both observe the engine's ticks.
type multiRenderer []syncengine.Renderer

func (m multiRenderer) SetSyncMode(on bool) {
	for _, r := range m {
		r.SetSyncMode(on)
	}
}

func (m multiRenderer) SetStepValue(hz int64) {
	for _, r := range m {
		r.SetStepValue(hz)
	}
}

func (m multiRenderer) SetMode(label string) {
	for _, r := range m {
		r.SetMode(label)
	}
}

func (m multiRenderer) SetIfreq(mhz float64) {
	for _, r := range m {
		r.SetIfreq(mhz)
	}
}

func (m multiRenderer) SetRig(freqHz *int64, connected bool) {
	for _, r := range m {
		r.SetRig(freqHz, connected)
	}
}

func (m multiRenderer) SetSDR(freqHz *int64, connected bool) {
	for _, r := range m {
		r.SetSDR(freqHz, connected)
	}
}

func (m multiRenderer) SetBandName(name string) {
	for _, r := range m {
		r.SetBandName(name)
	}
}

func (m multiRenderer) Log(line string) {
	for _, r := range m {
		r.Log(line)
	}
}
