package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// DebugMode gates verbose operational logging across every component.
var DebugMode bool

// StartTime tracks process uptime.
var StartTime time.Time

func main() {
	StartTime = time.Now()

	configDir := flag.String("config-dir", ".", "Directory containing configuration files")
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	configPath := *configFile
	if *configDir != "." {
		configPath = *configDir + "/" + *configFile
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	DebugMode = *debug || config.Logging.Debug
	if debugEnv := os.Getenv("DEBUG"); debugEnv != "" {
		DebugMode = debugEnv == "true" || debugEnv == "1" || debugEnv == "yes"
	}
	if DebugMode {
		log.Println("debug mode enabled")
	}

	parser := NewStreamParser(config.Parser)
	analyzer := NewSweepAnalyzer(config.Analyzer)
	processor := NewSignalProcessor(config.Processor)
	window := NewTimeWindowFilter(config.Window)
	cycler := NewFrequencyCycler()
	tracker := NewErrorTracker(config.Recovery)
	push := NewPushDeliveryLayer(config.Push)

	controller := NewSweepController(config.Sweep, parser, analyzer, processor, window, cycler, tracker, push)
	recovery := NewRecoverySupervisor(config.Recovery, controller, push)
	controller.AttachRecovery(recovery)
	external := NewExternalSignalBridge(config.External, window, push, processor)

	if err := controller.CheckSweepAvailability(); err != nil {
		log.Printf("warning: sweep binary preflight failed: %v", err)
	}

	window.Start()
	defer window.Stop()

	if err := controller.StartSweep(config.Sweep.Frequencies, time.Duration(config.Sweep.CycleTimeMs)*time.Millisecond); err != nil {
		log.Printf("warning: initial sweep start failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startWatchdog(ctx, controller, recovery, push, external, config)

	var metrics *Metrics
	if config.Prometheus.Enabled {
		metrics = NewMetrics()
		startMetricsObserver(ctx, metrics, controller, window, processor, push, recovery, external)
	}

	var mqttPublisher *MQTTPublisher
	if config.MQTT.Enabled {
		mqttPublisher, err = NewMQTTPublisher(config.MQTT, controller, window, recovery)
		if err != nil {
			log.Printf("warning: mqtt publisher disabled: %v", err)
		} else if mqttPublisher != nil {
			mqttPublisher.StartPublisher(ctx)
		}
	}

	wsServer := NewWebSocketServer(push, controller)
	httpServer := NewHTTPServer(controller, cycler, window, recovery)

	mux := http.NewServeMux()
	httpServer.RegisterRoutes(mux)
	mux.HandleFunc("/ws", wsServer.ServeHTTP)
	mux.HandleFunc(config.Server.ReadyPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if metrics != nil {
		mux.Handle(config.Prometheus.Path, metrics.Handler())
	}

	srv := &http.Server{Addr: config.Server.ListenAddr, Handler: mux}

	var mcpSrv *MCPServer
	if config.MCP.Enabled {
		mcpSrv = NewMCPServer(config.MCP, controller, window, cycler, recovery)
		go func() {
			log.Printf("mcp server listening on %s", config.MCP.ListenAddr)
			if err := http.ListenAndServe(config.MCP.ListenAddr, mcpSrv.httpServer); err != nil && err != http.ErrServerClosed {
				log.Printf("mcp server error: %v", err)
			}
		}()
	}

	var externalSrv *http.Server
	if config.External.Enabled {
		externalMux := http.NewServeMux()
		externalMux.HandleFunc("/ingest", ingestHandler(external))
		externalSrv = &http.Server{Addr: config.External.ListenAddr, Handler: externalMux}
		go func() {
			log.Printf("external signal bridge listening on %s", config.External.ListenAddr)
			if err := externalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("external bridge server error: %v", err)
			}
		}()
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("shutting down")
		cancel()
		controller.StopSweep()
		if mqttPublisher != nil {
			mqttPublisher.Disconnect()
		}
		if externalSrv != nil {
			externalSrv.Close()
		}
		srv.Close()
	}()

	log.Printf("server listening on %s", config.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// ingestHandler accepts a single Kismet-style device record as JSON and
// feeds it through the external signal bridge's rate limiter.
func ingestHandler(external *ExternalSignalBridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var rec KismetDeviceRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			http.Error(w, "invalid record", http.StatusBadRequest)
			return
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now()
		}
		if !external.Ingest(rec) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// startWatchdog runs the periodic liveness/recovery/heartbeat ticks that,
// in the dual-task model, stand in for the analysis task's idle-time
// housekeeping: stream-staleness detection (S6) — which itself classifies
// and routes into the recovery supervisor via handleTrackedError — plus
// recovery-history pruning, subscriber heartbeats, and external
// rate-limiter cleanup.
func startWatchdog(ctx context.Context, controller *SweepController, recovery *RecoverySupervisor, push *PushDeliveryLayer, external *ExternalSignalBridge, config *Config) {
	ticker := time.NewTicker(time.Second)
	heartbeat := time.NewTicker(time.Duration(config.Push.HeartbeatIntervalSec) * time.Second)
	cleanup := time.NewTicker(time.Minute)

	go func() {
		defer ticker.Stop()
		defer heartbeat.Stop()
		defer cleanup.Stop()
		for {
			select {
			case <-ticker.C:
				controller.CheckStreamLiveness()
			case <-heartbeat.C:
				push.Heartbeat()
			case <-cleanup.C:
				recovery.PruneHistory()
				external.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// startMetricsObserver periodically samples every component into the
// Prometheus gauges, mirroring the teacher's periodic-sampling metrics idiom
// rather than updating gauges inline on every hot-path call.
func startMetricsObserver(ctx context.Context, metrics *Metrics, controller *SweepController, window *TimeWindowFilter, processor *SignalProcessor, push *PushDeliveryLayer, recovery *RecoverySupervisor, external *ExternalSignalBridge) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.ObserveStatus(controller.Status(), recovery.BreakerStates())
				metrics.ObserveWindow(window.Snapshot(), processor.DatabaseSize())
				metrics.ObservePush(push.SubscriberCount())
				metrics.ObserveExternal(external.TrackedMACCount())
			case <-ctx.Done():
				return
			}
		}
	}()
}
