package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DebugMode enables verbose logging via --debug or DEBUG=1.
	DebugMode bool

	// StartTime is used for uptime reporting on /status.
	StartTime = time.Now()
)

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	serialPort := flag.String("port", "", "Serial port of the RF Explorer (overrides config)")
	wsPort := flag.Int("ws-port", 0, "WebSocket listen port (overrides config)")
	listPorts := flag.Bool("list", false, "List available serial ports and exit")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	DebugMode = *debugFlag || os.Getenv("DEBUG") == "1"

	if *listPorts {
		if err := listSerialPorts(); err != nil {
			log.Fatalf("ERROR: %v", err)
		}
		return
	}

	config, err := LoadConfig(*configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("Config file %s not found, using defaults", *configFile)
			config = DefaultConfig()
		} else {
			log.Fatalf("ERROR: %v", err)
		}
	}

	if *serialPort != "" {
		config.Serial.Port = *serialPort
	}
	if *wsPort != 0 {
		config.Server.Listen = fmt.Sprintf("localhost:%d", *wsPort)
	}

	if err := config.Validate(); err != nil {
		log.Fatalf("ERROR: Invalid configuration: %v", err)
	}

	log.Printf("RF Explorer bridge starting (port: %s, baud: %d)", config.Serial.Port, config.Serial.BaudRate)

	transport, err := openSerialTransport(config.Serial.Port, config.Serial.BaudRate)
	if err != nil {
		log.Fatalf("ERROR: Failed to open serial port: %v", err)
	}
	rf := NewRFExplorerController(transport, config.Spectrum.Default.SweepConfig())

	var metrics *PrometheusMetrics
	if config.Prometheus.Enabled {
		metrics = NewPrometheusMetrics()
		log.Println("Prometheus metrics enabled at /metrics")
	}

	sessions := NewSessionManager(config, metrics)

	var mqttPub *MQTTPublisher
	if config.MQTT.Enabled {
		mqttPub, err = NewMQTTPublisher(&config.MQTT)
		if err != nil {
			// Frames still flow to WebSocket clients without the broker.
			log.Printf("Warning: MQTT publisher disabled: %v", err)
			mqttPub = nil
		}
	}

	bridge := NewBridge(rf, sessions, mqttPub, metrics, config)
	bridge.Start()

	// Give the device a moment to settle before asking for its config.
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := rf.RequestConfig(); err != nil {
			log.Printf("Warning: Initial config request failed: %v", err)
		}
	}()

	wsHandler := NewWebSocketHandler(sessions, rf, metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)
	mux.Handle("/status", NewStatusHandler(sessions, rf))
	if config.Prometheus.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:    config.Server.Listen,
		Handler: mux,
	}

	go func() {
		log.Printf("WebSocket server listening on ws://%s/ws", config.Server.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ERROR: HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Warning: HTTP server shutdown: %v", err)
	}

	bridge.Stop()
	sessions.Shutdown()

	if mqttPub != nil {
		mqttPub.Disconnect()
	}
	if err := rf.Close(); err != nil {
		log.Printf("Warning: Serial port close: %v", err)
	}

	log.Println("Shutdown complete")
}
