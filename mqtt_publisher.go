package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// StatusPayload is one periodic status/health telemetry message.
type StatusPayload struct {
	Timestamp       int64             `json:"timestamp"`
	ControllerState string            `json:"controller_state"`
	CurrentFreqHz   uint64            `json:"current_freq_hz,omitempty"`
	HealthScore     float64           `json:"health_score"`
	ActiveSignals   int               `json:"active_signals"`
	FadingSignals   int               `json:"fading_signals"`
	BreakerStates   map[string]string `json:"breaker_states,omitempty"`
}

// MQTTPublisher pushes periodic status/health summaries over MQTT,
// following the teacher's MQTTPublisher connect/reconnect/TLS and
// ticker-driven publish loop.
type MQTTPublisher struct {
	client     mqtt.Client
	config     MQTTConfig
	controller *SweepController
	window     *TimeWindowFilter
	recovery   *RecoverySupervisor
}

// generateClientID creates a random client ID for the MQTT connection.
func generateClientID(prefix string) string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return prefix + "_" + hex.EncodeToString(bytes)
}

// loadTLSConfig builds a tls.Config from the configured CA/cert/key paths.
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	cfg := &tls.Config{}

	if tlsConfig.CAFile != "" {
		caCert, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse MQTT CA certificate")
		}
		cfg.RootCAs = pool
	}

	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading MQTT client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// NewMQTTPublisher connects to the configured broker and returns a ready
// publisher. Returns nil, nil when MQTT is disabled.
func NewMQTTPublisher(config MQTTConfig, controller *SweepController, window *TimeWindowFilter, recovery *RecoverySupervisor) (*MQTTPublisher, error) {
	if !config.Enabled {
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID(config.ClientIDPrefix))
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	tlsCfg, err := loadTLSConfig(config.TLS)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("mqtt publisher: connected to %s", config.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Printf("mqtt publisher: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return &MQTTPublisher{
		client:     client,
		config:     config,
		controller: controller,
		window:     window,
		recovery:   recovery,
	}, nil
}

// StartPublisher launches the periodic status publish loop, exiting when
// ctx is cancelled.
func (mp *MQTTPublisher) StartPublisher(ctx context.Context) {
	interval := time.Duration(mp.config.PublishInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mp.publishStatus()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (mp *MQTTPublisher) publishStatus() {
	status := mp.controller.Status()
	snap := mp.window.Snapshot()

	breakerStates := make(map[string]string)
	for service, state := range mp.recovery.BreakerStates() {
		breakerStates[service] = state.String()
	}

	payload := StatusPayload{
		Timestamp:       time.Now().Unix(),
		ControllerState: status.ControllerState.String(),
		HealthScore:     status.HealthScore,
		ActiveSignals:   len(snap.Active),
		FadingSignals:   len(snap.Fading),
		BreakerStates:   breakerStates,
	}
	if status.HasCurrentFreq {
		payload.CurrentFreqHz = status.CurrentFreq
	}

	mp.publish(mp.config.TopicPrefix+"/status", payload)
}

func (mp *MQTTPublisher) publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mqtt publisher: marshal error: %v", err)
		return
	}
	token := mp.client.Publish(topic, 0, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Printf("mqtt publisher: publish to %s failed: %v", topic, token.Error())
		}
	}()
}

// Disconnect gracefully tears down the MQTT connection.
func (mp *MQTTPublisher) Disconnect() {
	if mp.client != nil {
		mp.client.Disconnect(250)
	}
}
