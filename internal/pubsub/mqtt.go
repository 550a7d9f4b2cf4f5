// Package pubsub provides sink implementations for decoded readings.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-shine/internal/config"
	"github.com/resident-x/go-shine/internal/domain"
)

const publishTimeout = 5 * time.Second

// NoopSink is a no-operation implementation of the domain.Sink interface.
type NoopSink struct{}

// NewNoopSink creates a new no-operation sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

// Report is a no-op for the NoopSink.
func (s *NoopSink) Report(_ context.Context, _, _ string, _ domain.Reading) error {
	return nil
}

// DeviceIdle is a no-op for the NoopSink.
func (s *NoopSink) DeviceIdle(_ string) error { return nil }

// DeviceOffline is a no-op for the NoopSink.
func (s *NoopSink) DeviceOffline() error { return nil }

// Close is a no-op for the NoopSink.
func (s *NoopSink) Close() error { return nil }

// MQTTSink implements domain.Sink on an MQTT broker. Readings are
// published as JSON under <topic>/<deviceID>; liveness events drive the
// same topics so downstream dashboards reset.
type MQTTSink struct {
	config        *config.Config
	client        mqtt.Client
	connected     bool
	logger        zerolog.Logger
	clientFactory func(*config.Config) mqtt.Client // Factory function for creating MQTT clients (testable)
}

// NewMQTTSink creates a new MQTT sink.
func NewMQTTSink(cfg *config.Config) *MQTTSink {
	return &MQTTSink{
		config:        cfg,
		clientFactory: createMQTTClient,
		logger:        log.With().Str("component", "mqtt").Logger(),
	}
}

// NewMQTTSinkWithClient creates a new MQTT sink with a custom client (for testing).
func NewMQTTSinkWithClient(cfg *config.Config, client mqtt.Client) *MQTTSink {
	return &MQTTSink{
		config:    cfg,
		client:    client,
		connected: true,
		logger:    log.With().Str("component", "mqtt").Logger(),
	}
}

// createMQTTClient is the default factory function for creating MQTT clients.
func createMQTTClient(cfg *config.Config) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port)).
		SetClientID(fmt.Sprintf("go-shine-%d", time.Now().Unix())).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(false)

	// Set credentials if provided
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	return mqtt.NewClient(opts)
}

// Connect establishes a connection to the MQTT broker.
func (s *MQTTSink) Connect(ctx context.Context) error {
	if !s.config.MQTT.Enabled {
		return nil
	}

	if s.client == nil {
		s.client = s.clientFactory(s.config)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	token := s.client.Connect()
	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: timeout after 10 seconds")
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
		}
	}

	s.connected = true
	s.logger.Info().
		Str("host", s.config.MQTT.Host).
		Int("port", s.config.MQTT.Port).
		Msg("Connected to MQTT broker")

	return nil
}

// Report publishes a reading as JSON under <topic>/<deviceID>.
func (s *MQTTSink) Report(_ context.Context, deviceID, kind string, reading domain.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal %s reading: %w", kind, err)
	}

	topic := s.deviceTopic(deviceID)
	if err := s.publish(topic, payload, s.config.MQTT.Retain); err != nil {
		return err
	}

	s.logger.Debug().
		Str("topic", topic).
		Str("kind", kind).
		Int("bytes", len(payload)).
		Msg("Published reading")

	return nil
}

// DeviceIdle publishes a zeroed data reading so downstream consumers reset
// their last-known values for the device.
func (s *MQTTSink) DeviceIdle(deviceID string) error {
	reset := domain.DataReading{
		WifiSerial: deviceID,
		Status:     domain.StatusWaiting,
	}

	payload, err := json.Marshal(reset)
	if err != nil {
		return fmt.Errorf("failed to marshal reset reading: %w", err)
	}

	topic := s.deviceTopic(deviceID)
	if err := s.publish(topic, payload, s.config.MQTT.Retain); err != nil {
		return err
	}

	s.logger.Info().Str("topic", topic).Msg("Published zero-reset for idle device")
	return nil
}

// DeviceOffline publishes a status message on the base topic.
func (s *MQTTSink) DeviceOffline() error {
	payload := []byte(`{"status":"offline"}`)
	topic := s.config.MQTT.Topic + "/status"

	if err := s.publish(topic, payload, true); err != nil {
		return err
	}

	s.logger.Warn().Str("topic", topic).Msg("Published offline status")
	return nil
}

// Close terminates the connection to the MQTT broker.
func (s *MQTTSink) Close() error {
	if s.client != nil && s.connected {
		s.client.Disconnect(250)
		s.connected = false
	}
	return nil
}

func (s *MQTTSink) deviceTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s", s.config.MQTT.Topic, deviceID)
}

func (s *MQTTSink) publish(topic string, payload []byte, retain bool) error {
	if !s.config.MQTT.Enabled {
		return nil
	}
	if s.client == nil || !s.connected {
		return fmt.Errorf("MQTT client not connected")
	}

	token := s.client.Publish(topic, 0, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("publish to %s failed: %w", topic, token.Error())
	}

	return nil
}
