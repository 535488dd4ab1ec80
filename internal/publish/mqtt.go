// Package publish mirrors fleet updates onto an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-replay/internal/fleet"
	"github.com/ukydev/fleet-replay/internal/metrics"
	"github.com/ukydev/fleet-replay/internal/models"
	"github.com/ukydev/fleet-replay/internal/playback"
)

const (
	qosAtLeastOnce = 1
	publishTimeout = 5 * time.Second
	queueSize      = 256
)

var (
	ErrPublishTimeout = errors.New("mqtt publish timed out")
	ErrQueueFull      = errors.New("mqtt publish queue full")
)

// Publisher is the subset of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// AlertMessage is published for every revealed alert event.
type AlertMessage struct {
	SessionID string        `json:"sessionId"`
	TripID    string        `json:"tripId"`
	Alert     metrics.Alert `json:"alert"`
}

// MQTTSink publishes the fleet snapshot retained on Topic and alerts on
// Topic/alerts. Updates are queued by Publish and sent by Run, so broker
// round trips never hold up playback.
type MQTTSink struct {
	client Publisher
	topic  string
	logger logrus.FieldLogger
	queue  chan fleet.Update
}

// NewMQTTSink creates a sink over an already connected client. Nothing is
// sent until Run is started.
func NewMQTTSink(client Publisher, topic string, logger logrus.FieldLogger) *MQTTSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MQTTSink{
		client: client,
		topic:  topic,
		logger: logger,
		queue:  make(chan fleet.Update, queueSize),
	}
}

// Connect dials broker and returns a connected client.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return client, nil
}

// AlertsTopic returns the topic alerts are published on.
func (s *MQTTSink) AlertsTopic() string { return s.topic + "/alerts" }

// Publish implements fleet.Sink. It only queues u and fails with
// ErrQueueFull when the broker has fallen behind.
func (s *MQTTSink) Publish(u fleet.Update) error {
	select {
	case s.queue <- u:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run sends queued updates in order until ctx is done.
func (s *MQTTSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.queue:
			if err := s.deliver(u); err != nil {
				s.logger.WithFields(logrus.Fields{
					"type":   u.Type,
					"cursor": u.Snapshot.Cursor,
					"error":  err,
				}).Warn("Failed to publish update to MQTT")
			}
		}
	}
}

func (s *MQTTSink) deliver(u fleet.Update) error {
	payload, err := json.Marshal(u.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.send(s.topic, true, payload); err != nil {
		return err
	}

	if u.Type != playback.NotifyEvent || u.Event == nil || !metrics.IsAlert(u.Event.EventType) {
		return nil
	}
	alerts := metrics.ExtractAlerts([]*models.Event{u.Event})
	msg, err := json.Marshal(AlertMessage{SessionID: u.Snapshot.SessionID, TripID: u.TripID, Alert: alerts[0]})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"trip_id": u.TripID, "type": u.Event.EventType}).Debug("Publishing alert")
	return s.send(s.AlertsTopic(), false, msg)
}

func (s *MQTTSink) send(topic string, retained bool, payload []byte) error {
	token := s.client.Publish(topic, qosAtLeastOnce, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}
