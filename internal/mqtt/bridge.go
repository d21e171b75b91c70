// Package mqtt bridges devices that publish GPS batches over MQTT into
// the same ingestion pipeline the HTTP API uses.
package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rhaen/tracker/internal/auth"
	"github.com/rhaen/tracker/internal/tracking"
	log "github.com/sirupsen/logrus"
)

const ingestTimeout = 10 * time.Second

// ingestMessage is one published batch. The token is the device's API
// token; the session id comes from the topic.
type ingestMessage struct {
	Token  string                `json:"token"`
	Points []tracking.PointInput `json:"points"`
}

// Bridge subscribes to the ingest topic and forwards batches.
type Bridge struct {
	client      paho.Client
	authService *auth.Service
	ingestor    *tracking.Ingestor
	topic       string
}

// NewBridge creates the bridge and its MQTT client. Connect and
// subscribe happen in Start.
func NewBridge(brokerURL, clientID, topic string, authService *auth.Service, ingestor *tracking.Ingestor) *Bridge {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(paho.Client) {
			log.WithField("broker", brokerURL).Info("mqtt connected")
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("mqtt connection lost")
		})

	return &Bridge{
		client:      paho.NewClient(opts),
		authService: authService,
		ingestor:    ingestor,
		topic:       topic,
	}
}

// Start connects to the broker and subscribes to the ingest topic.
func (b *Bridge) Start() error {
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := b.client.Subscribe(b.topic, 1, b.handle); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.WithField("topic", b.topic).Info("mqtt ingest bridge subscribed")
	return nil
}

// Stop unsubscribes and disconnects.
func (b *Bridge) Stop() {
	if token := b.client.Unsubscribe(b.topic); token.Wait() && token.Error() != nil {
		log.WithError(token.Error()).Warn("mqtt unsubscribe failed")
	}
	b.client.Disconnect(250)
}

func (b *Bridge) handle(_ paho.Client, msg paho.Message) {
	sessionID := sessionIDFromTopic(msg.Topic())
	if sessionID == "" {
		log.WithField("topic", msg.Topic()).Warn("mqtt message without session id")
		return
	}

	var payload ingestMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.WithError(err).WithField("topic", msg.Topic()).Warn("malformed mqtt ingest payload")
		return
	}

	claims, err := b.authService.ValidateToken(payload.Token)
	if err != nil {
		log.WithField("session_id", sessionID).Warn("mqtt ingest with invalid token")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	res, err := b.ingestor.Ingest(ctx, sessionID, claims.UserID, payload.Points)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"session_id": sessionID,
			"user_id":    claims.UserID,
		}).Warn("mqtt ingest rejected")
		return
	}

	log.WithFields(log.Fields{
		"session_id": sessionID,
		"accepted":   res.Accepted,
		"inserted":   res.Inserted,
	}).Debug("mqtt batch ingested")
}

// sessionIDFromTopic extracts the trailing segment of the ingest topic.
func sessionIDFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
