package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aircast/aircast/internal/metrics"
	"github.com/aircast/aircast/internal/models"
	"github.com/aircast/aircast/internal/store"
)

// SensorPayload is the JSON message published by the sensor node.
// Timestamp is optional; messages without one are stamped on arrival.
type SensorPayload struct {
	PM25        float64 `json:"pm25"`
	PM10        float64 `json:"pm10"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	GasLevel    float64 `json:"gas_level"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

type SubscriberConfig struct {
	Broker   string
	ClientID string
	Topic    string
}

// Subscriber consumes sensor readings from MQTT and writes them to the
// store. Reconnects are handled by the paho client; the initial
// connect retries with exponential backoff.
type Subscriber struct {
	client mqtt.Client
	cfg    SubscriberConfig
	store  *store.Store
}

func NewSubscriber(cfg SubscriberConfig, st *store.Store) *Subscriber {
	s := &Subscriber{cfg: cfg, store: st}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("ingest: connected to %s", cfg.Broker)
		token := c.Subscribe(cfg.Topic, 1, s.handleMessage)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("ingest: subscribe %s: %v", cfg.Topic, token.Error())
			return
		}
		log.Printf("ingest: subscribed to %s", cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("ingest: connection lost: %v", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Run connects to the broker and blocks until the context is
// cancelled. Subscription is re-established by the OnConnect handler
// after every reconnect.
func (s *Subscriber) Run(ctx context.Context) error {
	connect := func() error {
		token := s.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("connect timeout")
		}
		return token.Error()
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(connect, policy); err != nil {
		return fmt.Errorf("ingest: connect to %s: %w", s.cfg.Broker, err)
	}

	<-ctx.Done()
	s.client.Disconnect(250)
	log.Println("ingest: disconnected")
	return nil
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload SensorPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("ingest: bad payload on %s: %v", msg.Topic(), err)
		metrics.ReadingsRejected.WithLabelValues("parse_error").Inc()
		return
	}

	reading, flags, err := ReadingFromPayload(payload, time.Now())
	if err != nil {
		log.Printf("ingest: %v", err)
		metrics.ReadingsRejected.WithLabelValues("bad_timestamp").Inc()
		return
	}
	if len(flags) > 0 {
		log.Printf("ingest: rejected reading at %s: %s", reading.RecordedAt.Format(time.RFC3339), strings.Join(flags, ","))
		for _, flag := range flags {
			metrics.ReadingsRejected.WithLabelValues(flag).Inc()
		}
		return
	}

	if err := s.store.InsertReading(reading); err != nil {
		log.Printf("ingest: insert reading: %v", err)
		return
	}
	metrics.ReadingsIngested.Inc()
}

// ReadingFromPayload converts a decoded payload into a Reading,
// returning any quality flags alongside it.
func ReadingFromPayload(payload SensorPayload, now time.Time) (models.Reading, []string, error) {
	recordedAt := now.UTC()
	if payload.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, payload.Timestamp)
		if err != nil {
			return models.Reading{}, nil, fmt.Errorf("parse timestamp %q: %w", payload.Timestamp, err)
		}
		recordedAt = t.UTC()
	}

	reading := models.Reading{
		RecordedAt:  recordedAt,
		PM25:        payload.PM25,
		PM10:        payload.PM10,
		Temperature: payload.Temperature,
		Humidity:    payload.Humidity,
		GasLevel:    payload.GasLevel,
	}
	return reading, ValidateReading(&reading), nil
}
