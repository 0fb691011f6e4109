// Package live runs the streaming detector against a real sensor feed: an
// MQTT collector ingests watch samples, and an HTTP/websocket server hands
// confirmed pinches to clients.
package live

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/moussaba/dhikr-counter/pinchsense"
	"github.com/moussaba/dhikr-counter/storage"
)

// Config holds transport settings for the live pipeline.
type Config struct {
	Broker          string
	Port            int
	UseTLS          bool
	InsecureSkipTLS bool
	Username        string
	Password        string

	SampleTopic string
	EventTopic  string
	QueueSize   int
	BufferSize  int
	MaxEvents   int
	HTTPAddr    string
}

// DefaultConfig returns settings for a local broker.
func DefaultConfig() Config {
	return Config{
		Broker:      "localhost",
		Port:        1883,
		SampleTopic: "watch/+/imu",
		EventTopic:  "pinch/events",
		QueueSize:   4096,
		BufferSize:  6000, // one minute at 100 Hz
		MaxEvents:   500,
		HTTPAddr:    ":8089",
	}
}

// samplePayload accepts both the compact and the verbose watch layouts.
type samplePayload struct {
	T     *float64  `json:"t"`
	TimeS *float64  `json:"time_s"`
	Acc   []float64 `json:"acc"`
	Gyro  []float64 `json:"gyro"`

	UserAcceleration *axes `json:"userAcceleration"`
	RotationRate     *axes `json:"rotationRate"`
}

type axes struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type sample struct {
	t    float64
	acc  [3]float64
	gyro [3]float64
}

// Stats counts collector activity.
type Stats struct {
	SamplesReceived atomic.Int64
	SamplesDropped  atomic.Int64
	DecodeFailures  atomic.Int64
	EventsConfirmed atomic.Int64
}

// Snapshot flattens the counters for the status endpoint.
func (s *Stats) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"samples_received": s.SamplesReceived.Load(),
		"samples_dropped":  s.SamplesDropped.Load(),
		"decode_failures":  s.DecodeFailures.Load(),
		"events_confirmed": s.EventsConfirmed.Load(),
	}
}

// Collector subscribes to the sample topic and drives the streaming
// detector from a single goroutine, preserving sample order.
type Collector struct {
	config   Config
	client   mqtt.Client
	detector *pinchsense.StreamingDetector
	buffer   *storage.RingBuffer
	stats    *Stats

	samples chan sample
	done    chan struct{}
	group   *errgroup.Group
}

// NewCollector wires a collector to a fresh streaming detector and frame
// buffer.
func NewCollector(config Config, detCfg pinchsense.Config) (*Collector, error) {
	det, err := pinchsense.NewStreamingDetector(detCfg)
	if err != nil {
		return nil, err
	}
	return &Collector{
		config:   config,
		detector: det,
		buffer:   storage.NewRingBuffer(config.BufferSize, config.MaxEvents),
		stats:    &Stats{},
		samples:  make(chan sample, config.QueueSize),
		done:     make(chan struct{}),
	}, nil
}

// Buffer exposes the frame/event history for the server.
func (c *Collector) Buffer() *storage.RingBuffer { return c.buffer }

// Detector exposes the streaming detector so callers can attach listeners.
func (c *Collector) Detector() *pinchsense.StreamingDetector { return c.detector }

// StatsSnapshot flattens the collector counters for the status endpoint.
func (c *Collector) StatsSnapshot() map[string]interface{} { return c.stats.Snapshot() }

// Start connects to the broker and launches the detector worker.
func (c *Collector) Start(ctx context.Context) error {
	log.Info().Str("broker", c.config.Broker).Int("port", c.config.Port).
		Str("topic", c.config.SampleTopic).Msg("starting live collector")

	opts := mqtt.NewClientOptions()
	protocol := "tcp"
	if c.config.UseTLS {
		protocol = "tls"
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: c.config.InsecureSkipTLS})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", protocol, c.config.Broker, c.config.Port))
	opts.SetClientID(fmt.Sprintf("pinch-collector-%d", time.Now().Unix()))
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = c.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost, will reconnect")
	}

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt connect failed: %w", token.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	c.group = g
	g.Go(func() error { return c.detectLoop(gctx) })
	g.Go(func() error { return c.statsLoop(gctx) })

	log.Info().Msg("live collector started")
	return nil
}

// Stop disconnects and waits for the workers to drain.
func (c *Collector) Stop() {
	close(c.done)
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(1000)
	}
	if c.group != nil {
		_ = c.group.Wait()
	}
	log.Info().
		Int64("samples", c.stats.SamplesReceived.Load()).
		Int64("events", c.stats.EventsConfirmed.Load()).
		Msg("live collector stopped")
}

func (c *Collector) onConnect(client mqtt.Client) {
	token := client.Subscribe(c.config.SampleTopic, 0, c.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		log.Error().Str("topic", c.config.SampleTopic).Msg("mqtt subscribe timeout")
		return
	}
	if token.Error() != nil {
		log.Error().Err(token.Error()).Msg("mqtt subscribe failed")
		return
	}
	log.Info().Str("topic", c.config.SampleTopic).Msg("subscribed")
}

func (c *Collector) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s, ok := decodeSample(msg.Payload())
	if !ok {
		c.stats.DecodeFailures.Add(1)
		return
	}
	c.stats.SamplesReceived.Add(1)

	select {
	case c.samples <- s:
	case <-c.done:
	default:
		// Queue full: drop, the detector prefers fresh data over backlog.
		c.stats.SamplesDropped.Add(1)
	}
}

// decodeSample accepts {"t":..,"acc":[x,y,z],"gyro":[x,y,z]} or the verbose
// watch export layout.
func decodeSample(payload []byte) (sample, bool) {
	var p samplePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return sample{}, false
	}

	var s sample
	switch {
	case p.T != nil:
		s.t = *p.T
	case p.TimeS != nil:
		s.t = *p.TimeS
	default:
		return sample{}, false
	}

	switch {
	case len(p.Acc) == 3 && len(p.Gyro) == 3:
		s.acc = [3]float64{p.Acc[0], p.Acc[1], p.Acc[2]}
		s.gyro = [3]float64{p.Gyro[0], p.Gyro[1], p.Gyro[2]}
	case p.UserAcceleration != nil && p.RotationRate != nil:
		s.acc = [3]float64{p.UserAcceleration.X, p.UserAcceleration.Y, p.UserAcceleration.Z}
		s.gyro = [3]float64{p.RotationRate.X, p.RotationRate.Y, p.RotationRate.Z}
	default:
		return sample{}, false
	}
	return s, true
}

// detectLoop is the single consumer of the sample queue; the streaming
// detector must never be fed concurrently.
func (c *Collector) detectLoop(ctx context.Context) error {
	for {
		select {
		case s := <-c.samples:
			ev := c.detector.ProcessSample(s.t, s.acc, s.gyro)
			score, threshold := c.detector.LastScore()
			c.buffer.PushFrame(storage.Frame{Time: s.t, Score: score, Threshold: threshold})
			if ev != nil {
				c.stats.EventsConfirmed.Add(1)
				c.buffer.PushEvent(*ev)
				c.publishEvent(*ev)
			}
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Collector) publishEvent(ev pinchsense.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	token := c.client.Publish(c.config.EventTopic, 0, false, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Warn().Err(token.Error()).Msg("event publish failed")
		}
	}()
	log.Info().Float64("time", ev.Time).Float64("score", ev.Score).Msg("pinch confirmed")
}

func (c *Collector) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			log.Info().
				Int64("samples", c.stats.SamplesReceived.Load()).
				Int64("dropped", c.stats.SamplesDropped.Load()).
				Int64("events", c.stats.EventsConfirmed.Load()).
				Int("buffer", c.buffer.Size()).
				Msg("collector stats")
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
