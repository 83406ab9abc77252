// Package mqtt publishes Kestrel's operational presence to an MQTT
// broker: a retained availability topic with birth and will messages,
// plus periodic state topics with daily counters fed from the event
// bus.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/kestrelworks/kestrel-agent/internal/buildinfo"
	"github.com/kestrelworks/kestrel-agent/internal/config"
	"github.com/kestrelworks/kestrel-agent/internal/events"
)

// statePublishInterval is how often sensor states are pushed.
const statePublishInterval = 60 * time.Second

// Publisher manages the MQTT connection and runs a periodic loop that
// pushes state updates to the broker.
type Publisher struct {
	cfg    config.MQTTConfig
	model  string
	stats  *DailyStats
	bus    *events.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. model names the default
// LLM model reported as a state topic. Call [Publisher.Start] to begin
// the connection and publish loop.
func New(cfg config.MQTTConfig, model string, bus *events.Bus, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:    cfg,
		model:  model,
		stats:  NewDailyStats(nil),
		bus:    bus,
		logger: logger,
	}
}

// Start connects to the MQTT broker and begins the periodic publish
// loop. It blocks until ctx is cancelled. On every (re-)connect the
// availability topic is refreshed.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "kestrel-" + p.deviceName(),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before the publish loop starts.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes an "offline" availability message before closing the
// connection. The context bounds how long to wait.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) deviceName() string {
	if p.cfg.DeviceName != "" {
		return p.cfg.DeviceName
	}
	return "Kestrel"
}

func (p *Publisher) baseTopic() string {
	if p.cfg.TopicBase != "" {
		return p.cfg.TopicBase
	}
	return "kestrel"
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/state/" + entity
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// runLoop consumes bus events into the daily counters and pushes state
// topics on a fixed interval until ctx is cancelled.
func (p *Publisher) runLoop(ctx context.Context) {
	var ch <-chan events.Event
	if p.bus != nil {
		ch = p.bus.Subscribe(64)
		defer p.bus.Unsubscribe(ch)
	}

	ticker := time.NewTicker(statePublishInterval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			p.stats.Observe(ev)
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	sessions, toolCalls, searches, lastSession := p.stats.Snapshot()

	states := map[string]string{
		"uptime":           buildinfo.Uptime().String(),
		"version":          buildinfo.Version,
		"default_model":    p.model,
		"sessions_today":   strconv.FormatInt(sessions, 10),
		"tool_calls_today": strconv.FormatInt(toolCalls, 10),
		"searches_today":   strconv.FormatInt(searches, 10),
	}
	if lastSession.IsZero() {
		states["last_session"] = "never"
	} else {
		states["last_session"] = lastSession.Format(time.RFC3339)
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt states published", "entities", len(states))
}
