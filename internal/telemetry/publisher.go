package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"robot/internal/logging"
)

const defaultPublishRate = 10.0

// Broker is where snapshots go.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}

// Snapshot is the published form of the table.
type Snapshot struct {
	Time    time.Time      `json:"time"`
	Version uint64         `json:"version"`
	Cells   map[string]any `json:"cells"`
}

// Publisher pushes table snapshots to a broker topic at a bounded rate, skipping
// snapshots when nothing changed.
type Publisher struct {
	table   *Table
	broker  Broker
	topic   string
	limiter *rate.Limiter
	logger  *logging.Logger

	published uint64
	lastSent  uint64
}

// NewPublisher limits publishing to perSecond snapshots; zero means the default.
func NewPublisher(table *Table, broker Broker, topic string, perSecond float64) *Publisher {
	if perSecond <= 0 {
		perSecond = defaultPublishRate
	}
	return &Publisher{
		table:   table,
		broker:  broker,
		topic:   topic,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logging.GetLogger("telemetry"),
	}
}

// Run publishes until ctx is done and returns nil on cancellation.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("Telemetry publisher started", "topic", p.topic, "rate", float64(p.limiter.Limit()))
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("telemetry rate limiter: %w", err)
		}
		if err := p.PublishOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("Telemetry publish failed", "error", err)
		}
	}
}

// PublishOnce sends the current snapshot if the table changed since the last send.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	version := p.table.Version()
	if version == p.lastSent {
		return nil
	}

	payload, err := json.Marshal(Snapshot{
		Time:    p.table.Updated(),
		Version: version,
		Cells:   p.table.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := p.broker.Publish(ctx, p.topic, payload, false); err != nil {
		return err
	}
	p.lastSent = version
	p.published++
	return nil
}

// Published counts snapshots sent.
func (p *Publisher) Published() uint64 { return p.published }
