// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/runwatch/lib/clock"
	"github.com/bureau-foundation/runwatch/transport"
)

// finalAttempts bounds how many times PublishFinal retries a
// rate-limited or transient delivery.
const finalAttempts = 3

// RenderFunc produces the current report. closing selects the final
// report variant.
type RenderFunc func(ctx context.Context, closing bool) string

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Transport transport.Transport
	Render    RenderFunc
	// Interval is the period between scheduled updates.
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Publisher keeps one posted report current.
type Publisher struct {
	transport transport.Transport
	render    RenderFunc
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	refresh chan struct{}

	mutex     sync.Mutex
	handle    transport.MessageHandle
	delivered string
}

// NewPublisher validates config.
func NewPublisher(config PublisherConfig) (*Publisher, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("watch: Transport is required")
	}
	if config.Render == nil {
		return nil, fmt.Errorf("watch: Render is required")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("watch: Interval must be positive")
	}
	publisher := &Publisher{
		transport: config.Transport,
		render:    config.Render,
		interval:  config.Interval,
		clock:     config.Clock,
		logger:    config.Logger,
		refresh:   make(chan struct{}, 1),
	}
	if publisher.clock == nil {
		publisher.clock = clock.Real()
	}
	if publisher.logger == nil {
		publisher.logger = slog.Default()
	}
	return publisher, nil
}

// Refresh asks for an update as soon as possible. It never blocks;
// requests made while one is pending are merged.
func (p *Publisher) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Handle returns the posted report's handle, or "" before the first
// successful delivery.
func (p *Publisher) Handle() transport.MessageHandle {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.handle
}

// Run posts the report and updates it on every tick and refresh request
// until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	// deferred is non-nil while a rate limit is in force; ticks and
	// refreshes arriving meanwhile are folded into one update when it
	// fires.
	var deferred <-chan time.Time
	pending := false

	attempt := func() {
		if deferred != nil {
			pending = true
			return
		}
		if retryAfter := p.publish(ctx, false); retryAfter > 0 {
			deferred = p.clock.After(retryAfter)
		}
	}

	attempt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			attempt()
		case <-p.refresh:
			attempt()
		case <-deferred:
			deferred = nil
			if pending {
				pending = false
				attempt()
			}
		}
	}
}

// PublishFinal delivers the closing report, waiting out rate limits and
// retrying transient failures a few times. Call it after Run returned.
func (p *Publisher) PublishFinal(ctx context.Context) error {
	var err error
	for range finalAttempts {
		html := p.render(ctx, true)
		err = p.deliver(ctx, html)
		if err == nil || transport.KindOf(err) == transport.NotModified {
			return nil
		}
		wait := time.Second
		var delivery *transport.DeliveryError
		if errors.As(err, &delivery) {
			switch delivery.Kind {
			case transport.RateLimited:
				wait = delivery.RetryAfter
			case transport.Transient:
			default:
				return fmt.Errorf("watch: publishing closing report: %w", err)
			}
		}
		p.logger.Warn("closing report delivery failed, retrying", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return fmt.Errorf("watch: publishing closing report: %w", ctx.Err())
		case <-p.clock.After(wait):
		}
	}
	return fmt.Errorf("watch: publishing closing report: %w", err)
}

// publish renders and delivers one update. It returns the delay a rate
// limit imposes, or zero.
func (p *Publisher) publish(ctx context.Context, closing bool) time.Duration {
	html := p.render(ctx, closing)
	p.mutex.Lock()
	unchanged := p.handle != "" && html == p.delivered
	p.mutex.Unlock()
	if unchanged {
		return 0
	}

	err := p.deliver(ctx, html)
	if err == nil {
		return 0
	}
	var delivery *transport.DeliveryError
	if !errors.As(err, &delivery) {
		p.logger.Warn("report delivery failed", "error", err)
		return 0
	}
	switch delivery.Kind {
	case transport.NotModified:
		p.logger.Debug("report unchanged on server")
	case transport.RateLimited:
		p.logger.Warn("report delivery rate limited", "retry_after", delivery.RetryAfter)
		return delivery.RetryAfter
	case transport.Transient:
		p.logger.Warn("report delivery failed, retrying next update", "error", err)
	default:
		p.logger.Warn("report delivery failed", "error", err)
	}
	return 0
}

// deliver sends html as the initial report or as an update to it.
func (p *Publisher) deliver(ctx context.Context, html string) error {
	p.mutex.Lock()
	handle := p.handle
	p.mutex.Unlock()

	if handle == "" {
		newHandle, err := p.transport.SendReport(ctx, html)
		if err != nil {
			return err
		}
		p.mutex.Lock()
		p.handle = newHandle
		p.delivered = html
		p.mutex.Unlock()
		return nil
	}

	err := p.transport.UpdateReport(ctx, handle, html)
	if err == nil || transport.KindOf(err) == transport.NotModified {
		p.mutex.Lock()
		p.delivered = html
		p.mutex.Unlock()
	}
	return err
}
