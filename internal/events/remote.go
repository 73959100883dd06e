package events

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/framegate/framegate/internal/logging"
)

// RemoteConfig defines the analytics forwarder.
type RemoteConfig struct {
	URL           string
	FlushInterval time.Duration
	BatchSize     int
	Timeout       time.Duration
}

// DefaultRemoteConfig returns production-ready forwarder configuration.
func DefaultRemoteConfig(url string) RemoteConfig {
	return RemoteConfig{
		URL:           url,
		FlushInterval: 5 * time.Second,
		BatchSize:     64,
		Timeout:       10 * time.Second,
	}
}

// Remote batches events and POSTs them to an external analytics sink.
// Delivery is best-effort with retries; a slow or dead sink never blocks
// a demo session, events are dropped instead.
type Remote struct {
	cfg     RemoteConfig
	client  *retryablehttp.Client
	log     *logging.Logger
	ch      chan Event
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewRemote creates the forwarder and starts its delivery loop.
func NewRemote(cfg RemoteConfig, log *logging.Logger) *Remote {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	r := &Remote{
		cfg:     cfg,
		client:  client,
		log:     log,
		ch:      make(chan Event, 1024),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Remote) Log(_ context.Context, ev Event) {
	select {
	case r.ch <- ev:
	default:
		// Buffer full: drop rather than stall the session.
	}
}

// Close flushes pending events and stops the delivery loop. Safe to
// call more than once.
func (r *Remote) Close() {
	r.once.Do(func() { close(r.quit) })
	<-r.stopped
}

func (r *Remote) run() {
	defer close(r.stopped)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, r.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.send(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-r.ch:
			batch = append(batch, ev)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.quit:
			for {
				select {
				case ev := <-r.ch:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (r *Remote) send(batch []Event) {
	payload, err := sonic.Marshal(map[string]any{"events": batch})
	if err != nil {
		r.log.Warn("marshal event batch failed", zap.Error(err))
		return
	}

	resp, err := r.client.Post(r.cfg.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		r.log.Warn("event delivery failed",
			zap.String("url", r.cfg.URL),
			zap.Int("events", len(batch)),
			zap.Error(err),
		)
		return
	}
	resp.Body.Close()
}
