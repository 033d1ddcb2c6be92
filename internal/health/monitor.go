package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Status is the last known reachability of the inference server.
type Status string

const (
	StatusChecking Status = "checking"
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Prober issues one lightweight request to the server.
type Prober interface {
	Ping(ctx context.Context) error
}

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	Meter    metric.Meter
	OnChange func(Status)
}

// Monitor polls a Prober on a fixed interval.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	onChange func(Status)
	probes   metric.Int64Counter

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(p Prober, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("health")
	}
	m := &Monitor{
		prober:   p,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		onChange: opts.OnChange,
		status:   StatusChecking,
	}
	probes, err := opts.Meter.Int64Counter("health.probes",
		metric.WithDescription("Inference server health probes by result"))
	if err != nil {
		m.logger.Warn("failed to create counter", "error", err)
	}
	m.probes = probes
	return m
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Check runs a single probe and records its outcome.
func (m *Monitor) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	next := StatusOnline
	if err := m.prober.Ping(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			// Shutting down, the server state is unknown rather than offline.
			return m.Status()
		}
		next = StatusOffline
		m.logger.Debug("health probe failed", "error", err)
	}
	if m.probes != nil {
		m.probes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(next))))
	}

	m.mu.Lock()
	prev := m.status
	m.status = next
	m.mu.Unlock()

	if prev != next {
		m.logger.Info("inference server status changed", "from", string(prev), "to", string(next))
		if m.onChange != nil {
			m.onChange(next)
		}
	}
	return next
}

// Start probes immediately and then every interval until Stop is called or
// ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
