package host

import (
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/caffeineduck/atomhost/observe"
)

// Option configures a Host.
type Option func(*hostConfig)

type hostConfig struct {
	logger         *zap.Logger
	callTimeout    time.Duration
	metrics        *observe.Metrics
	tracerProvider oteltrace.TracerProvider
	eventLimit     int
	thresholds     observe.Thresholds
}

func defaultHostConfig() hostConfig {
	return hostConfig{
		logger:         zap.NewNop(),
		tracerProvider: oteltrace.NewNoopTracerProvider(),
		eventLimit:     observe.DefaultEventLimit,
		thresholds:     observe.DefaultThresholds(),
	}
}

// WithLogger sets the logger. The VM inherits it unless vm.Config names
// its own.
func WithLogger(l *zap.Logger) Option {
	return func(c *hostConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCallTimeout bounds every Execute. A call that runs past it closes
// the VM instance and faults the host. Zero means only the caller's
// context applies.
func WithCallTimeout(d time.Duration) Option {
	return func(c *hostConfig) {
		c.callTimeout = d
	}
}

// WithMetrics records loads, calls, heap and atom usage into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *hostConfig) {
		c.metrics = m
	}
}

// WithTracerProvider emits a span per load and call.
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(c *hostConfig) {
		if tp != nil {
			c.tracerProvider = tp
		}
	}
}

// WithEventLimit sets how many events the host keeps.
func WithEventLimit(n int) Option {
	return func(c *hostConfig) {
		c.eventLimit = n
	}
}

// WithHealthThresholds sets when the host reports degraded or critical.
func WithHealthThresholds(t observe.Thresholds) Option {
	return func(c *hostConfig) {
		c.thresholds = t
	}
}
