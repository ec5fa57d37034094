package observe

import (
	"sync"
	"time"
)

// Status is the coarse health of a host.
type Status int

const (
	Healthy Status = iota
	Degraded
	Critical
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Critical:
		return "critical"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Thresholds decide when a host stops being healthy. Rates are fractions
// of failed calls over the window.
type Thresholds struct {
	DegradedErrorRate float64
	CriticalErrorRate float64
	MaxLatency        time.Duration
	Window            int
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedErrorRate: 0.1,
		CriticalErrorRate: 0.5,
		MaxLatency:        time.Second,
		Window:            100,
	}
}

// HealthReport is a point-in-time health evaluation.
type HealthReport struct {
	Status      Status        `json:"status"`
	Calls       int           `json:"calls"`
	Errors      int           `json:"errors"`
	ErrorRate   float64       `json:"error_rate"`
	MeanLatency time.Duration `json:"mean_latency"`
	Faulted     bool          `json:"faulted"`
}

type sample struct {
	d      time.Duration
	failed bool
}

// Health evaluates recent call outcomes against thresholds.
type Health struct {
	mu      sync.Mutex
	t       Thresholds
	window  []sample
	next    int
	faulted bool
}

// NewHealth returns a tracker using t. Zero fields take their defaults.
func NewHealth(t Thresholds) *Health {
	def := DefaultThresholds()
	if t.DegradedErrorRate <= 0 {
		t.DegradedErrorRate = def.DegradedErrorRate
	}
	if t.CriticalErrorRate <= 0 {
		t.CriticalErrorRate = def.CriticalErrorRate
	}
	if t.MaxLatency <= 0 {
		t.MaxLatency = def.MaxLatency
	}
	if t.Window <= 0 {
		t.Window = def.Window
	}
	return &Health{t: t, window: make([]sample, 0, t.Window)}
}

// Record adds one call outcome.
func (h *Health) Record(d time.Duration, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := sample{d: d, failed: failed}
	if len(h.window) < h.t.Window {
		h.window = append(h.window, s)
	} else {
		h.window[h.next] = s
	}
	h.next = (h.next + 1) % h.t.Window
}

// Fault marks the host critical until Reset.
func (h *Health) Fault() {
	h.mu.Lock()
	h.faulted = true
	h.mu.Unlock()
}

// Reset clears the window and the fault flag.
func (h *Health) Reset() {
	h.mu.Lock()
	h.window = h.window[:0]
	h.next = 0
	h.faulted = false
	h.mu.Unlock()
}

// Report evaluates the current window.
func (h *Health) Report() HealthReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := HealthReport{Calls: len(h.window), Faulted: h.faulted}
	var total time.Duration
	for _, s := range h.window {
		total += s.d
		if s.failed {
			r.Errors++
		}
	}
	if r.Calls > 0 {
		r.ErrorRate = float64(r.Errors) / float64(r.Calls)
		r.MeanLatency = total / time.Duration(r.Calls)
	}

	switch {
	case h.faulted || r.ErrorRate >= h.t.CriticalErrorRate:
		r.Status = Critical
	case r.ErrorRate >= h.t.DegradedErrorRate || r.MeanLatency > h.t.MaxLatency:
		r.Status = Degraded
	default:
		r.Status = Healthy
	}
	return r
}
