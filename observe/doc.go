// Package observe collects what a host exposes about itself: prometheus
// metrics, a bounded event log with subscribers, and a health verdict
// computed from recent call outcomes.
package observe
