// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for mobex.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for mobex. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	// Session metrics
	SessionsActive *prometheus.GaugeVec
	SessionsTotal  *prometheus.CounterVec

	// Admission metrics
	ConnectionsDeclined *prometheus.CounterVec

	// Object metrics
	ObjectsTotal *prometheus.CounterVec
	BytesTotal   *prometheus.CounterVec

	// SRM metrics
	SRMTransitions *prometheus.CounterVec
}

// New creates a new Metrics instance registered on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mobex"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		SessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of currently open GOEP sessions",
			},
			[]string{"bearer"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of session open attempts",
			},
			[]string{"bearer", "status"},
		),
		ConnectionsDeclined: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_declined_total",
				Help:      "Total number of incoming connections declined",
			},
			[]string{"reason"},
		),
		ObjectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_total",
				Help:      "Total number of inbound OBEX objects by parse result",
			},
			[]string{"result"},
		),
		BytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_total",
				Help:      "Total number of OBEX bytes moved",
			},
			[]string{"bearer", "direction"},
		),
		SRMTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "srm_transitions_total",
				Help:      "Total number of SRM state transitions by target state",
			},
			[]string{"state"},
		),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// SessionOpened records a successful open.
func (m *Metrics) SessionOpened(bearer string) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(bearer).Inc()
	m.SessionsTotal.WithLabelValues(bearer, "success").Inc()
}

// SessionFailed records a failed open.
func (m *Metrics) SessionFailed(bearer, status string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(bearer, status).Inc()
}

// SessionClosed records the close of an opened session.
func (m *Metrics) SessionClosed(bearer string) {
	if m == nil {
		return
	}
	m.SessionsActive.WithLabelValues(bearer).Dec()
}

// ConnectionDeclined records an incoming connection refused before accept.
func (m *Metrics) ConnectionDeclined(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsDeclined.WithLabelValues(reason).Inc()
}

// Object records the parse result of one inbound object.
func (m *Metrics) Object(result string) {
	if m == nil {
		return
	}
	m.ObjectsTotal.WithLabelValues(result).Inc()
}

// BytesSent records outbound bytes.
func (m *Metrics) BytesSent(bearer string, n int) {
	if m == nil {
		return
	}
	m.BytesTotal.WithLabelValues(bearer, "out").Add(float64(n))
}

// BytesReceived records inbound bytes.
func (m *Metrics) BytesReceived(bearer string, n int) {
	if m == nil {
		return
	}
	m.BytesTotal.WithLabelValues(bearer, "in").Add(float64(n))
}

// SRMTransition records an SRM state change.
func (m *Metrics) SRMTransition(state string) {
	if m == nil {
		return
	}
	m.SRMTransitions.WithLabelValues(state).Inc()
}
