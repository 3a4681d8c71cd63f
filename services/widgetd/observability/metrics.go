// Copyright (C) 2025 AI Widget Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability defines the Prometheus metrics the widget service
// exports on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	// StreamsTotal counts widget streams by terminal outcome.
	StreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aiwidget_streams_total",
		Help: "Total widget streams by outcome",
	}, []string{"outcome"}) // "completed", "waiting_for_human", "error", "rejected"

	// TokensTotal counts forwarded token events.
	TokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aiwidget_tokens_total",
		Help: "Total token events forwarded to widget clients",
	})

	// StreamDuration tracks end-to-end stream latency.
	StreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aiwidget_stream_duration_seconds",
		Help:    "Widget stream duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
	})

	// ActiveStreams tracks streams currently open.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aiwidget_active_streams",
		Help: "Widget streams currently open",
	})

	// NotificationsTotal counts Telegram notification attempts by result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aiwidget_notifications_total",
		Help: "Total Telegram notification attempts by result",
	}, []string{"result"}) // "sent", "failed"

	// ChatsClosedTotal counts chats closed by the inactivity sweeper.
	ChatsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aiwidget_chats_closed_total",
		Help: "Total chats closed for inactivity",
	})
)

// Stream outcome label values.
const (
	OutcomeCompleted       = "completed"
	OutcomeWaitingForHuman = "waiting_for_human"
	OutcomeError           = "error"
	OutcomeRejected        = "rejected"
)
