// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tariffsync",
		Name:      "webhook_requests_total",
		Help:      "Inbound notifications by outcome (verify, ignored, duplicate, queued, rejected, failed).",
	}, []string{"outcome"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tariffsync",
		Name:      "jobs_finished_total",
		Help:      "Jobs that reached a terminal status.",
	}, []string{"status"})

	JobsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tariffsync",
		Name:      "jobs_reaped_total",
		Help:      "Processing jobs moved to error after their lease expired.",
	})

	Documents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tariffsync",
		Name:      "documents_total",
		Help:      "Attachments seen by the document pipeline by kind and outcome.",
	}, []string{"kind", "outcome"})

	PDFExtractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tariffsync",
		Name:      "pdf_extractions_total",
		Help:      "PDF text extraction results by status.",
	}, []string{"status"})

	ClassifierDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tariffsync",
		Name:      "classifier_request_seconds",
		Help:      "Latency of classifier calls.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
	})
)
