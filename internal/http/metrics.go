package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_console_scans_total",
		Help: "Scan submissions by outcome.",
	}, []string{"result"})

	sessionsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_console_sessions_closed_total",
		Help: "Sessions closed through the console.",
	})

	reportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_console_reports_total",
		Help: "Report generations by final status.",
	}, []string{"status"})

	reportProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attendance_console_report_progress",
		Help: "Progress of the most recent report generation, 0 to 100.",
	})
)
