package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AppointmentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "appointments_created_total",
		Help: "Total number of appointments created",
	})

	AppointmentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appointment_status_transitions_total",
		Help: "Total number of appointment status transitions",
	}, []string{"to"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsapp_notifications_total",
		Help: "Total number of WhatsApp notifications by kind and result",
	}, []string{"kind", "result"})

	RemindersScheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminders_scheduled_total",
		Help: "Total number of scheduled reminders created",
	})

	RemindersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reminders_cancelled_total",
		Help: "Total number of scheduled reminders cancelled",
	})

	RemindersDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_dispatched_total",
		Help: "Total number of due reminders handed to the broker",
	}, []string{"result"})

	ReminderRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reminder_delivery_retries_total",
		Help: "Total number of failed reminder deliveries by outcome",
	}, []string{"outcome"})

	SideEffectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appointment_side_effect_failures_total",
		Help: "Total number of absorbed side effect failures",
	}, []string{"effect"})

	StockDeductionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supply_stock_deductions_total",
		Help: "Total number of supply lines deducted from stock",
	})

	CommissionsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_generated_total",
		Help: "Total number of specialist commissions recorded",
	})

	InvoicesGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "invoices_generated_total",
		Help: "Total number of invoices issued",
	})

	SideEffectLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "appointment_side_effect_latency_seconds",
		Help:    "Latency of appointment side effects",
		Buckets: prometheus.DefBuckets,
	}, []string{"effect"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
